package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"chat":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"asr":        {"xfyun"},
	"vision":     {"xfyun"},
	"avatar":     {"xrtc"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Suspicious but workable settings log a warning instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("chat", cfg.Providers.Chat.Name)
	for _, e := range cfg.Providers.ChatFallbacks {
		validateProviderName("chat", e.Name)
	}
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)
	validateProviderName("avatar", cfg.Providers.Avatar.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Provider availability
	if cfg.Providers.Chat.Name == "" {
		errs = append(errs, errors.New("providers.chat is required; questions and feedback need a chat model"))
	}
	for i, e := range cfg.Providers.ChatFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.chat_fallbacks[%d].name is required", i))
		}
	}
	if cfg.Providers.ASR.Name == "" {
		slog.Warn("providers.asr is empty; audio streaming will be unavailable")
	}
	if cfg.Providers.Vision.Name == "" {
		slog.Warn("providers.vision is empty; expression analysis will be unavailable")
	}
	if cfg.Providers.Avatar.Name == "" {
		slog.Warn("providers.avatar is empty; questions will be delivered as text only")
	}

	// xfyun streaming ASR signs with app_id + api_key + api_secret; the
	// expression API only needs app_id + api_key.
	if e := cfg.Providers.ASR; e.Name == "xfyun" && (e.AppID == "" || e.APIKey == "" || e.APISecret == "") {
		errs = append(errs, fmt.Errorf("providers.asr: xfyun requires app_id, api_key, and api_secret"))
	}
	if e := cfg.Providers.Vision; e.Name == "xfyun" && (e.AppID == "" || e.APIKey == "") {
		errs = append(errs, fmt.Errorf("providers.vision: xfyun requires app_id and api_key"))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; interview records and the question bank will not be persisted")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.PostgresDSN == "" {
		slog.Warn("providers.embeddings is configured but storage.postgres_dsn is empty; the question bank needs PostgreSQL")
	}
	if cfg.Storage.RedisAddr == "" {
		slog.Warn("storage.redis_addr is empty; reports will be served from PostgreSQL only")
	}
	if cfg.Storage.ReportTTLHours < 0 {
		errs = append(errs, fmt.Errorf("storage.report_ttl_hours %d must not be negative", cfg.Storage.ReportTTLHours))
	}

	// Interview defaults
	if cfg.Interview.MaxQuestions < 0 {
		errs = append(errs, fmt.Errorf("interview.max_questions %d must not be negative", cfg.Interview.MaxQuestions))
	}
	if cfg.Interview.IdleRoomSeconds < 0 {
		errs = append(errs, fmt.Errorf("interview.idle_room_seconds %d must not be negative", cfg.Interview.IdleRoomSeconds))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
