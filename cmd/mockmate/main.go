// Command mockmate is the main entry point for the mockmate interview server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mockmate-ai/mockmate/internal/app"
	"github.com/mockmate-ai/mockmate/internal/config"
	"github.com/mockmate-ai/mockmate/internal/gateway"
	"github.com/mockmate-ai/mockmate/internal/health"
	"github.com/mockmate-ai/mockmate/internal/observe"
	"github.com/mockmate-ai/mockmate/internal/persist"
	"github.com/mockmate-ai/mockmate/internal/resilience"
	"github.com/mockmate-ai/mockmate/pkg/provider/asr"
	asrxfyun "github.com/mockmate-ai/mockmate/pkg/provider/asr/xfyun"
	"github.com/mockmate-ai/mockmate/pkg/provider/avatar"
	"github.com/mockmate-ai/mockmate/pkg/provider/avatar/xrtc"
	"github.com/mockmate-ai/mockmate/pkg/provider/chat"
	chatanyllm "github.com/mockmate-ai/mockmate/pkg/provider/chat/anyllm"
	chatopenai "github.com/mockmate-ai/mockmate/pkg/provider/chat/openai"
	"github.com/mockmate-ai/mockmate/pkg/provider/embeddings"
	ollamaembed "github.com/mockmate-ai/mockmate/pkg/provider/embeddings/ollama"
	oaembed "github.com/mockmate-ai/mockmate/pkg/provider/embeddings/openai"
	"github.com/mockmate-ai/mockmate/pkg/provider/vision"
	visionxfyun "github.com/mockmate-ai/mockmate/pkg/provider/vision/xfyun"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mockmate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mockmate: %v\n", err)
		}
		return 1
	}

	// The level var lets the config watcher retune logging without a restart.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("mockmate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	// The default metrics set binds to the global meter provider installed by
	// InitProvider, so it must be created after it.
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	var (
		opts     []app.Option
		checkers []health.Checker
	)
	opts = append(opts, app.WithMetrics(metrics))

	if cfg.Storage.PostgresDSN != "" {
		store, err := persist.NewStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect final record store", "err", err)
			return 1
		}
		defer store.Close()
		opts = append(opts, app.WithRecorder(store))
		checkers = append(checkers, health.Database(store.Pool()))
	}

	if cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect redis", "addr", cfg.Storage.RedisAddr, "err", err)
			return 1
		}
		defer client.Close()
		ttl := time.Duration(cfg.Storage.ReportTTLHours) * time.Hour
		opts = append(opts, app.WithReportSink(persist.NewReportCache(client, ttl)))
		checkers = append(checkers, health.Redis(client))
	}

	for _, pc := range []struct {
		name       string
		configured bool
	}{
		{"chat:" + cfg.Providers.Chat.Name, providers.Chat != nil},
		{"asr:" + cfg.Providers.ASR.Name, providers.ASR != nil},
		{"vision:" + cfg.Providers.Vision.Name, providers.Vision != nil},
		{"avatar:" + cfg.Providers.Avatar.Name, providers.Avatar != nil},
	} {
		if pc.configured {
			checkers = append(checkers, health.Provider(pc.name, nil))
		}
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.ServerChanged || diff.ProvidersChanged || diff.StorageChanged || diff.InterviewChanged {
			slog.Warn("config sections changed that need a restart to apply",
				"server", diff.ServerChanged,
				"providers", diff.ProvidersChanged,
				"storage", diff.StorageChanged,
				"interview", diff.InterviewChanged,
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/ws", gateway.NewServer(application.Hub(), application, gateway.ServerConfig{
		OriginPatterns: cfg.Server.OriginPatterns,
	}))

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		application.Hub().Run(runCtx)
		return nil
	})
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("server ready", "addr", cfg.Server.ListenAddr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Chat ──────────────────────────────────────────────────────────────────
	// The openai entry uses the official SDK; the other hosted providers go
	// through any-llm with the same APIKey + BaseURL pattern.
	reg.RegisterChat("openai", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []chatopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, chatopenai.WithBaseURL(entry.BaseURL))
		}
		return chatopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterChat(providerName, func(entry config.ProviderEntry) (chat.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return chatanyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterChat("ollama", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return chatanyllm.NewOllama(entry.Model, opts...)
	})

	// ── ASR ───────────────────────────────────────────────────────────────────
	reg.RegisterASR("xfyun", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []asrxfyun.Option
		if entry.BaseURL != "" {
			opts = append(opts, asrxfyun.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, asrxfyun.WithLanguage(lang))
		}
		if accent := optString(entry.Options, "accent"); accent != "" {
			opts = append(opts, asrxfyun.WithAccent(accent))
		}
		return asrxfyun.New(entry.AppID, entry.APIKey, entry.APISecret, opts...)
	})

	// ── Vision ────────────────────────────────────────────────────────────────
	reg.RegisterVision("xfyun", func(entry config.ProviderEntry) (vision.Provider, error) {
		var opts []visionxfyun.Option
		if entry.BaseURL != "" {
			opts = append(opts, visionxfyun.WithEndpoint(entry.BaseURL))
		}
		return visionxfyun.New(entry.AppID, entry.APIKey, opts...)
	})

	// ── Avatar ────────────────────────────────────────────────────────────────
	reg.RegisterAvatar("xrtc", func(entry config.ProviderEntry) (avatar.Provider, error) {
		var opts []xrtc.Option
		if optBool(entry.Options, "realtime_disabled") {
			opts = append(opts, xrtc.WithRealtimeDisabled())
		}
		return xrtc.New(entry.BaseURL, optString(entry.Options, "ws_base_url"), entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. The chat provider is wrapped with retry, breaker, and fallback
// handling when fallbacks are configured.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := reg.CreateChat(cfg.Providers.Chat)
	if err != nil {
		return nil, fmt.Errorf("create chat provider %q: %w", cfg.Providers.Chat.Name, err)
	}
	slog.Info("provider created", "kind", "chat", "name", cfg.Providers.Chat.Name)

	if len(cfg.Providers.ChatFallbacks) > 0 {
		fallback := resilience.NewChatFallback(cfg.Providers.Chat.Name, primary,
			resilience.RetryConfig{}, resilience.BreakerConfig{Name: cfg.Providers.Chat.Name})
		for _, entry := range cfg.Providers.ChatFallbacks {
			p, err := reg.CreateChat(entry)
			if err != nil {
				return nil, fmt.Errorf("create chat fallback %q: %w", entry.Name, err)
			}
			fallback.Add(entry.Name, p)
			slog.Info("provider created", "kind", "chat_fallback", "name", entry.Name)
		}
		ps.Chat = fallback
	} else {
		ps.Chat = primary
	}

	if name := cfg.Providers.ASR.Name; name != "" {
		p, err := reg.CreateASR(cfg.Providers.ASR)
		if err != nil {
			return nil, fmt.Errorf("create asr provider %q: %w", name, err)
		}
		ps.ASR = p
		slog.Info("provider created", "kind", "asr", "name", name)
	}

	if name := cfg.Providers.Vision.Name; name != "" {
		p, err := reg.CreateVision(cfg.Providers.Vision)
		if err != nil {
			return nil, fmt.Errorf("create vision provider %q: %w", name, err)
		}
		ps.Vision = p
		slog.Info("provider created", "kind", "vision", "name", name)
	}

	if name := cfg.Providers.Avatar.Name; name != "" {
		p, err := reg.CreateAvatar(cfg.Providers.Avatar)
		if err != nil {
			return nil, fmt.Errorf("create avatar provider %q: %w", name, err)
		}
		ps.Avatar = p
		slog.Info("provider created", "kind", "avatar", "name", name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func optBool(opts map[string]any, key string) bool {
	v, ok := opts[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
