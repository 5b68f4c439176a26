package config_test

import (
	"testing"

	"github.com/mockmate-ai/mockmate/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			Chat: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
		Interview: config.InterviewConfig{MaxQuestions: 8},
	}
	d := config.Diff(cfg, cfg)
	if d.Any() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.ServerChanged {
		t.Error("a pure log level change should not flag ServerChanged")
	}
}

func TestDiff_ServerChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{ListenAddr: ":8080"}}
	new := &config.Config{Server: config.ServerConfig{ListenAddr: ":9090"}}

	d := config.Diff(old, new)
	if !d.ServerChanged {
		t.Error("expected ServerChanged=true")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
}

func TestDiff_ProvidersChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		Chat: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		Chat: config.ProviderEntry{Name: "openai", Model: "gpt-4o"},
	}}

	d := config.Diff(old, new)
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true")
	}
	if d.StorageChanged || d.InterviewChanged {
		t.Error("unrelated sections should not be flagged")
	}
}

func TestDiff_FallbackListChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		Chat: config.ProviderEntry{Name: "openai"},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		Chat:          config.ProviderEntry{Name: "openai"},
		ChatFallbacks: []config.ProviderEntry{{Name: "ollama"}},
	}}

	d := config.Diff(old, new)
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true when a fallback is added")
	}
}

func TestDiff_StorageChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Storage: config.StorageConfig{RedisAddr: "localhost:6379"}}
	new := &config.Config{Storage: config.StorageConfig{RedisAddr: "redis:6379"}}

	d := config.Diff(old, new)
	if !d.StorageChanged {
		t.Error("expected StorageChanged=true")
	}
}

func TestDiff_InterviewChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Interview: config.InterviewConfig{MaxQuestions: 8}}
	new := &config.Config{Interview: config.InterviewConfig{MaxQuestions: 12}}

	d := config.Diff(old, new)
	if !d.InterviewChanged {
		t.Error("expected InterviewChanged=true")
	}
	if d.ProvidersChanged || d.ServerChanged {
		t.Error("unrelated sections should not be flagged")
	}
}

func TestDiff_NilConfigs(t *testing.T) {
	t.Parallel()
	d := config.Diff(nil, &config.Config{Interview: config.InterviewConfig{MaxQuestions: 5}})
	if !d.InterviewChanged {
		t.Error("expected InterviewChanged=true against nil old config")
	}

	if d := config.Diff(nil, nil); d.Any() {
		t.Errorf("nil-to-nil diff should be empty, got %+v", d)
	}
}
