// Package app wires all mockmate subsystems into a running orchestrator.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, the gateway pumps client events into it via the Handler
// interface, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithQuestionBank, WithRecorder, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mockmate-ai/mockmate/internal/config"
	"github.com/mockmate-ai/mockmate/internal/feedback"
	"github.com/mockmate-ai/mockmate/internal/gateway"
	"github.com/mockmate-ai/mockmate/internal/ingest"
	"github.com/mockmate-ai/mockmate/internal/observe"
	"github.com/mockmate-ai/mockmate/internal/persist"
	"github.com/mockmate-ai/mockmate/internal/questionbank"
	"github.com/mockmate-ai/mockmate/internal/resilience"
	"github.com/mockmate-ai/mockmate/internal/session"
	"github.com/mockmate-ai/mockmate/internal/turn"
	"github.com/mockmate-ai/mockmate/pkg/provider/asr"
	"github.com/mockmate-ai/mockmate/pkg/provider/avatar"
	"github.com/mockmate-ai/mockmate/pkg/provider/chat"
	"github.com/mockmate-ai/mockmate/pkg/provider/embeddings"
	"github.com/mockmate-ai/mockmate/pkg/provider/vision"
)

// defaultIdleRoom is how long an empty room lingers before its session is
// finalized, when the config does not say otherwise.
const defaultIdleRoom = 5 * time.Minute

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured and the dependent feature degrades. Populated by
// main.go via the config registry.
type Providers struct {
	Chat       chat.Provider
	ASR        asr.Provider
	Vision     vision.Provider
	Avatar     avatar.Provider
	Embeddings embeddings.Provider
}

// Recorder persists the final interview record.
type Recorder interface {
	SaveFinalRecord(ctx context.Context, rec persist.FinalRecord) error
}

// ReportSink caches the client-facing report for later retrieval.
type ReportSink interface {
	Put(ctx context.Context, report persist.Report) error
}

// App owns all subsystem lifetimes and orchestrates the interview pipeline.
// It implements [gateway.Handler].
type App struct {
	cfg       *config.Config
	providers *Providers

	// base scopes session background work; sessions must outlive the request
	// contexts that create them.
	base context.Context

	store    *session.Store
	hub      *gateway.Hub
	audio    *ingest.AudioIngestor
	vision   *ingest.VisionIngestor
	synth    *feedback.Synthesizer
	turns    *turn.Controller
	bank     turn.QuestionBank
	recorder Recorder
	reports  ReportSink
	metrics  *observe.Metrics
	retry    resilience.RetryConfig

	// mu guards the per-session bookkeeping below.
	mu       sync.Mutex
	feedLoop map[string]bool // session id → feedback timer running
	visLoop  map[string]bool // session id → vision poll loop running
	ending   map[string]bool // session id → finalization in flight

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

var _ gateway.Handler = (*App)(nil)

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithQuestionBank injects a question bank instead of creating one from the
// Postgres config.
func WithQuestionBank(b turn.QuestionBank) Option {
	return func(a *App) { a.bank = b }
}

// WithRecorder injects a final-record store instead of creating one from the
// Postgres config.
func WithRecorder(r Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithReportSink injects a report cache instead of creating one from the
// Redis config.
func WithReportSink(s ReportSink) Option {
	return func(a *App) { a.reports = s }
}

// WithMetrics injects a metrics set instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRetry overrides the retry policy used for model calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(a *App) { a.retry = cfg }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// ctx scopes the application: it becomes the parent of every session's
// background work and must stay alive until Shutdown.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		base:      ctx,
		feedLoop:  make(map[string]bool),
		visLoop:   make(map[string]bool),
		ending:    make(map[string]bool),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.store = session.NewStore()
	a.hub = gateway.NewHub(a.idleAfter(), a.roomIdle)

	if err := a.initQuestionBank(ctx); err != nil {
		return nil, fmt.Errorf("app: init question bank: %w", err)
	}
	if err := a.initPersistence(ctx); err != nil {
		return nil, fmt.Errorf("app: init persistence: %w", err)
	}
	a.initPipeline()

	return a, nil
}

// Hub returns the connection hub, for the gateway server and its Run loop.
func (a *App) Hub() *gateway.Hub { return a.hub }

// Store returns the session registry.
func (a *App) Store() *session.Store { return a.store }

func (a *App) idleAfter() time.Duration {
	if a.cfg != nil && a.cfg.Interview.IdleRoomSeconds > 0 {
		return time.Duration(a.cfg.Interview.IdleRoomSeconds) * time.Second
	}
	return defaultIdleRoom
}

// initQuestionBank connects the pgvector-backed question bank when Postgres
// and an embeddings provider are configured. The interview works without it;
// questions are just no longer de-duplicated across sessions.
func (a *App) initQuestionBank(ctx context.Context) error {
	if a.bank != nil {
		return nil
	}
	dsn := a.storageDSN()
	if dsn == "" || a.providers.Embeddings == nil {
		slog.Warn("question bank disabled, question deduplication is off",
			"postgres", dsn != "", "embeddings", a.providers.Embeddings != nil)
		return nil
	}

	bank, err := questionbank.New(ctx, dsn, a.providers.Embeddings)
	if err != nil {
		return err
	}
	a.bank = bank
	a.closers = append(a.closers, func() error {
		bank.Close()
		return nil
	})
	return nil
}

// initPersistence connects the final-record store and the report cache, or
// uses injected ones.
func (a *App) initPersistence(ctx context.Context) error {
	if a.recorder == nil {
		if dsn := a.storageDSN(); dsn != "" {
			store, err := persist.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.recorder = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
		} else {
			slog.Warn("final record store disabled, interview records are not persisted")
		}
	}

	if a.reports == nil && a.cfg != nil && a.cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Storage.RedisAddr,
			Password: a.cfg.Storage.RedisPassword,
			DB:       a.cfg.Storage.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		ttl := time.Duration(a.cfg.Storage.ReportTTLHours) * time.Hour
		a.reports = persist.NewReportCache(client, ttl)
		a.closers = append(a.closers, client.Close)
	}

	return nil
}

// initPipeline builds the realtime pipeline stages on top of the hub.
func (a *App) initPipeline() {
	pub := &meteredPublisher{hub: a.hub, store: a.store, metrics: a.metrics}
	a.synth = feedback.NewSynthesizer(a.store, pub)
	a.turns = turn.NewController(a.store, pub, a.bank, a.retry)

	var asrProvider asr.Provider
	if a.providers.ASR != nil {
		asrProvider = &meteredASR{
			inner:   a.providers.ASR,
			name:    a.providerName(func(p config.ProvidersConfig) string { return p.ASR.Name }, "asr"),
			metrics: a.metrics,
		}
	}
	a.audio = ingest.NewAudioIngestor(a.store, asrProvider, a.transcriptCommitted)
	a.vision = ingest.NewVisionIngestor(a.store)
}

func (a *App) storageDSN() string {
	if a.cfg == nil {
		return ""
	}
	return a.cfg.Storage.PostgresDSN
}

// providerName resolves the configured provider name for metric labels,
// falling back to the slot name when the config does not carry one.
func (a *App) providerName(pick func(config.ProvidersConfig) string, slot string) string {
	if a.cfg != nil {
		if name := pick(a.cfg.Providers); name != "" {
			return name
		}
	}
	return slot
}

// sessionServices bundles the shared providers for a new session, wrapping
// each with its metrics decorator.
func (a *App) sessionServices() session.Services {
	svcs := session.Services{Embeddings: a.providers.Embeddings}
	if a.providers.Chat != nil {
		svcs.Chat = &meteredChat{
			inner:   a.providers.Chat,
			name:    a.providerName(func(p config.ProvidersConfig) string { return p.Chat.Name }, "chat"),
			metrics: a.metrics,
		}
	}
	if a.providers.Vision != nil {
		svcs.Vision = &meteredVision{
			inner:   a.providers.Vision,
			name:    a.providerName(func(p config.ProvidersConfig) string { return p.Vision.Name }, "vision"),
			metrics: a.metrics,
		}
	}
	if a.providers.Avatar != nil {
		svcs.Avatar = &meteredAvatar{
			inner:   a.providers.Avatar,
			name:    a.providerName(func(p config.ProvidersConfig) string { return p.Avatar.Name }, "avatar"),
			metrics: a.metrics,
		}
	}
	return svcs
}

// transcriptCommitted nudges the synthesizer after each committed transcript
// so feedback tracks speech instead of waiting for the next timer tick. The
// synthesizer's cooldown does the throttling.
func (a *App) transcriptCommitted(sessionID string) {
	sess, ok := a.store.Get(sessionID)
	if !ok || sess.Ended() {
		return
	}
	a.synth.Generate(sess.Context(), sessionID)
}

// roomIdle is the hub's idle callback: an empty room past the idle window
// finalizes its session as if the client had ended it.
func (a *App) roomIdle(room string) {
	sess, ok := a.store.Get(room)
	if !ok {
		return
	}
	slog.Info("room idle, finalizing session", "session_id", room)
	a.endSession(a.base, sess)
}

// Shutdown finalizes all live sessions and tears down all subsystems in
// init order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.store.Len(), "closers", len(a.closers))

		for _, sess := range a.store.Sessions() {
			a.endSession(ctx, sess)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

