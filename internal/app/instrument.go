package app

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/mockmate-ai/mockmate/internal/gateway"
	"github.com/mockmate-ai/mockmate/internal/observe"
	"github.com/mockmate-ai/mockmate/internal/session"
	"github.com/mockmate-ai/mockmate/pkg/provider/asr"
	"github.com/mockmate-ai/mockmate/pkg/provider/avatar"
	"github.com/mockmate-ai/mockmate/pkg/provider/chat"
	"github.com/mockmate-ai/mockmate/pkg/provider/vision"
)

// Provider status values for the request counter.
const (
	statusOK    = "ok"
	statusError = "error"
)

// meteredChat decorates a chat provider with latency and outcome metrics.
type meteredChat struct {
	inner   chat.Provider
	name    string
	metrics *observe.Metrics
}

var _ chat.Provider = (*meteredChat)(nil)

func (p *meteredChat) Complete(ctx context.Context, req chat.Request) (*chat.Response, error) {
	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	recordProviderCall(ctx, p.metrics, p.metrics.ChatDuration, p.name, "chat", start, err)
	return resp, err
}

// meteredVision decorates a vision provider.
type meteredVision struct {
	inner   vision.Provider
	name    string
	metrics *observe.Metrics
}

var _ vision.Provider = (*meteredVision)(nil)

func (p *meteredVision) Analyze(ctx context.Context, jpeg []byte) (vision.Emotion, error) {
	start := time.Now()
	emotion, err := p.inner.Analyze(ctx, jpeg)
	recordProviderCall(ctx, p.metrics, p.metrics.VisionDuration, p.name, "vision", start, err)
	return emotion, err
}

// meteredAvatar decorates an avatar provider.
type meteredAvatar struct {
	inner   avatar.Provider
	name    string
	metrics *observe.Metrics
}

var _ avatar.Provider = (*meteredAvatar)(nil)

func (p *meteredAvatar) Render(ctx context.Context, text string, style avatar.Style) (*avatar.Rendering, error) {
	start := time.Now()
	rendering, err := p.inner.Render(ctx, text, style)
	recordProviderCall(ctx, p.metrics, p.metrics.AvatarDuration, p.name, "avatar", start, err)
	return rendering, err
}

func (p *meteredAvatar) RenderExpression(ctx context.Context, kind string, style avatar.Style) (*avatar.Rendering, error) {
	start := time.Now()
	rendering, err := p.inner.RenderExpression(ctx, kind, style)
	recordProviderCall(ctx, p.metrics, p.metrics.AvatarDuration, p.name, "avatar", start, err)
	return rendering, err
}

// meteredASR decorates an ASR provider. The histogram measures session
// establishment; per-utterance latency is the provider's own concern.
type meteredASR struct {
	inner   asr.Provider
	name    string
	metrics *observe.Metrics
}

var _ asr.Provider = (*meteredASR)(nil)

func (p *meteredASR) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	start := time.Now()
	handle, err := p.inner.StartStream(ctx, cfg)
	recordProviderCall(ctx, p.metrics, p.metrics.ASRDuration, p.name, "asr", start, err)
	return handle, err
}

func recordProviderCall(ctx context.Context, m *observe.Metrics, hist metric.Float64Histogram, name, kind string, start time.Time, err error) {
	hist.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", name)))
	status := statusOK
	if err != nil {
		status = statusError
		m.RecordProviderError(ctx, name, kind)
	}
	m.RecordProviderRequest(ctx, name, kind, status)
}

// meteredPublisher wraps the hub and counts the domain events flowing through
// it. Rooms are keyed by session id, so the session lookup resolves the
// interview mode for the question counter.
type meteredPublisher struct {
	hub     *gateway.Hub
	store   *session.Store
	metrics *observe.Metrics
}

func (p *meteredPublisher) Publish(room string, env gateway.Envelope) int {
	switch env.Event {
	case gateway.EventNewQuestion:
		mode := ""
		if sess, ok := p.store.Get(room); ok {
			mode = sess.Interview.Mode
		}
		p.metrics.RecordQuestionAsked(context.Background(), mode)
	case gateway.EventRealtimeFeedback:
		p.metrics.RecordFeedbackEvent(context.Background(), feedbackSource(env.Data))
	}
	return p.hub.Publish(room, env)
}

// feedbackSource classifies a realtime_feedback payload for the event counter.
func feedbackSource(data json.RawMessage) string {
	var rec session.FeedbackRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "heuristic"
	}
	if rec.AIGenerated {
		return "model"
	}
	ds := rec.DataSources
	if !ds.Transcript && !ds.Vision && !ds.Audio {
		return "placeholder"
	}
	return "heuristic"
}
