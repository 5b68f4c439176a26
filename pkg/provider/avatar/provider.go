// Package avatar defines the Provider interface for interviewer avatar
// rendering backends.
//
// An avatar provider turns interviewer text into a playable video stream of a
// virtual interviewer speaking it, and renders short expression clips (a nod,
// a frown) used as nonverbal feedback. Rendering is best-effort: the turn
// flow degrades to text-only when a provider call fails, so implementations
// should fail fast rather than retry internally.
package avatar

import "context"

// Stream types for a Rendering.
const (
	// StreamTypeHTTP is a plain progressive video URL the client plays
	// directly.
	StreamTypeHTTP = "http"

	// StreamTypeXRTC is a low-latency interactive stream negotiated over the
	// provider's realtime channel.
	StreamTypeXRTC = "xrtc"
)

// Expression kinds for RenderExpression.
const (
	// ExpressionNod is an approving nod, triggered by encouraging feedback.
	ExpressionNod = "nod"

	// ExpressionFrown is a mild frown, triggered by critical feedback.
	ExpressionFrown = "frown"

	// ExpressionTimer is a glance at the clock, triggered by pacing feedback.
	ExpressionTimer = "timer"
)

// Style selects the avatar character and voice for a rendering.
type Style struct {
	// Character is the provider-specific avatar identifier.
	Character string

	// Voice is the provider-specific voice identifier.
	Voice string
}

// Rendering describes a playable avatar stream.
type Rendering struct {
	// StreamURL is where the client fetches or joins the stream.
	StreamURL string

	// StreamType is one of StreamTypeHTTP or StreamTypeXRTC.
	StreamType string
}

// Provider is the abstraction over any avatar rendering backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Render produces an avatar stream speaking the given text. Returns an
	// error when the backend cannot produce a stream; callers fall back to
	// text-only delivery.
	Render(ctx context.Context, text string, style Style) (*Rendering, error)

	// RenderExpression produces a short expression clip of the given kind
	// (one of the Expression* constants). Same failure semantics as Render.
	RenderExpression(ctx context.Context, kind string, style Style) (*Rendering, error)
}
