// Package vision defines the Provider interface for facial expression
// analysis backends.
//
// A vision provider takes a single camera or screen frame (JPEG bytes) and
// returns the dominant facial expression with a confidence score. Providers
// are called synchronously on the ingest path; implementations should honor
// the context deadline and avoid internal retries.
//
// Implementations must be safe for concurrent use.
package vision

import "context"

// Emotion labels form a fixed taxonomy. Providers map their native label
// space onto these values; unknown native labels map to LabelNeutral.
const (
	LabelNeutral   = "neutral"
	LabelHappy     = "happy"
	LabelSad       = "sad"
	LabelAngry     = "angry"
	LabelSurprised = "surprised"
	LabelFearful   = "fearful"
	LabelDisgusted = "disgusted"
)

// Emotion is the result of analyzing one frame.
type Emotion struct {
	// Label is one of the Label* constants.
	Label string

	// Confidence is the provider's confidence in Label (0.0-1.0).
	Confidence float64
}

// Provider is the abstraction over any facial expression analysis backend.
type Provider interface {
	// Analyze inspects a single JPEG-encoded frame and returns the dominant
	// facial expression. Returns an error when the provider call fails or the
	// frame contains no detectable face; callers treat both as a skipped
	// observation, not a session failure.
	Analyze(ctx context.Context, jpeg []byte) (Emotion, error)
}
