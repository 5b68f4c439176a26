package asr

import "time"

// Transcript represents a speech recognition result from an ASR provider.
// Both interim and final results use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a committed result or an interim
	// hypothesis that may still be revised.
	IsFinal bool

	// Confidence is the overall confidence score (0.0-1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}
