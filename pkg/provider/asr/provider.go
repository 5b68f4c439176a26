// Package asr defines the Provider interface for streaming speech recognition
// backends.
//
// An ASR provider wraps a real-time transcription service (e.g., iFlytek RTASR
// or a local Whisper server) and exposes a uniform streaming interface. The
// central abstraction is SessionHandle: once opened, a session accepts raw PCM
// audio frames and emits Transcript values on a single results channel, with
// interim hypotheses flagged apart from committed results.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package asr

import "context"

// StreamConfig describes the audio format and recognition hints for a new ASR
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Interview audio is captured at
	// 16000 Hz mono PCM16.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most ASR
	// providers). Implementors may downmix stereo internally.
	Channels int

	// Language is the recognition language code (e.g., "zh_cn", "en_us"). An
	// empty string uses the provider default.
	Language string

	// Accent is a provider-specific accent hint (e.g., "mandarin"). Optional.
	Accent string

	// VADEndOfSpeechMS is the silence duration in milliseconds after which the
	// provider commits the current utterance as final. Zero uses the provider
	// default.
	VADEndOfSpeechMS int
}

// SessionHandle represents an open ASR streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk should match the SampleRate, Channels, and
	// bit-depth agreed in StreamConfig. Calling SendAudio after Close returns
	// an error.
	SendAudio(chunk []byte) error

	// Results returns a read-only channel that emits Transcript values as the
	// provider produces them. Interim hypotheses carry IsFinal=false and may be
	// revised; values with IsFinal=true are authoritative and should be stored
	// in the session record. The channel is closed when the session ends.
	Results() <-chan Transcript

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. After Close returns, the Results channel will be
	// closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming ASR backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per active interview participant).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle is
	// ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close when
	// done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
