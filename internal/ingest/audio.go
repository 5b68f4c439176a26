// Package ingest feeds raw client media into session state: PCM audio chunks
// go to the streaming transcriber and the audio-quality heuristic, screenshots
// go to the emotion analyzer. Both paths drop input for absent or ended
// sessions without error; by the time a frame arrives the session may already
// be gone, and that is not the client's problem.
package ingest

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mockmate-ai/mockmate/internal/session"
	"github.com/mockmate-ai/mockmate/internal/transcript"
	"github.com/mockmate-ai/mockmate/pkg/provider/asr"
)

// pendingCap bounds the frames queued while the transcriber connection is
// being established. Overflow drops the oldest frame.
const pendingCap = 256

// AudioIngestor routes audio chunks into per-session transcription streams.
// The stream is opened lazily on the first chunk; chunks arriving during the
// handshake are queued and replayed once the stream is up.
type AudioIngestor struct {
	store    *session.Store
	provider asr.Provider

	// onFinal is invoked after a final transcript is buffered, driving the
	// event-based feedback path. May be nil.
	onFinal func(sessionID string)

	mu          sync.Mutex
	pending     map[string][][]byte
	dialing     map[string]bool
	normalizers map[string]*transcript.Normalizer

	warnNoASR sync.Once
}

// NewAudioIngestor creates an [AudioIngestor]. onFinal may be nil.
func NewAudioIngestor(store *session.Store, provider asr.Provider, onFinal func(sessionID string)) *AudioIngestor {
	return &AudioIngestor{
		store:       store,
		provider:    provider,
		onFinal:     onFinal,
		pending:     make(map[string][][]byte),
		dialing:     make(map[string]bool),
		normalizers: make(map[string]*transcript.Normalizer),
	}
}

// SubmitChunk feeds one PCM16 frame into the session's pipeline. Chunks for
// absent or ended sessions are dropped silently. isFirst marks the start of a
// client-side stream; if a transcriber is already open it is replaced.
func (a *AudioIngestor) SubmitChunk(ctx context.Context, sessionID string, pcm []byte, isFirst bool) {
	sess, ok := a.store.Get(sessionID)
	if !ok {
		slog.Debug("audio chunk for unknown session dropped", "session_id", sessionID)
		return
	}
	if sess.Ended() || len(pcm) == 0 {
		return
	}

	sess.Data.AudioAnalysis.Add(analyzeChunk(pcm))

	// The quality heuristic above needs no provider; transcription does.
	if a.provider == nil {
		a.warnNoASR.Do(func() {
			slog.Warn("no transcription provider configured, dropping audio",
				"session_id", sessionID)
		})
		return
	}

	if isFirst {
		if old := sess.SetTranscriber(nil); old != nil {
			_ = old.Close()
		}
	}

	if h := sess.Transcriber(); h != nil {
		if err := h.SendAudio(pcm); err != nil {
			slog.Warn("transcriber rejected audio, reopening on next chunk",
				"session_id", sessionID, "error", err)
			if old := sess.SetTranscriber(nil); old != nil {
				_ = old.Close()
			}
		}
		return
	}

	a.enqueue(sessionID, pcm)
	a.ensureStream(sess)
}

// enqueue holds a frame until the stream handshake finishes, dropping the
// oldest frame past the cap.
func (a *AudioIngestor) enqueue(sessionID string, pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := a.pending[sessionID]
	if len(q) >= pendingCap {
		q = q[1:]
		slog.Warn("pending audio queue full, dropping oldest frame",
			"session_id", sessionID)
	}
	a.pending[sessionID] = append(q, pcm)
}

// ensureStream opens the transcription stream once per session; concurrent
// callers during the handshake only queue.
func (a *AudioIngestor) ensureStream(sess *session.Session) {
	a.mu.Lock()
	if a.dialing[sess.ID] {
		a.mu.Unlock()
		return
	}
	a.dialing[sess.ID] = true
	a.mu.Unlock()

	sess.Supervise(func(ctx context.Context) {
		a.openStream(ctx, sess)
	})
}

func (a *AudioIngestor) openStream(ctx context.Context, sess *session.Session) {
	defer func() {
		a.mu.Lock()
		delete(a.dialing, sess.ID)
		a.mu.Unlock()
	}()

	handle, err := a.provider.StartStream(ctx, asr.StreamConfig{
		Language: sess.Prefs.Language,
	})
	if err != nil {
		slog.Error("failed to open transcription stream",
			"session_id", sess.ID, "error", err)
		a.mu.Lock()
		delete(a.pending, sess.ID)
		a.mu.Unlock()
		return
	}

	if old := sess.SetTranscriber(handle); old != nil {
		_ = old.Close()
	}

	// Replay everything that queued up during the handshake.
	a.mu.Lock()
	queued := a.pending[sess.ID]
	delete(a.pending, sess.ID)
	a.mu.Unlock()
	for _, frame := range queued {
		if err := handle.SendAudio(frame); err != nil {
			slog.Warn("failed to replay queued audio",
				"session_id", sess.ID, "error", err)
			break
		}
	}

	sess.Supervise(func(ctx context.Context) {
		a.pumpResults(ctx, sess, handle)
	})
}

// pumpResults drains final transcripts into the session buffer and fires the
// feedback trigger. Interim results are ignored.
func (a *AudioIngestor) pumpResults(ctx context.Context, sess *session.Session, handle asr.SessionHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-handle.Results():
			if !ok {
				return
			}
			if !t.IsFinal || t.Text == "" {
				continue
			}
			if sess.Ended() {
				continue
			}

			text := t.Text
			if n := a.normalizer(sess); n != nil {
				var corrections []transcript.Correction
				text, corrections = n.Normalize(text)
				if len(corrections) > 0 {
					slog.Debug("normalized transcript jargon",
						"session_id", sess.ID, "corrections", len(corrections))
				}
			}

			sess.Data.Transcriptions.Add(session.TranscriptionRecord{
				Text:       text,
				Confidence: t.Confidence,
				Timestamp:  time.Now(),
			})
			if a.onFinal != nil {
				a.onFinal(sess.ID)
			}
		}
	}
}

// normalizer lazily builds the per-session jargon normalizer from the
// interview vocabulary. Sessions without a vocabulary get none.
func (a *AudioIngestor) normalizer(sess *session.Session) *transcript.Normalizer {
	if len(sess.Interview.Vocabulary) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.normalizers[sess.ID]
	if !ok {
		n = transcript.New(sess.Interview.Vocabulary)
		a.normalizers[sess.ID] = n
	}
	return n
}

// Flush sends the end-of-stream frame, closes the transcriber handle, and
// forgets per-session ingest state. Safe to call for absent sessions.
func (a *AudioIngestor) Flush(sessionID string) {
	a.mu.Lock()
	delete(a.pending, sessionID)
	delete(a.normalizers, sessionID)
	a.mu.Unlock()

	sess, ok := a.store.Get(sessionID)
	if !ok {
		return
	}
	if h := sess.SetTranscriber(nil); h != nil {
		_ = h.Close()
	}
}

// analyzeChunk computes a delivery-quality estimate from one PCM16 little-
// endian frame: RMS volume, zero-crossing density as a speech-rate proxy, and
// the share of samples above the noise floor as clarity.
func analyzeChunk(pcm []byte) session.AudioAnalysisRecord {
	samples := len(pcm) / 2
	if samples == 0 {
		return session.AudioAnalysisRecord{Summary: "no audio"}
	}

	const noiseFloor = 500
	var (
		sumSquares float64
		crossings  int
		active     int
		prev       int16
	)
	for i := 0; i < samples; i++ {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		sumSquares += float64(s) * float64(s)
		if s > noiseFloor || s < -noiseFloor {
			active++
		}
		if i > 0 && (s >= 0) != (prev >= 0) {
			crossings++
		}
		prev = s
	}

	volume := math.Sqrt(sumSquares/float64(samples)) / 32768
	rate := float64(crossings) / float64(samples)
	clarity := float64(active) / float64(samples)

	return session.AudioAnalysisRecord{
		VolumeLevel: volume,
		SpeechRate:  rate,
		Clarity:     clarity,
		Summary:     describeAudio(volume, clarity),
	}
}

func describeAudio(volume, clarity float64) string {
	var level string
	switch {
	case volume < 0.02:
		level = "very quiet"
	case volume < 0.1:
		level = "quiet"
	case volume < 0.4:
		level = "normal volume"
	default:
		level = "loud"
	}
	if clarity < 0.2 {
		return level + ", mostly silence"
	}
	return level + ", active speech"
}
