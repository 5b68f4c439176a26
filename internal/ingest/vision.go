package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mockmate-ai/mockmate/internal/session"
)

// defaultPollInterval is how often the poll loop captures a frame.
const defaultPollInterval = 10 * time.Second

// Grabber captures one JPEG frame from the candidate's camera or screen
// share. Returning an empty frame with nil error means nothing was available
// this cycle.
type Grabber interface {
	Grab(ctx context.Context) ([]byte, error)
}

// GrabberFunc adapts a function to the [Grabber] interface.
type GrabberFunc func(ctx context.Context) ([]byte, error)

func (f GrabberFunc) Grab(ctx context.Context) ([]byte, error) { return f(ctx) }

// frameSlot holds the most recent client-pushed frame for one session. seq
// advances on every push; done records the last successfully analyzed seq, so
// a frame whose analysis failed stays pending for the next poll cycle.
type frameSlot struct {
	data []byte
	seq  uint64
	done uint64
}

// VisionIngestor pushes facial-expression observations into session buffers.
type VisionIngestor struct {
	store    *session.Store
	interval time.Duration

	mu     sync.Mutex
	frames map[string]*frameSlot

	warnNoVision sync.Once
}

// NewVisionIngestor creates a [VisionIngestor] with the default poll interval.
func NewVisionIngestor(store *session.Store) *VisionIngestor {
	return &VisionIngestor{
		store:    store,
		interval: defaultPollInterval,
		frames:   make(map[string]*frameSlot),
	}
}

// SubmitFrame stores jpeg as the session's latest frame. Only the newest
// frame is kept; analysis happens through [VisionIngestor.AnalyzePending] or
// the poll loop.
func (v *VisionIngestor) SubmitFrame(sessionID string, jpeg []byte) {
	if len(jpeg) == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	slot, ok := v.frames[sessionID]
	if !ok {
		slot = &frameSlot{}
		v.frames[sessionID] = slot
	}
	slot.data = jpeg
	slot.seq++
}

// Forget drops the stored frame state for a session. Called at session end.
func (v *VisionIngestor) Forget(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.frames, sessionID)
}

// pendingFrame returns the latest frame not yet analyzed, if any.
func (v *VisionIngestor) pendingFrame(sessionID string) ([]byte, uint64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	slot, ok := v.frames[sessionID]
	if !ok || slot.seq == slot.done {
		return nil, 0, false
	}
	return slot.data, slot.seq, true
}

// markAnalyzed records that the frame at seq was analyzed.
func (v *VisionIngestor) markAnalyzed(sessionID string, seq uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if slot, ok := v.frames[sessionID]; ok && seq > slot.done {
		slot.done = seq
	}
}

// AnalyzeScreenshot runs the emotion analyzer on one frame and appends the
// observation. Provider failures are logged and skipped; a missed observation
// never surfaces to the client.
func (v *VisionIngestor) AnalyzeScreenshot(ctx context.Context, sessionID string, jpeg []byte) {
	v.analyze(ctx, sessionID, jpeg)
}

// AnalyzePending analyzes the session's latest pushed frame if it has not
// been analyzed yet. A provider failure leaves the frame pending, so the next
// poll cycle naturally retries it.
func (v *VisionIngestor) AnalyzePending(ctx context.Context, sessionID string) {
	frame, seq, ok := v.pendingFrame(sessionID)
	if !ok {
		return
	}
	if v.analyze(ctx, sessionID, frame) {
		v.markAnalyzed(sessionID, seq)
	}
}

// analyze reports whether the frame was consumed. Absent sessions, empty
// frames, and a missing provider all consume the frame without a record;
// only a provider error leaves it for a retry.
func (v *VisionIngestor) analyze(ctx context.Context, sessionID string, jpeg []byte) bool {
	sess, ok := v.store.Get(sessionID)
	if !ok {
		slog.Debug("screenshot for unknown session dropped", "session_id", sessionID)
		return true
	}
	if sess.Ended() || len(jpeg) == 0 {
		return true
	}
	if sess.Svcs.Vision == nil {
		v.warnNoVision.Do(func() {
			slog.Warn("no vision provider configured, dropping screenshots",
				"session_id", sessionID)
		})
		return true
	}

	emotion, err := sess.Svcs.Vision.Analyze(ctx, jpeg)
	if err != nil {
		slog.Warn("emotion analysis failed, skipping frame",
			"session_id", sessionID, "error", err)
		return false
	}

	sess.Data.Vision.Add(session.VisionRecord{
		Emotion:    emotion.Label,
		Confidence: emotion.Confidence,
		FrameBytes: len(jpeg),
		Timestamp:  time.Now(),
	})
	return true
}

// PollLoop analyzes a frame on every tick until the session ends or ctx is
// cancelled. With a nil grabber each tick takes the latest pending
// client-pushed frame; otherwise the grabber supplies the frame. Run it under
// the session's supervision.
func (v *VisionIngestor) PollLoop(ctx context.Context, sessionID string, grabber Grabber) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess, ok := v.store.Get(sessionID)
			if !ok || sess.Ended() {
				return
			}
			if grabber == nil {
				v.AnalyzePending(ctx, sessionID)
				continue
			}
			frame, err := grabber.Grab(ctx)
			if err != nil {
				slog.Debug("frame capture failed",
					"session_id", sessionID, "error", err)
				continue
			}
			if len(frame) == 0 {
				continue
			}
			v.AnalyzeScreenshot(ctx, sessionID, frame)
		}
	}
}
