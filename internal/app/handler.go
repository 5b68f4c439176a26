package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/mockmate-ai/mockmate/internal/feedback"
	"github.com/mockmate-ai/mockmate/internal/gateway"
	"github.com/mockmate-ai/mockmate/internal/persist"
	"github.com/mockmate-ai/mockmate/internal/session"
	"github.com/mockmate-ai/mockmate/pkg/provider/avatar"
)

// HandleEvent dispatches one decoded client event. It runs on the
// connection's read goroutine, so model-bound work is handed off to the
// session's supervised goroutines.
func (a *App) HandleEvent(ctx context.Context, c *gateway.Conn, env gateway.Envelope) {
	switch env.Event {
	case gateway.EventJoin:
		a.handleJoin(c, env)
	case gateway.EventLeave:
		a.handleLeave(c)
	case gateway.EventStartStreaming:
		a.handleStartStreaming(c)
	case gateway.EventAudioChunk:
		a.handleAudioChunk(c, env)
	case gateway.EventScreenshot:
		a.handleScreenshot(c, env)
	case gateway.EventSubmitAnswer:
		a.handleSubmitAnswer(c, env)
	case gateway.EventRequestNextQuestion:
		a.handleRequestNextQuestion(c)
	case gateway.EventEndSession:
		a.handleEndSession(c)
	default:
		c.Send(gateway.ErrorEnvelope(fmt.Sprintf("unknown event %q", env.Event)))
	}
}

// ConnectionClosed is called after the gateway has removed the connection
// from the hub. The session stays alive; the idle sweep finalizes it if
// nobody reconnects.
func (a *App) ConnectionClosed(connID string) {
	if _, ok := a.store.SessionForConnection(connID); ok {
		a.metrics.ActiveConnections.Add(context.Background(), -1)
	}
	a.store.UnbindConnection(connID)
}

func (a *App) handleJoin(c *gateway.Conn, env gateway.Envelope) {
	var p gateway.JoinPayload
	if err := env.Decode(&p); err != nil {
		c.Send(gateway.ErrorEnvelope("malformed join payload"))
		return
	}
	if p.InterviewID == "" || p.UserID == "" {
		c.Send(gateway.ErrorEnvelope("join requires interview_id and user_id"))
		return
	}

	id := session.SessionID(p.InterviewID, p.UserID)
	_, resumed := a.store.Get(id)

	cfg := session.InterviewConfig{
		InterviewID:  p.InterviewID,
		UserID:       p.UserID,
		Position:     p.Position,
		Mode:         p.Mode,
		Difficulty:   p.Difficulty,
		MaxQuestions: p.MaxQuestions,
		Vocabulary:   p.Vocabulary,
	}
	if cfg.MaxQuestions <= 0 && a.cfg != nil {
		cfg.MaxQuestions = a.cfg.Interview.MaxQuestions
	}
	prefs := session.Preferences{
		EmotionFeedback: p.EmotionFeedback,
		AvatarStyle:     avatar.Style{Character: p.AvatarCharacter, Voice: p.AvatarVoice},
		Language:        p.Language,
	}
	if prefs.Language == "" && a.cfg != nil {
		prefs.Language = a.cfg.Interview.Language
	}

	sess := a.store.Create(a.base, cfg, prefs, a.sessionServices())
	if !a.hub.Join(sess.ID, c.ID()) {
		slog.Warn("join for unregistered connection", "conn_id", c.ID(), "session_id", sess.ID)
		return
	}

	_, bound := a.store.SessionForConnection(c.ID())
	if err := a.store.BindConnection(sess.ID, c.ID()); err != nil {
		slog.Error("connection bind failed", "conn_id", c.ID(), "error", err)
		c.Send(gateway.ErrorEnvelope("could not join the interview room"))
		return
	}
	if !bound {
		a.metrics.ActiveConnections.Add(context.Background(), 1)
	}
	if !resumed {
		a.metrics.ActiveSessions.Add(context.Background(), 1)
	}

	reply, err := gateway.NewEnvelope(gateway.EventJoined, gateway.JoinedPayload{
		SessionID: sess.ID,
		Resumed:   resumed,
	})
	if err != nil {
		slog.Error("failed to build joined event", "session_id", sess.ID, "error", err)
		return
	}
	c.Send(reply)
	slog.Info("candidate joined",
		"session_id", sess.ID,
		"position", cfg.Position,
		"mode", cfg.Mode,
		"resumed", resumed,
	)
}

func (a *App) handleLeave(c *gateway.Conn) {
	sess, ok := a.store.SessionForConnection(c.ID())
	if !ok {
		return
	}
	a.hub.Leave(sess.ID, c.ID())
	a.store.UnbindConnection(c.ID())
	a.metrics.ActiveConnections.Add(context.Background(), -1)
	slog.Info("candidate left room", "session_id", sess.ID, "conn_id", c.ID())
}

func (a *App) handleStartStreaming(c *gateway.Conn) {
	sess, ok := a.sessionFor(c)
	if !ok {
		return
	}
	sess.MarkActive()
	a.startFeedbackLoop(sess)
	a.startVisionLoop(sess)

	env, err := gateway.NewEnvelope(gateway.EventStreamingStarted, nil)
	if err != nil {
		slog.Error("failed to build streaming_started event", "session_id", sess.ID, "error", err)
		return
	}
	a.hub.Publish(sess.ID, env)
}

func (a *App) handleAudioChunk(c *gateway.Conn, env gateway.Envelope) {
	sess, ok := a.sessionFor(c)
	if !ok {
		return
	}
	var p gateway.AudioChunkPayload
	if err := env.Decode(&p); err != nil {
		c.Send(gateway.ErrorEnvelope("malformed audio_chunk payload"))
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(p.Audio)
	if err != nil || len(pcm) == 0 {
		c.Send(gateway.ErrorEnvelope("audio_chunk payload is not valid base64 audio"))
		return
	}
	a.audio.SubmitChunk(sess.Context(), sess.ID, pcm, p.IsFirst)
}

func (a *App) handleScreenshot(c *gateway.Conn, env gateway.Envelope) {
	sess, ok := a.sessionFor(c)
	if !ok {
		return
	}
	var p gateway.ScreenshotPayload
	if err := env.Decode(&p); err != nil {
		c.Send(gateway.ErrorEnvelope("malformed screenshot payload"))
		return
	}
	img, err := base64.StdEncoding.DecodeString(p.Image)
	if err != nil || len(img) == 0 {
		c.Send(gateway.ErrorEnvelope("screenshot payload is not a valid base64 image"))
		return
	}
	a.vision.SubmitFrame(sess.ID, img)
	sess.Supervise(func(ctx context.Context) {
		a.vision.AnalyzePending(ctx, sess.ID)
	})
}

func (a *App) handleSubmitAnswer(c *gateway.Conn, env gateway.Envelope) {
	sess, ok := a.sessionFor(c)
	if !ok {
		return
	}
	var p gateway.SubmitAnswerPayload
	if err := env.Decode(&p); err != nil {
		c.Send(gateway.ErrorEnvelope("malformed submit_answer payload"))
		return
	}
	sess.Supervise(func(ctx context.Context) {
		a.turns.SubmitAnswer(ctx, sess.ID, p.Text)
	})
}

func (a *App) handleRequestNextQuestion(c *gateway.Conn) {
	sess, ok := a.sessionFor(c)
	if !ok {
		return
	}
	sess.Supervise(func(ctx context.Context) {
		a.turns.Advance(ctx, sess.ID)
	})
}

func (a *App) handleEndSession(c *gateway.Conn) {
	sess, ok := a.sessionFor(c)
	if !ok {
		return
	}
	// Finalization cancels the session's supervised goroutines and waits for
	// them, so it must run on a plain goroutine.
	go a.endSession(a.base, sess)
}

// sessionFor resolves the connection's bound session, telling the client when
// there is none.
func (a *App) sessionFor(c *gateway.Conn) (*session.Session, bool) {
	sess, ok := a.store.SessionForConnection(c.ID())
	if !ok {
		c.Send(gateway.ErrorEnvelope("join an interview first"))
		return nil, false
	}
	if sess.Ended() {
		c.Send(gateway.ErrorEnvelope("the interview has already ended"))
		return nil, false
	}
	return sess, true
}

// startFeedbackLoop launches the periodic feedback generator for a session.
// At most one loop runs per session; repeated start_streaming events are
// no-ops.
func (a *App) startFeedbackLoop(sess *session.Session) {
	a.mu.Lock()
	if a.feedLoop[sess.ID] {
		a.mu.Unlock()
		return
	}
	a.feedLoop[sess.ID] = true
	a.mu.Unlock()

	sess.Supervise(func(ctx context.Context) {
		ticker := time.NewTicker(feedback.TimerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.synth.Generate(ctx, sess.ID)
			}
		}
	})
}

// startVisionLoop launches the interval-paced screenshot analyzer. It retries
// frames whose analysis failed on push; like the feedback loop it starts at
// most once per session.
func (a *App) startVisionLoop(sess *session.Session) {
	a.mu.Lock()
	if a.visLoop[sess.ID] {
		a.mu.Unlock()
		return
	}
	a.visLoop[sess.ID] = true
	a.mu.Unlock()

	sess.Supervise(func(ctx context.Context) {
		a.vision.PollLoop(ctx, sess.ID, nil)
	})
}

// endSession finalizes a session: flushes pending audio, produces the final
// evaluation, persists and caches the record, announces the result to the
// room, and removes the session. It is idempotent per session.
func (a *App) endSession(ctx context.Context, sess *session.Session) {
	a.mu.Lock()
	if a.ending[sess.ID] {
		a.mu.Unlock()
		return
	}
	a.ending[sess.ID] = true
	a.mu.Unlock()

	a.audio.Flush(sess.ID)
	a.vision.Forget(sess.ID)
	a.store.End(sess.ID)

	eval := a.synth.Evaluate(ctx, sess.ID)

	rec := persist.FinalRecord{
		SessionID:   sess.ID,
		InterviewID: sess.Interview.InterviewID,
		UserID:      sess.Interview.UserID,
		Position:    sess.Interview.Position,
		Mode:        sess.Interview.Mode,
		Transcript:  sess.Questions(),
		Feedback:    sess.Data.Feedback.All(),
		EndedAt:     time.Now(),
	}
	if eval != nil {
		rec.Evaluation = *eval
	}

	if a.recorder != nil {
		if err := a.recorder.SaveFinalRecord(ctx, rec); err != nil {
			slog.Error("failed to persist final record",
				"session_id", sess.ID, "error", err)
		}
	}
	report := persist.BuildReport(rec)
	if a.reports != nil {
		if err := a.reports.Put(ctx, report); err != nil {
			slog.Warn("failed to cache report",
				"session_id", sess.ID, "error", err)
		}
	}

	env, err := gateway.NewEnvelope(gateway.EventInterviewEnded, gateway.InterviewEndedPayload{
		SessionID:     sess.ID,
		QuestionsUsed: sess.QuestionCount(),
		Report:        report,
	})
	if err != nil {
		slog.Error("failed to build interview_ended event",
			"session_id", sess.ID, "error", err)
	} else {
		a.hub.Publish(sess.ID, env)
	}

	a.hub.DropRoom(sess.ID)
	a.store.Remove(sess.ID)
	a.metrics.ActiveSessions.Add(ctx, -1)

	a.mu.Lock()
	delete(a.feedLoop, sess.ID)
	delete(a.visLoop, sess.ID)
	delete(a.ending, sess.ID)
	a.mu.Unlock()

	slog.Info("interview finalized",
		"session_id", sess.ID,
		"questions_used", len(rec.Transcript),
	)
}
