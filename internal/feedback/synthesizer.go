// Package feedback turns a session's recent observations into coaching
// feedback for the candidate: periodic four-dimension realtime feedback while
// the interview runs, and one overall evaluation when it ends.
//
// The synthesizer prefers the conversational model but never depends on it.
// When the model fails or returns something unparseable, a deterministic
// heuristic produces the record instead, so the candidate always sees
// feedback flowing.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mockmate-ai/mockmate/internal/gateway"
	"github.com/mockmate-ai/mockmate/internal/session"
	"github.com/mockmate-ai/mockmate/pkg/provider/chat"
)

// Cooldown is the minimum spacing between feedback records. Both the timer
// and the transcription event path funnel through it.
const Cooldown = 3 * time.Second

// TimerInterval is how often the per-session feedback timer fires.
const TimerInterval = 10 * time.Second

const (
	feedbackTemperature = 0.4
	feedbackMaxTokens   = 400
)

// Publisher fans an event out to a session's room.
type Publisher interface {
	Publish(room string, env gateway.Envelope) int
}

// Synthesizer generates realtime feedback and final evaluations.
type Synthesizer struct {
	store     *session.Store
	publisher Publisher
	now       func() time.Time
}

// NewSynthesizer creates a [Synthesizer].
func NewSynthesizer(store *session.Store, publisher Publisher) *Synthesizer {
	return &Synthesizer{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// Generate produces one feedback record for the session and publishes it to
// the room. Calls are throttled by [Cooldown]; throttled, absent-session, and
// no-data calls all return without effect. Generate never fails the caller:
// a model failure degrades to the heuristic path.
func (s *Synthesizer) Generate(ctx context.Context, sessionID string) {
	sess, ok := s.store.Get(sessionID)
	if !ok || sess.Ended() {
		return
	}

	now := s.now()
	if !sess.FeedbackAllowed(now, Cooldown) {
		return
	}

	transcripts := sess.Data.Transcriptions.RecentAt(now, session.TranscriptWindow)
	visionRec, hasVision := sess.Data.Vision.Latest()
	audioRec, hasAudio := sess.Data.AudioAnalysis.Latest()
	if len(transcripts) == 0 && !hasVision && !hasAudio {
		return
	}

	if sess.PlaceholderOnce() {
		env, _ := gateway.NewEnvelope(gateway.EventRealtimeFeedback, session.FeedbackRecord{
			Content:   FeedbackContentPlaceholder(),
			Timestamp: now,
		})
		s.publisher.Publish(sessionID, env)
	}

	var lines []string
	for _, t := range transcripts {
		lines = append(lines, t.Text)
	}
	spoken := strings.Join(lines, " ")

	content, aiGenerated := s.synthesize(ctx, sess, spoken, visionRec, hasVision, audioRec, hasAudio)

	rec := session.FeedbackRecord{
		Content:     content,
		AIGenerated: aiGenerated,
		DataSources: session.DataSources{
			Transcript: len(transcripts) > 0,
			Vision:     hasVision,
			Audio:      hasAudio,
		},
		Timestamp: now,
	}
	sess.Data.Feedback.Add(rec)
	sess.MarkFeedback(now)

	env, err := gateway.NewEnvelope(gateway.EventRealtimeFeedback, rec)
	if err != nil {
		slog.Error("failed to build feedback event", "session_id", sessionID, "error", err)
		return
	}
	s.publisher.Publish(sessionID, env)
}

// synthesize asks the model for four-dimension feedback and falls back to the
// heuristic when the model fails or the answer cannot be parsed.
func (s *Synthesizer) synthesize(ctx context.Context, sess *session.Session, spoken string, visionRec session.VisionRecord, hasVision bool, audioRec session.AudioAnalysisRecord, hasAudio bool) (session.FeedbackContent, bool) {
	if sess.Svcs.Chat == nil {
		return heuristicContent(spoken, visionRec, hasVision, audioRec, hasAudio), false
	}

	systemPrompt, userPrompt := buildFeedbackPrompt(sess, spoken, visionRec, hasVision, audioRec, hasAudio)
	resp, err := sess.Svcs.Chat.Complete(ctx, chat.Request{
		SystemPrompt: systemPrompt,
		Messages:     []chat.Message{{Role: chat.RoleUser, Content: userPrompt}},
		Temperature:  feedbackTemperature,
		MaxTokens:    feedbackMaxTokens,
	})
	if err != nil {
		slog.Warn("feedback model call failed, using heuristic",
			"session_id", sess.ID, "error", err)
		return heuristicContent(spoken, visionRec, hasVision, audioRec, hasAudio), false
	}

	raw, ok := chat.ExtractObject(resp.Content)
	if !ok {
		slog.Warn("feedback response contained no JSON object, using heuristic",
			"session_id", sess.ID)
		return heuristicContent(spoken, visionRec, hasVision, audioRec, hasAudio), false
	}
	var content session.FeedbackContent
	if err := json.Unmarshal(raw, &content); err != nil || content == (session.FeedbackContent{}) {
		slog.Warn("feedback response JSON did not match the expected shape, using heuristic",
			"session_id", sess.ID)
		return heuristicContent(spoken, visionRec, hasVision, audioRec, hasAudio), false
	}
	return content, true
}

// FeedbackContentPlaceholder is the one-time notice shown before the first
// real record.
func FeedbackContentPlaceholder() session.FeedbackContent {
	return session.FeedbackContent{
		Speech:    "Analysis in progress...",
		Behavior:  "Analysis in progress...",
		Technical: "Analysis in progress...",
		Stress:    "Analysis in progress...",
	}
}

// heuristicContent builds deterministic feedback from whatever observations
// exist. The technical dimension echoes the candidate's own words so the
// record still reflects this answer rather than generic advice.
func heuristicContent(spoken string, visionRec session.VisionRecord, hasVision bool, audioRec session.AudioAnalysisRecord, hasAudio bool) session.FeedbackContent {
	content := session.FeedbackContent{
		Speech:    "Keep a steady pace and finish your sentences.",
		Behavior:  "Stay engaged with the interviewer.",
		Technical: "Keep going, structure your answer step by step.",
		Stress:    "You appear composed.",
	}

	if hasAudio {
		content.Speech = fmt.Sprintf("Delivery: %s.", audioRec.Summary)
	}
	if hasVision {
		content.Behavior = fmt.Sprintf("You look %s on camera.", visionRec.Emotion)
		switch visionRec.Emotion {
		case "fearful", "sad":
			content.Stress = "Take a breath and slow down; you seem tense."
		case "happy", "neutral":
			content.Stress = "You appear composed."
		}
	}
	if spoken != "" {
		content.Technical = fmt.Sprintf("Noted so far: %q. Add concrete examples to strengthen it.", truncate(spoken, 120))
	}
	return content
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
