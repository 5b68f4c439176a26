// Package persist writes the final outcome of an interview session to
// PostgreSQL and caches the rendered report in Redis for the result UI.
//
// Nothing in this package runs on the realtime path: the gateway assembles a
// [FinalRecord] once at session end and hands it off here.
package persist

import (
	"time"

	"github.com/mockmate-ai/mockmate/internal/feedback"
	"github.com/mockmate-ai/mockmate/internal/session"
)

// FinalRecord is everything retained about a finished session.
type FinalRecord struct {
	SessionID   string
	InterviewID string
	UserID      string
	Position    string
	Mode        string

	// Transcript is the full question/answer history in asking order.
	Transcript []session.QuestionRecord

	// Feedback is every realtime feedback record emitted during the session,
	// oldest first.
	Feedback []session.FeedbackRecord

	// Evaluation is the end-of-session overall evaluation.
	Evaluation feedback.Evaluation

	EndedAt time.Time
}

// Report is the client-facing rendering of a [FinalRecord]. It is what the
// interview_ended event carries and what the Redis cache stores.
type Report struct {
	SessionID     string                   `json:"session_id"`
	InterviewID   string                   `json:"interview_id"`
	Position      string                   `json:"position"`
	Mode          string                   `json:"mode"`
	QuestionsUsed int                      `json:"questions_used"`
	Scores        map[string]int           `json:"scores"`
	Summary       string                   `json:"summary"`
	AIGenerated   bool                     `json:"ai_generated"`
	Transcript    []session.QuestionRecord `json:"transcript"`
	EndedAt       time.Time                `json:"ended_at"`
}

// BuildReport renders rec for clients. Feedback records stay server-side;
// the report carries the transcript and the overall evaluation only.
func BuildReport(rec FinalRecord) Report {
	return Report{
		SessionID:     rec.SessionID,
		InterviewID:   rec.InterviewID,
		Position:      rec.Position,
		Mode:          rec.Mode,
		QuestionsUsed: len(rec.Transcript),
		Scores:        rec.Evaluation.Scores,
		Summary:       rec.Evaluation.Summary,
		AIGenerated:   rec.Evaluation.AIGenerated,
		Transcript:    rec.Transcript,
		EndedAt:       rec.EndedAt,
	}
}
