package feedback

import (
	"fmt"
	"strings"

	"github.com/mockmate-ai/mockmate/internal/session"
)

// buildFeedbackPrompt assembles the realtime feedback prompt. The system
// prompt pins the output contract; the user prompt carries the observations.
func buildFeedbackPrompt(sess *session.Session, spoken string, visionRec session.VisionRecord, hasVision bool, audioRec session.AudioAnalysisRecord, hasAudio bool) (string, string) {
	systemPrompt := "You are an interview coach observing a live mock interview. " +
		"Respond with a single JSON object and nothing else, using exactly these string fields: " +
		`{"speech": ..., "behavior": ..., "technical": ..., "stress": ...}. ` +
		"Each field is one or two short sentences of actionable feedback addressed to the candidate."

	var b strings.Builder
	fmt.Fprintf(&b, "Position: %s\n", sess.Interview.Position)
	if sess.Interview.Mode != "" {
		fmt.Fprintf(&b, "Interview mode: %s\n", sess.Interview.Mode)
	}
	if q := sess.CurrentQuestion(); q != "" {
		fmt.Fprintf(&b, "Current question: %s\n", q)
	}
	if spoken != "" {
		fmt.Fprintf(&b, "Candidate said (last 30s): %s\n", spoken)
	}
	if hasVision {
		fmt.Fprintf(&b, "Facial expression: %s (confidence %.2f)\n",
			visionRec.Emotion, visionRec.Confidence)
	}
	if hasAudio {
		fmt.Fprintf(&b, "Audio delivery: %s (volume %.2f, clarity %.2f)\n",
			audioRec.Summary, audioRec.VolumeLevel, audioRec.Clarity)
	}
	b.WriteString("Give the candidate feedback on their speech delivery, on-camera behavior, technical content, and stress level.")

	return systemPrompt, b.String()
}

// buildEvaluationPrompt assembles the end-of-interview evaluation prompt from
// the full question/answer history.
func buildEvaluationPrompt(sess *session.Session) (string, string) {
	systemPrompt := "You are a hiring panel member writing the final evaluation of a mock interview. " +
		"Respond with a single JSON object and nothing else: " +
		`{"scores": {"speech": 0-100, "behavior": 0-100, "technical": 0-100, "stress": 0-100}, "summary": ...}. ` +
		"The summary is a short paragraph addressed to the candidate."

	var b strings.Builder
	fmt.Fprintf(&b, "Position: %s\n", sess.Interview.Position)
	if sess.Interview.Mode != "" {
		fmt.Fprintf(&b, "Interview mode: %s\n", sess.Interview.Mode)
	}
	b.WriteString("Transcript of the interview:\n")
	for _, q := range sess.Questions() {
		fmt.Fprintf(&b, "Q%d: %s\n", q.Number, q.Question)
		if q.Answer != "" {
			fmt.Fprintf(&b, "A%d: %s\n", q.Number, q.Answer)
		} else {
			fmt.Fprintf(&b, "A%d: (no answer given)\n", q.Number)
		}
	}
	b.WriteString("Evaluate the candidate's overall performance.")

	return systemPrompt, b.String()
}
