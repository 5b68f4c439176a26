package turn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mockmate-ai/mockmate/internal/session"
)

// errNoQuestion is returned when the model's reply contained no usable
// question JSON.
var errNoQuestion = errors.New("turn: model reply contained no question")

// buildQuestionPrompt assembles the next-question prompt. The conversation
// history travels as chat messages; the user prompt carries the constraints.
func buildQuestionPrompt(sess *session.Session, avoid []string) (string, string) {
	systemPrompt := fmt.Sprintf(
		"You are a professional interviewer running a %s mock interview for the position of %s. "+
			"Ask one question at a time, building on the candidate's previous answers. "+
			"Respond with a single JSON object and nothing else: "+
			`{"question": ..., "reference_answer": ...}. `+
			"The reference_answer is a concise model answer used later for evaluation, never shown to the candidate.",
		orDefault(sess.Interview.Mode, "technical"),
		orDefault(sess.Interview.Position, "software engineer"),
	)

	var b strings.Builder
	asked := sess.QuestionCount()
	fmt.Fprintf(&b, "Ask interview question %d of %d.\n", asked+1, sess.MaxQuestions())
	if sess.Interview.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s.\n", sess.Interview.Difficulty)
	}
	if len(avoid) > 0 {
		b.WriteString("These questions were already asked in earlier sessions; ask something clearly different:\n")
		for _, q := range avoid {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return systemPrompt, b.String()
}

// buildAckPrompt assembles the short-acknowledgment prompt sent after an
// answer.
func buildAckPrompt(sess *session.Session, answer string) (string, string) {
	systemPrompt := "You are a professional interviewer. Reply with one or two short sentences " +
		"acknowledging the candidate's answer in a neutral, encouraging tone. " +
		"Do not evaluate correctness in detail and do not ask the next question."

	var b strings.Builder
	if q := sess.CurrentQuestion(); q != "" {
		fmt.Fprintf(&b, "Question: %s\n", q)
	}
	fmt.Fprintf(&b, "Candidate's answer: %s", answer)
	return systemPrompt, b.String()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
