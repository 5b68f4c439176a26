package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mockmate-ai/mockmate/pkg/provider/chat"
)

const (
	evaluationTemperature = 0.3
	evaluationMaxTokens   = 600
)

// Evaluation is the end-of-interview assessment persisted with the session
// record.
type Evaluation struct {
	// Scores maps the four feedback dimensions to a 0-100 score.
	Scores map[string]int `json:"scores"`

	// Summary is a short paragraph addressed to the candidate.
	Summary string `json:"summary"`

	// AIGenerated is false when the model was unavailable and the neutral
	// fallback evaluation was used.
	AIGenerated bool `json:"ai_generated"`
}

// Evaluate produces the final evaluation for a session from its full
// question/answer history. Like Generate it never fails: a model failure
// yields the neutral fallback evaluation.
func (s *Synthesizer) Evaluate(ctx context.Context, sessionID string) *Evaluation {
	sess, ok := s.store.Get(sessionID)
	if !ok {
		return fallbackEvaluation(0)
	}
	answered := 0
	questions := sess.Questions()
	for _, q := range questions {
		if q.Answer != "" {
			answered++
		}
	}

	if sess.Svcs.Chat == nil || len(questions) == 0 {
		return fallbackEvaluation(answered)
	}

	systemPrompt, userPrompt := buildEvaluationPrompt(sess)
	resp, err := sess.Svcs.Chat.Complete(ctx, chat.Request{
		SystemPrompt: systemPrompt,
		Messages:     []chat.Message{{Role: chat.RoleUser, Content: userPrompt}},
		Temperature:  evaluationTemperature,
		MaxTokens:    evaluationMaxTokens,
	})
	if err != nil {
		slog.Warn("evaluation model call failed, using fallback",
			"session_id", sessionID, "error", err)
		return fallbackEvaluation(answered)
	}

	raw, ok := chat.ExtractObject(resp.Content)
	if !ok {
		slog.Warn("evaluation response contained no JSON object, using fallback",
			"session_id", sessionID)
		return fallbackEvaluation(answered)
	}
	var eval Evaluation
	if err := json.Unmarshal(raw, &eval); err != nil || len(eval.Scores) == 0 {
		slog.Warn("evaluation response JSON did not match the expected shape, using fallback",
			"session_id", sessionID)
		return fallbackEvaluation(answered)
	}
	eval.AIGenerated = true
	return &eval
}

// fallbackEvaluation is the neutral evaluation used when the model cannot
// provide one. Scores sit at the midpoint so the report stays plausible.
func fallbackEvaluation(answered int) *Evaluation {
	return &Evaluation{
		Scores: map[string]int{
			"speech":    60,
			"behavior":  60,
			"technical": 60,
			"stress":    60,
		},
		Summary: fmt.Sprintf(
			"You completed %d answers in this session. A detailed evaluation could not be generated; review the realtime feedback above for specifics.",
			answered),
		AIGenerated: false,
	}
}
