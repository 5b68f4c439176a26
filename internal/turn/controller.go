// Package turn drives the interview forward: it asks the model for the next
// question, narrates it through the avatar, acknowledges candidate answers,
// and emits nonverbal expression cues. The interview is a linear machine with
// a fixed question cap; there is never more than one turn advance in flight
// per session.
package turn

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mockmate-ai/mockmate/internal/gateway"
	"github.com/mockmate-ai/mockmate/internal/resilience"
	"github.com/mockmate-ai/mockmate/internal/session"
	"github.com/mockmate-ai/mockmate/pkg/provider/chat"
)

const (
	questionTemperature = 0.7
	questionMaxTokens   = 500
	ackTemperature      = 0.6
	ackMaxTokens        = 120

	// similarLimit caps how many near-duplicate questions the bank is asked
	// for.
	similarLimit = 3
)

// cannedAck is the acknowledgment used when the model cannot produce one.
const cannedAck = "Thank you, I've noted your answer. Let's continue."

// Publisher fans an event out to a session's room.
type Publisher interface {
	Publish(room string, env gateway.Envelope) int
}

// QuestionBank records asked questions and retrieves near-duplicates of a
// candidate question. Both operations are best-effort from the controller's
// point of view; a nil or failing bank never blocks a turn.
type QuestionBank interface {
	Similar(ctx context.Context, position, question string, limit int) ([]string, error)
	Record(ctx context.Context, position, question string) error
}

// questionReply is the JSON shape the model is asked to return for a turn.
type questionReply struct {
	Question        string `json:"question"`
	ReferenceAnswer string `json:"reference_answer"`
}

// Controller advances the interview state machine.
type Controller struct {
	store     *session.Store
	publisher Publisher
	bank      QuestionBank
	retry     resilience.RetryConfig
}

// NewController creates a [Controller]. bank may be nil.
func NewController(store *session.Store, publisher Publisher, bank QuestionBank, retry resilience.RetryConfig) *Controller {
	return &Controller{
		store:     store,
		publisher: publisher,
		bank:      bank,
		retry:     retry,
	}
}

// Advance asks the model for the next question and publishes it to the room.
// At the question cap, and while another advance for the same session is in
// flight, Advance is a no-op. A model failure publishes an error event and
// leaves the question counter unchanged.
func (c *Controller) Advance(ctx context.Context, sessionID string) {
	sess, ok := c.store.Get(sessionID)
	if !ok || sess.Ended() {
		return
	}
	if !sess.TryBeginAdvance() {
		slog.Debug("turn advance already in flight", "session_id", sessionID)
		return
	}
	defer sess.EndAdvance()

	max := sess.MaxQuestions()
	if sess.QuestionCount() >= max {
		slog.Debug("question cap reached, advance is a no-op",
			"session_id", sessionID, "max", max)
		return
	}

	if sess.Svcs.Chat == nil {
		slog.Error("no chat model bound to session, cannot advance",
			"session_id", sessionID)
		c.publisher.Publish(sessionID, gateway.ErrorEnvelope("could not generate the next question, please retry"))
		return
	}

	reply, err := c.nextQuestion(ctx, sess)
	if err != nil {
		slog.Error("next question generation failed",
			"session_id", sessionID, "error", err)
		c.publisher.Publish(sessionID, gateway.ErrorEnvelope("could not generate the next question, please retry"))
		return
	}

	rec := sess.AppendQuestion(reply.Question, reply.ReferenceAnswer)

	if c.bank != nil {
		if err := c.bank.Record(ctx, sess.Interview.Position, reply.Question); err != nil {
			slog.Warn("question bank record failed",
				"session_id", sessionID, "error", err)
		}
	}

	payload := gateway.NewQuestionPayload{
		Question: rec.Question,
		Number:   rec.Number,
		Total:    max,
		Finished: rec.Number >= max,
	}
	if sess.Svcs.Avatar != nil {
		rendering, err := sess.Svcs.Avatar.Render(ctx, rec.Question, sess.Prefs.AvatarStyle)
		if err != nil {
			slog.Warn("avatar rendering failed, delivering text only",
				"session_id", sessionID, "error", err)
			payload.Fallback = true
		} else {
			payload.StreamURL = rendering.StreamURL
			payload.StreamType = rendering.StreamType
		}
	} else {
		payload.Fallback = true
	}

	env, err := gateway.NewEnvelope(gateway.EventNewQuestion, payload)
	if err != nil {
		slog.Error("failed to build new_question event", "session_id", sessionID, "error", err)
		return
	}
	c.publisher.Publish(sessionID, env)
}

// nextQuestion generates the next question, steering the model away from
// near-duplicates found in the question bank. The bank lookup is best-effort.
func (c *Controller) nextQuestion(ctx context.Context, sess *session.Session) (*questionReply, error) {
	reply, err := c.askForQuestion(ctx, sess, nil)
	if err != nil {
		return nil, err
	}

	if c.bank == nil {
		return reply, nil
	}
	similar, err := c.bank.Similar(ctx, sess.Interview.Position, reply.Question, similarLimit)
	if err != nil {
		slog.Warn("question bank lookup failed, keeping candidate question",
			"session_id", sess.ID, "error", err)
		return reply, nil
	}
	if len(similar) == 0 {
		return reply, nil
	}

	slog.Debug("candidate question has near-duplicates, regenerating",
		"session_id", sess.ID, "duplicates", len(similar))
	regenerated, err := c.askForQuestion(ctx, sess, similar)
	if err != nil {
		// The first candidate is still usable.
		return reply, nil
	}
	return regenerated, nil
}

// askForQuestion runs one model round for the next question, retried with
// escalating deadlines.
func (c *Controller) askForQuestion(ctx context.Context, sess *session.Session, avoid []string) (*questionReply, error) {
	systemPrompt, userPrompt := buildQuestionPrompt(sess, avoid)
	messages := append(sess.History(), chat.Message{Role: chat.RoleUser, Content: userPrompt})

	resp, err := resilience.RetryWithResult(ctx, c.retry, func(ctx context.Context) (*chat.Response, error) {
		return sess.Svcs.Chat.Complete(ctx, chat.Request{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Temperature:  questionTemperature,
			MaxTokens:    questionMaxTokens,
		})
	})
	if err != nil {
		return nil, err
	}

	reply, err := parseQuestionReply(resp.Content)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// SubmitAnswer records the candidate's answer and emits a short
// acknowledgment. An ack model failure degrades to a canned phrase; the
// answer itself is always recorded.
func (c *Controller) SubmitAnswer(ctx context.Context, sessionID, text string) {
	sess, ok := c.store.Get(sessionID)
	if !ok || sess.Ended() {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	sess.AppendAnswer(text)

	ack, fallback := c.acknowledge(ctx, sess, text)
	env, err := gateway.NewEnvelope(gateway.EventAnswerAck, gateway.AnswerAckPayload{
		Text:     ack,
		Fallback: fallback,
	})
	if err != nil {
		slog.Error("failed to build answer_ack event", "session_id", sessionID, "error", err)
		return
	}
	c.publisher.Publish(sessionID, env)

	c.emitCue(ctx, sess, ack)
}

func (c *Controller) acknowledge(ctx context.Context, sess *session.Session, answer string) (string, bool) {
	if sess.Svcs.Chat == nil {
		return cannedAck, true
	}

	systemPrompt, userPrompt := buildAckPrompt(sess, answer)
	resp, err := resilience.RetryWithResult(ctx, c.retry, func(ctx context.Context) (*chat.Response, error) {
		return sess.Svcs.Chat.Complete(ctx, chat.Request{
			SystemPrompt: systemPrompt,
			Messages:     []chat.Message{{Role: chat.RoleUser, Content: userPrompt}},
			Temperature:  ackTemperature,
			MaxTokens:    ackMaxTokens,
		})
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		slog.Warn("answer acknowledgment failed, using canned phrase",
			"session_id", sess.ID, "error", err)
		return cannedAck, true
	}
	return strings.TrimSpace(resp.Content), false
}

// emitCue renders a nonverbal expression matching the acknowledgment's tone
// and publishes it when the candidate opted in.
func (c *Controller) emitCue(ctx context.Context, sess *session.Session, text string) {
	if !sess.Prefs.EmotionFeedback || sess.Svcs.Avatar == nil {
		return
	}
	kind, ok := DetectCue(text)
	if !ok {
		return
	}

	payload := gateway.EmotionFeedbackPayload{Expression: kind}
	rendering, err := sess.Svcs.Avatar.RenderExpression(ctx, kind, sess.Prefs.AvatarStyle)
	if err != nil {
		slog.Warn("expression rendering failed, sending cue without stream",
			"session_id", sess.ID, "expression", kind, "error", err)
	} else {
		payload.StreamURL = rendering.StreamURL
		payload.StreamType = rendering.StreamType
	}

	env, err := gateway.NewEnvelope(gateway.EventEmotionFeedback, payload)
	if err != nil {
		slog.Error("failed to build emotion_feedback event", "session_id", sess.ID, "error", err)
		return
	}
	c.publisher.Publish(sess.ID, env)
}

// parseQuestionReply extracts the question JSON from model output that may
// wrap it in prose.
func parseQuestionReply(content string) (*questionReply, error) {
	raw, ok := chat.ExtractObject(content)
	if !ok {
		return nil, errNoQuestion
	}
	var reply questionReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, errNoQuestion
	}
	reply.Question = strings.TrimSpace(reply.Question)
	if reply.Question == "" {
		return nil, errNoQuestion
	}
	return &reply, nil
}
