package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mockmate-ai/mockmate/internal/gateway"
	"github.com/mockmate-ai/mockmate/internal/resilience"
	"github.com/mockmate-ai/mockmate/internal/session"
	"github.com/mockmate-ai/mockmate/pkg/provider/avatar"
	avatarmock "github.com/mockmate-ai/mockmate/pkg/provider/avatar/mock"
	"github.com/mockmate-ai/mockmate/pkg/provider/chat"
	chatmock "github.com/mockmate-ai/mockmate/pkg/provider/chat/mock"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []gateway.Envelope
}

func (p *fakePublisher) Publish(_ string, env gateway.Envelope) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return 1
}

func (p *fakePublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Event)
	}
	return out
}

func (p *fakePublisher) last() (gateway.Envelope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return gateway.Envelope{}, false
	}
	return p.events[len(p.events)-1], true
}

type fakeBank struct {
	mu          sync.Mutex
	similar     []string
	similarErr  error
	recordErr   error
	recorded    []string
	similarSeen []string
}

func (b *fakeBank) Similar(_ context.Context, _ string, question string, _ int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.similarSeen = append(b.similarSeen, question)
	return b.similar, b.similarErr
}

func (b *fakeBank) Record(_ context.Context, _ string, question string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorded = append(b.recorded, question)
	return b.recordErr
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		Attempts:    1,
		BaseTimeout: time.Second,
		TimeoutStep: time.Second,
		Backoff:     time.Millisecond,
	}
}

func questionJSON(q string) string {
	return `{"question": "` + q + `", "reference_answer": "a model answer"}`
}

func newTurnSession(t *testing.T, store *session.Store, model chat.Provider, av avatar.Provider, maxQuestions int) *session.Session {
	t.Helper()
	sess := store.Create(context.Background(), session.InterviewConfig{
		InterviewID:  "1",
		UserID:       "u1",
		Position:     "backend engineer",
		MaxQuestions: maxQuestions,
	}, session.Preferences{EmotionFeedback: true}, session.Services{Chat: model, Avatar: av})
	t.Cleanup(func() { store.Remove(sess.ID) })
	return sess
}

func TestAdvance_PublishesQuestionWithRendering(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{Content: questionJSON("What is a goroutine?")},
	}
	av := &avatarmock.Provider{
		Rendering: &avatar.Rendering{StreamURL: "https://cdn/q1.mp4", StreamType: avatar.StreamTypeHTTP},
	}
	bank := &fakeBank{}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, av, 10)

	pub := &fakePublisher{}
	c := NewController(store, pub, bank, fastRetry())
	c.Advance(context.Background(), sess.ID)

	if sess.QuestionCount() != 1 {
		t.Fatalf("question count = %d, want 1", sess.QuestionCount())
	}
	if sess.CurrentQuestion() != "What is a goroutine?" {
		t.Errorf("current question = %q", sess.CurrentQuestion())
	}

	env, ok := pub.last()
	if !ok || env.Event != gateway.EventNewQuestion {
		t.Fatalf("expected new_question event, got %v", pub.names())
	}
	var payload gateway.NewQuestionPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Number != 1 || payload.Total != 10 || payload.Finished {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if payload.StreamURL != "https://cdn/q1.mp4" || payload.Fallback {
		t.Errorf("rendering not carried: %+v", payload)
	}
	if len(bank.recorded) != 1 || bank.recorded[0] != "What is a goroutine?" {
		t.Errorf("bank recorded %v", bank.recorded)
	}
}

func TestAdvance_ModelFailurePublishesErrorAndKeepsCounter(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{CompleteErr: errors.New("deadline exceeded")}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, nil, 10)

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())
	c.Advance(context.Background(), sess.ID)

	if sess.QuestionCount() != 0 {
		t.Errorf("question count = %d after model failure, want 0", sess.QuestionCount())
	}
	names := pub.names()
	if len(names) != 1 || names[0] != gateway.EventError {
		t.Errorf("published %v, want [error]", names)
	}
}

func TestAdvance_NoOpAtQuestionCap(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{Content: questionJSON("next question")},
	}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, nil, 2)

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())
	c.Advance(context.Background(), sess.ID)
	c.Advance(context.Background(), sess.ID)
	c.Advance(context.Background(), sess.ID)

	if sess.QuestionCount() != 2 {
		t.Errorf("question count = %d, want 2 (cap)", sess.QuestionCount())
	}
	if n := len(pub.names()); n != 2 {
		t.Errorf("published %d events, want 2", n)
	}

	// The second question carries the finished flag.
	env, _ := pub.last()
	var payload gateway.NewQuestionPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if !payload.Finished {
		t.Error("final question should carry finished=true")
	}
}

func TestAdvance_SingleInFlightPerSession(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{Content: questionJSON("q")},
	}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, nil, 10)

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())

	// Another advance holds the slot.
	if !sess.TryBeginAdvance() {
		t.Fatal("could not claim advance slot")
	}
	c.Advance(context.Background(), sess.ID)
	sess.EndAdvance()

	if sess.QuestionCount() != 0 {
		t.Errorf("concurrent advance must be a no-op, count = %d", sess.QuestionCount())
	}
	if model.CompleteCallCount() != 0 {
		t.Error("model must not be called while another advance is in flight")
	}
}

func TestAdvance_AvatarFailureDegradesToTextOnly(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{Content: questionJSON("q")},
	}
	av := &avatarmock.Provider{RenderErr: errors.New("render backend down")}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, av, 10)

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())
	c.Advance(context.Background(), sess.ID)

	env, ok := pub.last()
	if !ok || env.Event != gateway.EventNewQuestion {
		t.Fatalf("expected new_question despite avatar failure, got %v", pub.names())
	}
	var payload gateway.NewQuestionPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if !payload.Fallback || payload.StreamURL != "" {
		t.Errorf("expected text-only fallback, got %+v", payload)
	}
	if sess.QuestionCount() != 1 {
		t.Error("avatar failure must not lose the question")
	}
}

func TestAdvance_RegeneratesNearDuplicates(t *testing.T) {
	t.Parallel()

	var calls int
	model := &chatmock.Provider{
		CompleteFunc: func(_ context.Context, _ chat.Request) (*chat.Response, error) {
			calls++
			if calls == 1 {
				return &chat.Response{Content: questionJSON("Tell me about REST APIs")}, nil
			}
			return &chat.Response{Content: questionJSON("How do you version a public API?")}, nil
		},
	}
	bank := &fakeBank{similar: []string{"Explain REST API design"}}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, nil, 10)

	c := NewController(store, &fakePublisher{}, bank, fastRetry())
	c.Advance(context.Background(), sess.ID)

	if sess.CurrentQuestion() != "How do you version a public API?" {
		t.Errorf("expected the regenerated question, got %q", sess.CurrentQuestion())
	}
	if len(bank.similarSeen) != 1 || bank.similarSeen[0] != "Tell me about REST APIs" {
		t.Errorf("bank consulted with %v", bank.similarSeen)
	}

	// The regeneration prompt names the duplicates to avoid.
	req := model.LastRequest()
	prompt := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(prompt, "Explain REST API design") {
		t.Errorf("avoid list missing from prompt:\n%s", prompt)
	}
}

func TestAdvance_BankFailureKeepsCandidate(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{Content: questionJSON("q1")},
	}
	bank := &fakeBank{similarErr: errors.New("pg down"), recordErr: errors.New("pg down")}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, nil, 10)

	pub := &fakePublisher{}
	c := NewController(store, pub, bank, fastRetry())
	c.Advance(context.Background(), sess.ID)

	if sess.QuestionCount() != 1 {
		t.Errorf("bank failure must not block the turn, count = %d", sess.QuestionCount())
	}
	names := pub.names()
	if len(names) != 1 || names[0] != gateway.EventNewQuestion {
		t.Errorf("published %v, want [new_question]", names)
	}
}

func TestSubmitAnswer_RecordsAndAcks(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{Content: "Thanks, that covers the essentials."},
	}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, nil, 10)
	sess.AppendQuestion("Explain goroutines.", "")

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())
	c.SubmitAnswer(context.Background(), sess.ID, "They are lightweight threads.")

	questions := sess.Questions()
	if questions[0].Answer != "They are lightweight threads." {
		t.Errorf("answer not recorded: %+v", questions[0])
	}

	env, ok := pub.last()
	if !ok || env.Event != gateway.EventAnswerAck {
		t.Fatalf("expected answer_ack, got %v", pub.names())
	}
	var payload gateway.AnswerAckPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Text != "Thanks, that covers the essentials." || payload.Fallback {
		t.Errorf("unexpected ack: %+v", payload)
	}
}

func TestSubmitAnswer_AckFailureUsesCannedPhrase(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{CompleteErr: errors.New("overloaded")}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, nil, 10)
	sess.AppendQuestion("Q1", "")

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())
	c.SubmitAnswer(context.Background(), sess.ID, "my answer")

	env, ok := pub.last()
	if !ok || env.Event != gateway.EventAnswerAck {
		t.Fatalf("expected answer_ack, got %v", pub.names())
	}
	var payload gateway.AnswerAckPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Text != cannedAck || !payload.Fallback {
		t.Errorf("expected canned fallback ack, got %+v", payload)
	}
	if sess.Questions()[0].Answer != "my answer" {
		t.Error("ack failure must not lose the answer")
	}
}

func TestSubmitAnswer_EmitsEmotionCue(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{Content: "Excellent explanation, well structured."},
	}
	av := &avatarmock.Provider{
		Rendering: &avatar.Rendering{StreamURL: "https://cdn/nod.mp4", StreamType: avatar.StreamTypeHTTP},
	}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, av, 10)
	sess.AppendQuestion("Q1", "")

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())
	c.SubmitAnswer(context.Background(), sess.ID, "answer")

	names := pub.names()
	if len(names) != 2 || names[1] != gateway.EventEmotionFeedback {
		t.Fatalf("published %v, want [answer_ack emotion_feedback]", names)
	}
	env, _ := pub.last()
	var payload gateway.EmotionFeedbackPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Expression != avatar.ExpressionNod {
		t.Errorf("expression = %q, want nod", payload.Expression)
	}
	if payload.StreamURL != "https://cdn/nod.mp4" {
		t.Errorf("stream url = %q", payload.StreamURL)
	}
	if av.RenderExpressionCallCount() != 1 {
		t.Errorf("RenderExpression calls = %d, want 1", av.RenderExpressionCallCount())
	}
}

func TestSubmitAnswer_CueSuppressedWhenOptedOut(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{Content: "Excellent work."},
	}
	av := &avatarmock.Provider{}
	store := session.NewStore()
	sess := store.Create(context.Background(), session.InterviewConfig{
		InterviewID: "2", UserID: "u2", Position: "backend engineer",
	}, session.Preferences{EmotionFeedback: false}, session.Services{Chat: model, Avatar: av})
	t.Cleanup(func() { store.Remove(sess.ID) })
	sess.AppendQuestion("Q1", "")

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())
	c.SubmitAnswer(context.Background(), sess.ID, "answer")

	for _, name := range pub.names() {
		if name == gateway.EventEmotionFeedback {
			t.Fatal("emotion_feedback published despite opt-out")
		}
	}
	if av.RenderExpressionCallCount() != 0 {
		t.Error("RenderExpression must not be called when opted out")
	}
}

func TestSubmitAnswer_EndedAndEmptyAreNoOps(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{}
	store := session.NewStore()
	sess := newTurnSession(t, store, model, nil, 10)
	sess.AppendQuestion("Q1", "")

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())

	c.SubmitAnswer(context.Background(), sess.ID, "   ")
	sess.End()
	c.SubmitAnswer(context.Background(), sess.ID, "late answer")

	if len(pub.names()) != 0 {
		t.Errorf("published %v, want none", pub.names())
	}
	if sess.Questions()[0].Answer != "" {
		t.Error("answers must not be recorded after End")
	}
}

func TestAdvance_NoChatModelPublishesError(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	sess := newTurnSession(t, store, nil, nil, 10)

	pub := &fakePublisher{}
	c := NewController(store, pub, nil, fastRetry())
	c.Advance(context.Background(), sess.ID)

	env, ok := pub.last()
	if !ok || env.Event != gateway.EventError {
		t.Fatalf("expected error event, got %v", pub.names())
	}
	if sess.QuestionCount() != 0 {
		t.Errorf("question count = %d, want 0", sess.QuestionCount())
	}
}
