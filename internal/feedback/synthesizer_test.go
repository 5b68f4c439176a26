package feedback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mockmate-ai/mockmate/internal/gateway"
	"github.com/mockmate-ai/mockmate/internal/session"
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

func newFeedbackSession(t *testing.T, store *session.Store, model chat.Provider) *session.Session {
	t.Helper()
	sess := store.Create(context.Background(), session.InterviewConfig{
		InterviewID: "1",
		UserID:      "u1",
		Position:    "backend engineer",
		Mode:        "technical",
	}, session.Preferences{}, session.Services{Chat: model})
	t.Cleanup(func() { store.Remove(sess.ID) })
	return sess
}

func TestGenerate_ModelPath(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{
			Content: `Here is my assessment: {"speech": "Clear pace.", "behavior": "Good eye contact.", "technical": "Solid depth.", "stress": "Relaxed."}`,
		},
	}
	store := session.NewStore()
	sess := newFeedbackSession(t, store, model)
	sess.Data.Transcriptions.Add(session.TranscriptionRecord{Text: "I designed the caching layer"})

	pub := &fakePublisher{}
	s := NewSynthesizer(store, pub)
	s.Generate(context.Background(), sess.ID)

	records := sess.Data.Feedback.All()
	if len(records) != 1 {
		t.Fatalf("feedback records = %d, want 1", len(records))
	}
	rec := records[0]
	if !rec.AIGenerated {
		t.Error("record should be marked ai_generated")
	}
	if rec.Content.Speech != "Clear pace." || rec.Content.Stress != "Relaxed." {
		t.Errorf("unexpected content: %+v", rec.Content)
	}
	if !rec.DataSources.Transcript || rec.DataSources.Vision || rec.DataSources.Audio {
		t.Errorf("unexpected data sources: %+v", rec.DataSources)
	}

	// Placeholder first, then the real record.
	names := pub.names()
	if len(names) != 2 || names[0] != gateway.EventRealtimeFeedback || names[1] != gateway.EventRealtimeFeedback {
		t.Errorf("published events = %v", names)
	}
}

func TestGenerate_ModelFailureFallsBackToHeuristic(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{CompleteErr: errors.New("deadline exceeded")}
	store := session.NewStore()
	sess := newFeedbackSession(t, store, model)
	sess.Data.Transcriptions.Add(session.TranscriptionRecord{Text: "I would use a message queue"})

	pub := &fakePublisher{}
	s := NewSynthesizer(store, pub)
	s.Generate(context.Background(), sess.ID)

	records := sess.Data.Feedback.All()
	if len(records) != 1 {
		t.Fatalf("feedback records = %d, want 1", len(records))
	}
	if records[0].AIGenerated {
		t.Error("heuristic record must not be marked ai_generated")
	}
	if !strings.Contains(records[0].Content.Technical, "message queue") {
		t.Errorf("technical dimension should echo the transcript, got %q",
			records[0].Content.Technical)
	}
}

func TestGenerate_UnparseableModelOutputFallsBack(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{Content: "Sounds good, keep it up!"},
	}
	store := session.NewStore()
	sess := newFeedbackSession(t, store, model)
	sess.Data.Transcriptions.Add(session.TranscriptionRecord{Text: "some answer"})

	s := NewSynthesizer(store, &fakePublisher{})
	s.Generate(context.Background(), sess.ID)

	records := sess.Data.Feedback.All()
	if len(records) != 1 {
		t.Fatalf("feedback records = %d, want 1", len(records))
	}
	if records[0].AIGenerated {
		t.Error("unparseable output must fall back to the heuristic")
	}
}

func TestGenerate_CooldownThrottles(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{
			Content: `{"speech": "a", "behavior": "b", "technical": "c", "stress": "d"}`,
		},
	}
	store := session.NewStore()
	sess := newFeedbackSession(t, store, model)
	sess.Data.Transcriptions.Add(session.TranscriptionRecord{Text: "answer"})

	clock := time.Unix(1700000000, 0)
	s := NewSynthesizer(store, &fakePublisher{})
	s.now = func() time.Time { return clock }

	s.Generate(context.Background(), sess.ID)
	clock = clock.Add(time.Second)
	s.Generate(context.Background(), sess.ID)

	if n := sess.Data.Feedback.Len(); n != 1 {
		t.Fatalf("feedback records = %d within cooldown, want 1", n)
	}

	// At exactly the cooldown boundary generation is allowed again.
	clock = clock.Add(Cooldown - time.Second)
	s.Generate(context.Background(), sess.ID)
	if n := sess.Data.Feedback.Len(); n != 2 {
		t.Errorf("feedback records = %d after cooldown, want 2", n)
	}
}

func TestGenerate_NoObservationsSkips(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{}
	store := session.NewStore()
	sess := newFeedbackSession(t, store, model)

	pub := &fakePublisher{}
	s := NewSynthesizer(store, pub)
	s.Generate(context.Background(), sess.ID)

	if model.CompleteCallCount() != 0 {
		t.Error("model must not be called without observations")
	}
	if len(pub.names()) != 0 {
		t.Errorf("published %v without observations", pub.names())
	}
	if !sess.LastFeedbackAt().IsZero() {
		t.Error("a skipped call must not consume the cooldown")
	}
}

func TestGenerate_AbsentAndEndedSessionsAreNoOps(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	pub := &fakePublisher{}
	s := NewSynthesizer(store, pub)

	s.Generate(context.Background(), "session_x_y")

	sess := newFeedbackSession(t, store, &chatmock.Provider{})
	sess.Data.Transcriptions.Add(session.TranscriptionRecord{Text: "answer"})
	sess.End()
	s.Generate(context.Background(), sess.ID)

	if len(pub.names()) != 0 {
		t.Errorf("published %v for absent/ended sessions", pub.names())
	}
}

func TestGenerate_VisionAndAudioShapeHeuristic(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	sess := newFeedbackSession(t, store, nil)
	sess.Data.Vision.Add(session.VisionRecord{Emotion: "fearful", Confidence: 0.7})
	sess.Data.AudioAnalysis.Add(session.AudioAnalysisRecord{Summary: "quiet, active speech"})

	s := NewSynthesizer(store, &fakePublisher{})
	s.Generate(context.Background(), sess.ID)

	records := sess.Data.Feedback.All()
	if len(records) != 1 {
		t.Fatalf("feedback records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.DataSources.Transcript {
		t.Error("transcript flag set without transcript data")
	}
	if !rec.DataSources.Vision || !rec.DataSources.Audio {
		t.Errorf("unexpected data sources: %+v", rec.DataSources)
	}
	if !strings.Contains(rec.Content.Stress, "tense") {
		t.Errorf("fearful expression should shape the stress dimension, got %q", rec.Content.Stress)
	}
	if !strings.Contains(rec.Content.Speech, "quiet") {
		t.Errorf("audio summary should shape the speech dimension, got %q", rec.Content.Speech)
	}
}

func TestGenerate_PromptCarriesContext(t *testing.T) {
	t.Parallel()

	model := &chatmock.Provider{
		CompleteResponse: &chat.Response{
			Content: `{"speech": "a", "behavior": "b", "technical": "c", "stress": "d"}`,
		},
	}
	store := session.NewStore()
	sess := newFeedbackSession(t, store, model)
	sess.AppendQuestion("Explain consistent hashing.", "")
	sess.Data.Transcriptions.Add(session.TranscriptionRecord{Text: "it distributes keys"})

	s := NewSynthesizer(store, &fakePublisher{})
	s.Generate(context.Background(), sess.ID)

	req := model.LastRequest()
	if len(req.Messages) == 0 {
		t.Fatal("model was not called")
	}
	prompt := req.Messages[0].Content
	for _, want := range []string{"backend engineer", "consistent hashing", "it distributes keys"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGenerate_RecordCarriesTimestamp(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := session.NewStore()
	sess := newFeedbackSession(t, store, &chatmock.Provider{CompleteErr: errors.New("down")})
	sess.Data.Transcriptions.Add(session.TranscriptionRecord{Text: "some answer"})

	s := NewSynthesizer(store, &fakePublisher{})
	s.now = func() time.Time { return clock }
	s.Generate(context.Background(), sess.ID)

	records := sess.Data.Feedback.All()
	if len(records) != 1 {
		t.Fatalf("feedback records = %d, want 1", len(records))
	}
	if !records[0].Timestamp.Equal(clock) {
		t.Errorf("record timestamp = %v, want %v", records[0].Timestamp, clock)
	}
}
