// Package session holds the in-memory state of live interview sessions: the
// session aggregate, its bounded rolling buffers of realtime observations,
// and the registry that maps session and connection ids to aggregates.
//
// A session is created when a candidate joins an interview room and removed
// when the room is torn down. Between those points every producer in the
// pipeline (gateway readers, the transcript pump, the vision poll loop, the
// feedback timer) reads and writes session state; the aggregate serializes
// those mutations with a per-session mutex so cross-session operations never
// contend.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/mockmate-ai/mockmate/pkg/provider/asr"
	"github.com/mockmate-ai/mockmate/pkg/provider/avatar"
	"github.com/mockmate-ai/mockmate/pkg/provider/chat"
	"github.com/mockmate-ai/mockmate/pkg/provider/embeddings"
	"github.com/mockmate-ai/mockmate/pkg/provider/vision"
)

// Buffer caps and read windows. Caps bound worst-case memory per session;
// windows bound how far back the synthesizer looks.
const (
	TranscriptionCap = 50
	VisionCap        = 20
	AudioAnalysisCap = 20
	FeedbackCap      = 20

	TranscriptWindow = 30 * time.Second
	AnalysisWindow   = 60 * time.Second
)

// Status is the lifecycle state of a session. Transitions are strictly
// created → active → ended.
type Status string

const (
	StatusCreated Status = "created"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// InterviewConfig describes the interview a session runs.
type InterviewConfig struct {
	// InterviewID identifies the interview definition.
	InterviewID string

	// UserID identifies the candidate.
	UserID string

	// Position is the job position being interviewed for (e.g., "backend
	// engineer"). Drives question generation and the jargon vocabulary.
	Position string

	// Mode selects the interview style (e.g., "technical", "behavioral").
	Mode string

	// Difficulty is a free-form difficulty hint passed to the model.
	Difficulty string

	// MaxQuestions caps the number of questions asked. Zero uses the
	// default of 10.
	MaxQuestions int

	// Vocabulary lists position-specific terms used to normalize ASR output.
	Vocabulary []string
}

// Preferences are per-candidate toggles for optional behavior.
type Preferences struct {
	// EmotionFeedback enables nonverbal expression cues from the avatar.
	EmotionFeedback bool

	// AvatarStyle selects the interviewer avatar character and voice.
	AvatarStyle avatar.Style

	// Language is the recognition language for the transcriber.
	Language string
}

// Services bundles the provider backends a session uses. All fields are
// process-level singletons shared across sessions; only the transcriber
// handle (held separately on the Session) is per-session.
type Services struct {
	Chat       chat.Provider
	Vision     vision.Provider
	Avatar     avatar.Provider
	Embeddings embeddings.Provider
}

// TranscriptionRecord is one committed speech recognition result.
type TranscriptionRecord struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// VisionRecord is one facial expression observation.
type VisionRecord struct {
	Emotion    string    `json:"emotion"`
	Confidence float64   `json:"confidence"`
	FrameBytes int       `json:"frame_bytes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AudioAnalysisRecord is one delivery-quality estimate computed from raw
// audio.
type AudioAnalysisRecord struct {
	VolumeLevel float64 `json:"volume_level"`
	SpeechRate  float64 `json:"speech_rate"`
	Clarity     float64 `json:"clarity"`
	Summary     string  `json:"summary"`
}

// FeedbackContent is the four-dimension feedback payload shown to the
// candidate.
type FeedbackContent struct {
	Speech    string `json:"speech"`
	Behavior  string `json:"behavior"`
	Technical string `json:"technical"`
	Stress    string `json:"stress"`
}

// DataSources flags which observation kinds contributed to a feedback record.
type DataSources struct {
	Transcript bool `json:"transcript"`
	Vision     bool `json:"vision"`
	Audio      bool `json:"audio"`
}

// FeedbackRecord is one synthesized feedback result.
type FeedbackRecord struct {
	Content     FeedbackContent `json:"content"`
	AIGenerated bool            `json:"ai_generated"`
	DataSources DataSources     `json:"data_sources"`
	Timestamp   time.Time       `json:"timestamp"`
}

// QuestionRecord is one question asked during the interview, with the model's
// reference answer retained for the final evaluation.
type QuestionRecord struct {
	Number          int       `json:"number"`
	Question        string    `json:"question"`
	ReferenceAnswer string    `json:"reference_answer,omitempty"`
	Answer          string    `json:"answer,omitempty"`
	AskedAt         time.Time `json:"asked_at"`
}

// RealtimeData groups the bounded rolling buffers of a session. Each buffer
// is individually thread-safe.
type RealtimeData struct {
	Transcriptions *Buffer[TranscriptionRecord]
	Vision         *Buffer[VisionRecord]
	AudioAnalysis  *Buffer[AudioAnalysisRecord]
	Feedback       *Buffer[FeedbackRecord]
}

// newRealtimeData allocates the buffer set with the standard caps.
func newRealtimeData() *RealtimeData {
	return &RealtimeData{
		Transcriptions: NewBuffer[TranscriptionRecord](TranscriptionCap),
		Vision:         NewBuffer[VisionRecord](VisionCap),
		AudioAnalysis:  NewBuffer[AudioAnalysisRecord](AudioAnalysisCap),
		Feedback:       NewBuffer[FeedbackRecord](FeedbackCap),
	}
}

// Session is the aggregate for one live interview. Exported buffer fields are
// individually thread-safe; everything else behind the mutex is accessed via
// methods.
type Session struct {
	// ID is the deterministic session identifier.
	ID string

	// Interview is fixed at creation.
	Interview InterviewConfig

	// Prefs is fixed at creation.
	Prefs Preferences

	// Svcs holds the provider backends used by this session.
	Svcs Services

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time

	// Data holds the rolling observation buffers.
	Data *RealtimeData

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	status          Status
	endedAt         time.Time
	transcriber     asr.SessionHandle
	questions       []QuestionRecord
	history         []chat.Message
	advancing       bool
	lastFeedbackAt  time.Time
	placeholderSent bool
}

// newSession builds a Session. The supplied parent context scopes all
// supervised background work; Cancel tears it down.
func newSession(parent context.Context, id string, cfg InterviewConfig, prefs Preferences, svcs Services, data *RealtimeData) *Session {
	if data == nil {
		data = newRealtimeData()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:        id,
		Interview: cfg,
		Prefs:     prefs,
		Svcs:      svcs,
		CreatedAt: time.Now(),
		Data:      data,
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusCreated,
	}
}

// Context returns the session-scoped context. Background loops tied to this
// session must select on its Done channel.
func (s *Session) Context() context.Context { return s.ctx }

// Supervise runs fn in a goroutine tracked by the session. Cancel waits for
// all supervised goroutines to return.
func (s *Session) Supervise(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Cancel stops all supervised work and waits for it to finish. The session
// entry itself is untouched; Store.Remove calls this before deleting.
func (s *Session) Cancel() {
	s.cancel()
	s.wg.Wait()
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MarkActive transitions created → active. Other states are unchanged.
func (s *Session) MarkActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusCreated {
		s.status = StatusActive
	}
}

// End stamps the session as ended. Idempotent; the first call wins the end
// timestamp. Late provider callbacks observe Ended() and no-op.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded {
		return
	}
	s.status = StatusEnded
	s.endedAt = time.Now()
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusEnded
}

// EndedAt returns the end timestamp, zero if the session has not ended.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// SetTranscriber stores the live streaming transcription handle. Returns the
// previous handle, if any, so the caller can close it.
func (s *Session) SetTranscriber(h asr.SessionHandle) asr.SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.transcriber
	s.transcriber = h
	return old
}

// Transcriber returns the live transcription handle, nil when none is open.
func (s *Session) Transcriber() asr.SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriber
}

// MaxQuestions returns the configured question cap, defaulting to 10.
func (s *Session) MaxQuestions() int {
	if s.Interview.MaxQuestions > 0 {
		return s.Interview.MaxQuestions
	}
	return 10
}

// QuestionCount returns the number of questions asked so far.
func (s *Session) QuestionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions)
}

// CurrentQuestion returns the most recently asked question, empty before the
// first Advance.
func (s *Session) CurrentQuestion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.questions) == 0 {
		return ""
	}
	return s.questions[len(s.questions)-1].Question
}

// AppendQuestion records a newly asked question, advances the counter, and
// extends the model conversation history.
func (s *Session) AppendQuestion(question, referenceAnswer string) QuestionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := QuestionRecord{
		Number:          len(s.questions) + 1,
		Question:        question,
		ReferenceAnswer: referenceAnswer,
		AskedAt:         time.Now(),
	}
	s.questions = append(s.questions, rec)
	s.history = append(s.history, chat.Message{Role: chat.RoleAssistant, Content: question})
	return rec
}

// AppendAnswer records the candidate's answer against the current question
// and extends the model conversation history.
func (s *Session) AppendAnswer(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.questions); n > 0 && s.questions[n-1].Answer == "" {
		s.questions[n-1].Answer = text
	}
	s.history = append(s.history, chat.Message{Role: chat.RoleUser, Content: text})
}

// Questions returns a copy of the question history.
func (s *Session) Questions() []QuestionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QuestionRecord, len(s.questions))
	copy(out, s.questions)
	return out
}

// History returns a copy of the model conversation history.
func (s *Session) History() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.history))
	copy(out, s.history)
	return out
}

// TryBeginAdvance claims the single in-flight turn advance slot. Returns
// false when another advance is already running; the caller must treat that
// as a no-op, not an error.
func (s *Session) TryBeginAdvance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advancing {
		return false
	}
	s.advancing = true
	return true
}

// EndAdvance releases the turn advance slot.
func (s *Session) EndAdvance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advancing = false
}

// FeedbackAllowed reports whether enough time has passed since the last
// feedback record to generate another.
func (s *Session) FeedbackAllowed(now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFeedbackAt.IsZero() || now.Sub(s.lastFeedbackAt) >= cooldown
}

// MarkFeedback records when feedback was last generated.
func (s *Session) MarkFeedback(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFeedbackAt = now
}

// LastFeedbackAt returns the timestamp of the last feedback record, zero if
// none has been generated.
func (s *Session) LastFeedbackAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFeedbackAt
}

// PlaceholderOnce returns true exactly once per session. The synthesizer uses
// it to emit a single "analysis in progress" notice before the first real
// feedback record.
func (s *Session) PlaceholderOnce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.placeholderSent {
		return false
	}
	s.placeholderSent = true
	return true
}
