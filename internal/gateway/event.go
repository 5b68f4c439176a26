// Package gateway implements the WebSocket transport between interview
// clients and the orchestrator. Every frame is a JSON [Envelope]; connections
// are grouped into per-session rooms and outbound events fan out to every
// connection in the room.
package gateway

import (
	"encoding/json"
	"fmt"
)

// Client-to-server event names.
const (
	EventJoin                = "join"
	EventLeave               = "leave"
	EventStartStreaming      = "start_streaming"
	EventAudioChunk          = "audio_chunk"
	EventScreenshot          = "screenshot"
	EventSubmitAnswer        = "submit_answer"
	EventRequestNextQuestion = "request_next_question"
	EventEndSession          = "end_session"
)

// Server-to-client event names.
const (
	EventJoined           = "joined"
	EventStreamingStarted = "streaming_started"
	EventRealtimeFeedback = "realtime_feedback"
	EventNewQuestion      = "new_question"
	EventAnswerAck        = "answer_ack"
	EventEmotionFeedback  = "emotion_feedback"
	EventError            = "error"
	EventInterviewEnded   = "interview_ended"
)

// Envelope is the wire frame carried on every WebSocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an [Envelope] for the given event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("gateway: marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// ErrorEnvelope builds an error event with the given message.
func ErrorEnvelope(message string) Envelope {
	env, _ := NewEnvelope(EventError, ErrorPayload{Message: message})
	return env
}

// Decode unmarshals the envelope's data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("gateway: %s event has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("gateway: decode %s payload: %w", e.Event, err)
	}
	return nil
}

// JoinPayload carries the interview setup sent with a join event.
type JoinPayload struct {
	InterviewID  string   `json:"interview_id"`
	UserID       string   `json:"user_id"`
	Position     string   `json:"position"`
	Mode         string   `json:"mode"`
	Difficulty   string   `json:"difficulty"`
	MaxQuestions int      `json:"max_questions"`
	Vocabulary   []string `json:"vocabulary,omitempty"`

	EmotionFeedback bool   `json:"emotion_feedback"`
	AvatarCharacter string `json:"avatar_character,omitempty"`
	AvatarVoice     string `json:"avatar_voice,omitempty"`
	Language        string `json:"language,omitempty"`
}

// AudioChunkPayload carries one base64-encoded PCM frame.
type AudioChunkPayload struct {
	Audio   string `json:"audio"`
	IsFirst bool   `json:"is_first,omitempty"`
}

// ScreenshotPayload carries one base64-encoded JPEG frame.
type ScreenshotPayload struct {
	Image string `json:"image"`
}

// SubmitAnswerPayload carries the candidate's typed or finalized answer.
type SubmitAnswerPayload struct {
	Text string `json:"text"`
}

// JoinedPayload acknowledges a join and reports the session id in use.
type JoinedPayload struct {
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed,omitempty"`
}

// NewQuestionPayload announces the next interview question.
type NewQuestionPayload struct {
	Question   string `json:"question"`
	Number     int    `json:"number"`
	Total      int    `json:"total"`
	StreamURL  string `json:"stream_url,omitempty"`
	StreamType string `json:"stream_type,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
	Finished   bool   `json:"finished,omitempty"`
}

// AnswerAckPayload carries the short acknowledgment after an answer.
type AnswerAckPayload struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback,omitempty"`
}

// EmotionFeedbackPayload announces an avatar expression cue.
type EmotionFeedbackPayload struct {
	Expression string `json:"expression"`
	StreamURL  string `json:"stream_url,omitempty"`
	StreamType string `json:"stream_type,omitempty"`
}

// ErrorPayload carries a client-visible error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// InterviewEndedPayload closes out the interview on the client.
type InterviewEndedPayload struct {
	SessionID     string `json:"session_id"`
	QuestionsUsed int    `json:"questions_used"`
	Report        any    `json:"report,omitempty"`
}
