package protocol

import "time"

// StatusEvent is broadcast on every pipeline state change.
type StatusEvent struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is the recognized text for one completed push-to-talk cycle.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	DurationMS int64     `json:"duration_ms"`
	EngineMS   int64     `json:"engine_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectStatus          = "voxkey.status"
	SubjectTranscriptFinal = "voxkey.transcript.final"
)
