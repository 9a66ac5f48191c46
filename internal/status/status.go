// Package status fans pipeline state changes out to observers.
package status

import (
	"log/slog"
	"time"
)

// State is the externally visible pipeline state.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateReady      State = "ready"
)

// Event is one state change. Text is only set on StateReady, carrying the
// transcript that was just injected.
type Event struct {
	SessionID string
	State     State
	Text      string
	At        time.Time
}

// Sink receives status events. Publish must never block the caller: slow
// sinks drop events rather than stall the capture pipeline.
type Sink interface {
	Publish(event Event)
	Close()
}

// LogSink writes each state change to the structured log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log.With(slog.String("component", "status"))}
}

func (s *LogSink) Publish(event Event) {
	attrs := []any{
		slog.String("session_id", event.SessionID),
		slog.String("state", string(event.State)),
	}
	if event.Text != "" {
		attrs = append(attrs, slog.String("text", event.Text))
	}
	s.log.Info("state changed", attrs...)
}

func (s *LogSink) Close() {}

// Multi fans one event out to several sinks.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Publish(event Event) {
	for _, sink := range m.sinks {
		sink.Publish(event)
	}
}

func (m *Multi) Close() {
	for _, sink := range m.sinks {
		sink.Close()
	}
}
