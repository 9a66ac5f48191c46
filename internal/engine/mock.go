package engine

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

// NewMockTranscriber returns a transcriber that is always ready and echoes
// the capture size, for smoke runs without a recognizer installed.
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Ready() bool { return true }

func (m *mockTranscriber) Transcribe(_ context.Context, samples []float32, sampleRate int, _ string) ([]Segment, error) {
	ms := int64(0)
	if sampleRate > 0 {
		ms = int64(len(samples)) * 1000 / int64(sampleRate)
	}
	return []Segment{{Text: fmt.Sprintf("[dictation %dms]", ms)}}, nil
}

func (m *mockTranscriber) Close() error { return nil }
