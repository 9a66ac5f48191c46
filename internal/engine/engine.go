// Package engine abstracts the transcription backends.
package engine

import (
	"context"
	"strings"
)

// Segment is one recognized span of speech.
type Segment struct {
	Text       string
	Confidence float64
}

// Transcriber converts captured PCM audio into text segments. Samples are
// mono float32 at the configured sample rate; language is a BCP-47-ish hint,
// empty for auto-detect.
type Transcriber interface {
	Ready() bool
	Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) ([]Segment, error)
	Close() error
}

// JoinSegments assembles the final text: segment texts joined with single
// spaces, surrounding whitespace trimmed.
func JoinSegments(segments []Segment) string {
	var parts []string
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
