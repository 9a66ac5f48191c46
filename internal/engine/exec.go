package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/voxkey/voxkey/internal/config"
)

// execTranscriber shells out to an external recognizer (whisper-cli or
// compatible). The audio is handed over as a temporary 16-bit WAV file and
// the result read as JSON from stdout.
type execTranscriber struct {
	cmd []string
	cfg config.EngineConfig
	mu  sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Segments   []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

func NewExecTranscriber(cfg config.EngineConfig) (Transcriber, error) {
	args, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &execTranscriber{cmd: args, cfg: cfg}, nil
}

// Ready reports whether the recognizer binary and model are resolvable.
// Pressed edges are dropped while this is false.
func (t *execTranscriber) Ready() bool {
	if _, err := exec.LookPath(t.cmd[0]); err != nil {
		return false
	}
	if t.cfg.ModelPath != "" {
		if _, err := os.Stat(t.cfg.ModelPath); err != nil {
			return false
		}
	}
	return true
}

func (t *execTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) ([]Segment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "voxkey_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeSamplesToWav(file, samples, sampleRate); err != nil {
		return nil, err
	}

	cmdArgs := append([]string{}, t.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if t.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", t.cfg.ModelPath)
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}

	command := exec.CommandContext(ctx, t.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}

	if len(resp.Segments) > 0 {
		segments := make([]Segment, 0, len(resp.Segments))
		for _, s := range resp.Segments {
			segments = append(segments, Segment{Text: s.Text, Confidence: resp.Confidence})
		}
		return segments, nil
	}
	if resp.Text == "" {
		return nil, nil
	}
	return []Segment{{Text: resp.Text, Confidence: resp.Confidence}}, nil
}

func (t *execTranscriber) Close() error { return nil }

// writeSamplesToWav converts float32 samples to 16-bit PCM and encodes a
// mono WAV, which is what whisper-family recognizers expect.
func writeSamplesToWav(file *os.File, samples []float32, sampleRate int) error {
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buffer.Data[i] = int(s * 32767)
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
