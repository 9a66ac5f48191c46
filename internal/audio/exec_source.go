package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"runtime"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/voxkey/voxkey/internal/config"
)

// ExecSource captures microphone audio by running an external command
// (ffmpeg by default) that writes raw little-endian float32 mono PCM to
// stdout. The stream is chopped into frames of frame_duration_ms.
type ExecSource struct {
	cfg     config.AudioConfig
	onFrame func([]float32)
	log     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	errCh chan error
	wg    sync.WaitGroup
}

func NewExecSource(cfg config.AudioConfig, onFrame func([]float32), logger *slog.Logger) *ExecSource {
	return &ExecSource{
		cfg:     cfg,
		onFrame: onFrame,
		log:     logger.With(slog.String("component", "audio")),
		errCh:   make(chan error, 1),
	}
}

func (s *ExecSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("audio source already running")
	}

	args, err := s.captureArgs()
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return fmt.Errorf("capture command not found: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start capture command: %w", err)
	}

	s.cancel = cancel
	s.running = true
	s.log.Info("audio capture started",
		slog.String("command", args[0]),
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Int("frame_duration_ms", s.cfg.FrameDurationMS))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.readFrames(ctx, stdout)
		_ = cmd.Wait()
		if err != nil && ctx.Err() == nil {
			s.log.Error("audio capture failed", slog.String("error", err.Error()))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()

	return nil
}

func (s *ExecSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	return nil
}

func (s *ExecSource) Err() <-chan error {
	return s.errCh
}

func (s *ExecSource) readFrames(ctx context.Context, r io.Reader) error {
	samplesPerFrame := s.cfg.SampleRate * s.cfg.FrameDurationMS / 1000
	raw := make([]byte, samplesPerFrame*4)
	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read capture stream: %w", err)
		}
		s.onFrame(decodeFrame(raw))
	}
}

// decodeFrame converts little-endian float32 bytes into a fresh sample slice.
func decodeFrame(raw []byte) []float32 {
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples
}

// captureArgs builds the capture command line. A configured command wins;
// otherwise ffmpeg is invoked with the platform input device.
func (s *ExecSource) captureArgs() ([]string, error) {
	if s.cfg.Command != "" {
		args, err := shellwords.NewParser().Parse(s.cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("parse capture command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("capture command is empty")
		}
		return args, nil
	}
	return defaultFFmpegArgs(runtime.GOOS, s.cfg)
}

func defaultFFmpegArgs(goos string, cfg config.AudioConfig) ([]string, error) {
	device := cfg.Device
	args := []string{"ffmpeg", "-hide_banner", "-loglevel", "error"}
	switch goos {
	case "darwin":
		if device == "" {
			device = ":default"
		}
		args = append(args, "-f", "avfoundation", "-i", device)
	case "linux":
		if device == "" {
			device = "default"
		}
		args = append(args, "-f", "pulse", "-i", device)
	case "windows":
		if device == "" {
			return nil, errors.New("audio.device must name a dshow input on windows")
		}
		args = append(args, "-f", "dshow", "-i", "audio="+device)
	default:
		return nil, fmt.Errorf("no default capture command for %s", goos)
	}
	args = append(args,
		"-ac", fmt.Sprint(cfg.Channels),
		"-ar", fmt.Sprint(cfg.SampleRate),
		"-f", "f32le",
		"-",
	)
	return args, nil
}
