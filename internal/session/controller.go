// Package session drives the push-to-talk capture cycle: press starts
// recording, release hands the capture to the transcription engine, and the
// result is injected into the focused application.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxkey/voxkey/internal/engine"
	"github.com/voxkey/voxkey/internal/hotkey"
	"github.com/voxkey/voxkey/internal/inject"
	"github.com/voxkey/voxkey/internal/status"
)

// FailureKind classifies why a push-to-talk cycle produced no injected text.
// Failures are terminal for the cycle only; the controller always returns to
// idle and keeps serving subsequent holds.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureEngineUnavailable FailureKind = "engine_unavailable"
	FailureCaptureTooShort   FailureKind = "capture_too_short"
	FailureCaptureCorrupt    FailureKind = "capture_corrupt"
	FailureEngine            FailureKind = "engine_failure"
	FailureInjection         FailureKind = "injection_failure"
)

type controllerState int

const (
	stateIdle controllerState = iota
	stateRecording
	stateProcessing
)

// Result summarizes one completed push-to-talk cycle.
type Result struct {
	SessionID     string
	StartedAt     time.Time
	Duration      time.Duration
	Text          string
	Failure       FailureKind
	EngineLatency time.Duration
}

// Config carries the controller tunables.
type Config struct {
	SampleRate    int
	MinCaptureMS  int
	PasteDelay    time.Duration
	EngineTimeout time.Duration
	Language      string
	FrameQueue    int
	OnResult      func(Result)
}

// Controller owns the push-to-talk state machine. One mutex guards the state
// and the capture buffer; audio frames arrive over a bounded channel and are
// appended only while recording. At most one transcription job runs at a
// time, and its completion unconditionally returns the controller to idle.
type Controller struct {
	cfg         Config
	transcriber engine.Transcriber
	injector    inject.Injector
	sink        status.Sink
	log         *slog.Logger

	mu          sync.Mutex
	state       controllerState
	buffer      captureBuffer
	sessionID   string
	startedAt   time.Time
	staleBefore uint64

	frameSeq atomic.Uint64
	frames   chan ingestFrame
	done     chan struct{}
	wg       sync.WaitGroup
	jobWG    sync.WaitGroup

	tracer          trace.Tracer
	sessionsStarted metric.Int64Counter
	jobsCompleted   metric.Int64Counter
	framesDropped   metric.Int64Counter
	engineLatency   metric.Float64Histogram
}

func NewController(cfg Config, transcriber engine.Transcriber, injector inject.Injector, sink status.Sink, logger *slog.Logger) (*Controller, error) {
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = 64
	}
	meter := otel.Meter("voxkey/session")

	sessionsStarted, err := meter.Int64Counter("voxkey.sessions.started",
		metric.WithDescription("Push-to-talk holds that began recording"))
	if err != nil {
		return nil, err
	}
	jobsCompleted, err := meter.Int64Counter("voxkey.jobs.completed",
		metric.WithDescription("Transcription jobs finished, by outcome"))
	if err != nil {
		return nil, err
	}
	framesDropped, err := meter.Int64Counter("voxkey.frames.dropped",
		metric.WithDescription("Audio frames dropped because the ingest queue was full"))
	if err != nil {
		return nil, err
	}
	engineLatency, err := meter.Float64Histogram("voxkey.engine.latency_ms",
		metric.WithDescription("Transcription engine latency in milliseconds"))
	if err != nil {
		return nil, err
	}

	return &Controller{
		cfg:             cfg,
		transcriber:     transcriber,
		injector:        injector,
		sink:            sink,
		log:             logger.With(slog.String("component", "session")),
		frames:          make(chan ingestFrame, cfg.FrameQueue),
		done:            make(chan struct{}),
		tracer:          otel.Tracer("voxkey/session"),
		sessionsStarted: sessionsStarted,
		jobsCompleted:   jobsCompleted,
		framesDropped:   framesDropped,
		engineLatency:   engineLatency,
	}, nil
}

// Start launches the frame ingest loop.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.ingest()
}

// Close stops frame ingestion and waits for any in-flight transcription job
// to finish.
func (c *Controller) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.wg.Wait()
	c.jobWG.Wait()
}

// ingestFrame pairs a capture frame with its arrival sequence number, so
// frames enqueued before the current press can be told apart from live ones.
type ingestFrame struct {
	seq     uint64
	samples []float32
}

// OnFrame hands one audio frame to the controller. It never blocks the audio
// callback: when the queue is full the frame is counted as dropped.
func (c *Controller) OnFrame(frame []float32) {
	f := ingestFrame{seq: c.frameSeq.Add(1), samples: frame}
	select {
	case c.frames <- f:
	default:
		c.framesDropped.Add(context.Background(), 1)
	}
}

func (c *Controller) ingest() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.frames:
			c.mu.Lock()
			if c.state == stateRecording && frame.seq > c.staleBefore {
				c.buffer.Append(frame.samples)
			}
			c.mu.Unlock()
		}
	}
}

// HandleEdge advances the state machine on a key transition. Edges that do
// not fit the current state are ignored: a press while processing, a release
// while idle, and duplicate edges of either kind are all no-ops.
func (c *Controller) HandleEdge(edge hotkey.Edge) {
	switch edge.Kind {
	case hotkey.Pressed:
		c.handlePressed(edge.At)
	case hotkey.Released:
		c.handleReleased(edge.At)
	}
}

func (c *Controller) handlePressed(at time.Time) {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return
	}
	if !c.transcriber.Ready() {
		c.mu.Unlock()
		c.log.Warn("key pressed but engine is not ready")
		c.emitResult(Result{
			SessionID: uuid.NewString(),
			StartedAt: at,
			Failure:   FailureEngineUnavailable,
		})
		return
	}

	c.state = stateRecording
	c.sessionID = uuid.NewString()
	c.startedAt = at
	c.buffer.Reset()
	// Frames already enqueued belong to no session; only audio that arrives
	// after this press may reach the buffer.
	c.staleBefore = c.frameSeq.Load()
	sessionID := c.sessionID
	c.mu.Unlock()

	c.sessionsStarted.Add(context.Background(), 1)
	c.log.Info("recording started", slog.String("session_id", sessionID))
	c.sink.Publish(status.Event{SessionID: sessionID, State: status.StateRecording, At: at})
}

func (c *Controller) handleReleased(at time.Time) {
	c.mu.Lock()
	if c.state != stateRecording {
		c.mu.Unlock()
		return
	}

	sessionID := c.sessionID
	startedAt := c.startedAt
	frames := c.buffer.Snapshot()
	samples := 0
	for _, frame := range frames {
		samples += len(frame)
	}

	minSamples := c.cfg.SampleRate * c.cfg.MinCaptureMS / 1000
	if samples < minSamples {
		c.state = stateIdle
		c.mu.Unlock()
		c.log.Info("capture too short, discarding",
			slog.String("session_id", sessionID),
			slog.Int("samples", samples),
			slog.Int("min_samples", minSamples))
		c.jobsCompleted.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("outcome", string(FailureCaptureTooShort))))
		c.sink.Publish(status.Event{SessionID: sessionID, State: status.StateIdle, At: at})
		c.emitResult(Result{
			SessionID: sessionID,
			StartedAt: startedAt,
			Duration:  at.Sub(startedAt),
			Failure:   FailureCaptureTooShort,
		})
		return
	}

	c.state = stateProcessing
	c.jobWG.Add(1)
	c.mu.Unlock()

	c.sink.Publish(status.Event{SessionID: sessionID, State: status.StateProcessing, At: at})
	go c.runJob(sessionID, startedAt, at, frames)
}

// runJob transcribes and injects one capture. Whatever happens, the
// controller returns to idle when the job ends.
func (c *Controller) runJob(sessionID string, startedAt, releasedAt time.Time, frames [][]float32) {
	defer c.jobWG.Done()

	ctx := context.Background()
	cancel := func() {}
	if c.cfg.EngineTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.EngineTimeout)
	}
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "session.transcribe",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	result := Result{
		SessionID: sessionID,
		StartedAt: startedAt,
		Duration:  releasedAt.Sub(startedAt),
	}
	result = c.transcribeAndInject(ctx, result, frames)

	outcome := "ok"
	if result.Failure != FailureNone {
		outcome = string(result.Failure)
	}
	c.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()

	if result.Failure == FailureNone && result.Text != "" {
		c.sink.Publish(status.Event{
			SessionID: sessionID,
			State:     status.StateReady,
			Text:      result.Text,
			At:        time.Now(),
		})
	}
	c.sink.Publish(status.Event{SessionID: sessionID, State: status.StateIdle, At: time.Now()})
	c.emitResult(result)
}

func (c *Controller) transcribeAndInject(ctx context.Context, result Result, frames [][]float32) Result {
	samples, ok := concatFrames(frames)
	if !ok || len(samples) == 0 {
		c.log.Error("capture buffer is corrupt", slog.String("session_id", result.SessionID))
		result.Failure = FailureCaptureCorrupt
		return result
	}

	language := c.cfg.Language
	if language == "auto" {
		language = ""
	}

	engineStart := time.Now()
	segments, err := c.transcriber.Transcribe(ctx, samples, c.cfg.SampleRate, language)
	result.EngineLatency = time.Since(engineStart)
	c.engineLatency.Record(ctx, float64(result.EngineLatency.Milliseconds()))

	if err != nil {
		c.log.Error("transcription failed",
			slog.String("session_id", result.SessionID),
			slog.String("error", err.Error()))
		result.Failure = FailureEngine
		return result
	}

	text := engine.JoinSegments(segments)
	if text == "" {
		c.log.Info("engine returned no speech", slog.String("session_id", result.SessionID))
		return result
	}
	result.Text = text

	if err := c.injector.SetClipboard(text); err != nil {
		c.log.Error("clipboard write failed",
			slog.String("session_id", result.SessionID),
			slog.String("error", err.Error()))
		result.Failure = FailureInjection
		return result
	}
	if c.cfg.PasteDelay > 0 {
		time.Sleep(c.cfg.PasteDelay)
	}
	if err := c.injector.SendPaste(); err != nil {
		c.log.Error("paste injection failed",
			slog.String("session_id", result.SessionID),
			slog.String("error", err.Error()))
		result.Failure = FailureInjection
		return result
	}
	if c.cfg.PasteDelay > 0 {
		time.Sleep(c.cfg.PasteDelay)
	}
	if err := c.injector.RestoreClipboard(); err != nil {
		c.log.Warn("clipboard restore failed",
			slog.String("session_id", result.SessionID),
			slog.String("error", err.Error()))
	}

	c.log.Info("transcript injected",
		slog.String("session_id", result.SessionID),
		slog.Int("chars", len(text)),
		slog.Duration("engine_latency", result.EngineLatency))
	return result
}

func (c *Controller) emitResult(result Result) {
	if c.cfg.OnResult != nil {
		c.cfg.OnResult(result)
	}
}
