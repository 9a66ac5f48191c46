package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxkey/voxkey/internal/engine"
	"github.com/voxkey/voxkey/internal/hotkey"
	"github.com/voxkey/voxkey/internal/status"
)

type fakeTranscriber struct {
	mu       sync.Mutex
	ready    bool
	text     string
	err      error
	calls    int
	lastSize int
}

func (f *fakeTranscriber) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTranscriber) Transcribe(_ context.Context, samples []float32, _ int, _ string) ([]engine.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSize = len(samples)
	if f.err != nil {
		return nil, f.err
	}
	if f.text == "" {
		return nil, nil
	}
	return []engine.Segment{{Text: f.text}}, nil
}

func (f *fakeTranscriber) Close() error { return nil }

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeInjector struct {
	mu        sync.Mutex
	clipboard string
	pastes    int
	restores  int
	setErr    error
	pasteErr  error
}

func (f *fakeInjector) SetClipboard(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.clipboard = text
	return nil
}

func (f *fakeInjector) SendPaste() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pasteErr != nil {
		return f.pasteErr
	}
	f.pastes++
	return nil
}

func (f *fakeInjector) RestoreClipboard() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores++
	return nil
}

func (f *fakeInjector) snapshot() (string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clipboard, f.pastes
}

func (f *fakeInjector) restoreCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restores
}

type recordingSink struct {
	mu     sync.Mutex
	events []status.Event
}

func (r *recordingSink) Publish(event status.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) Close() {}

func (r *recordingSink) states() []status.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]status.State, len(r.events))
	for i, e := range r.events {
		out[i] = e.State
	}
	return out
}

func (r *recordingSink) lastReadyText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].State == status.StateReady {
			return r.events[i].Text
		}
	}
	return ""
}

type harness struct {
	controller  *Controller
	transcriber *fakeTranscriber
	injector    *fakeInjector
	sink        *recordingSink

	mu      sync.Mutex
	results []Result
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		transcriber: &fakeTranscriber{ready: true, text: "hello world"},
		injector:    &fakeInjector{},
		sink:        &recordingSink{},
	}
	cfg := Config{
		SampleRate:   16000,
		MinCaptureMS: 100,
		Language:     "en",
		FrameQueue:   64,
		OnResult: func(result Result) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.results = append(h.results, result)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	controller, err := NewController(cfg, h.transcriber, h.injector, h.sink, logger)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.controller = controller
	controller.Start()
	t.Cleanup(controller.Close)
	return h
}

func (h *harness) resultCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}

func (h *harness) result(i int) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results[i]
}

func (h *harness) waitResults(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.resultCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d results, have %d", n, h.resultCount())
}

func (h *harness) waitBufferedSamples(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.controller.mu.Lock()
		samples := h.controller.buffer.Samples()
		h.controller.mu.Unlock()
		if samples >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d buffered samples", n)
}

// feedAudio pushes enough frames through the ingest queue to exceed the
// minimum capture length, and waits for them to land in the buffer.
func (h *harness) feedAudio(t *testing.T, samples int) {
	t.Helper()
	const frameSize = 320
	fed := 0
	for fed < samples {
		frame := make([]float32, frameSize)
		h.controller.OnFrame(frame)
		fed += frameSize
	}
	h.waitBufferedSamples(t, samples)
}

func press(h *harness) {
	h.controller.HandleEdge(hotkey.Edge{Kind: hotkey.Pressed, At: time.Now()})
}

func release(h *harness) {
	h.controller.HandleEdge(hotkey.Edge{Kind: hotkey.Released, At: time.Now()})
}

func TestFullCycleInjectsTranscript(t *testing.T) {
	h := newHarness(t, nil)

	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 1)

	result := h.result(0)
	if result.Failure != FailureNone {
		t.Fatalf("unexpected failure: %q", result.Failure)
	}
	if result.Text != "hello world" {
		t.Fatalf("unexpected text: %q", result.Text)
	}

	clip, pastes := h.injector.snapshot()
	if clip != "hello world" {
		t.Fatalf("expected clipboard set, got %q", clip)
	}
	if pastes != 1 {
		t.Fatalf("expected exactly one paste, got %d", pastes)
	}
	if h.sink.lastReadyText() != "hello world" {
		t.Fatal("expected a ready event carrying the transcript")
	}

	// The controller must be idle again and serve the next hold.
	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 2)
}

func TestShortCaptureIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)

	press(h)
	h.feedAudio(t, 320) // 20ms, below the 100ms minimum
	release(h)
	h.waitResults(t, 1)

	if got := h.result(0).Failure; got != FailureCaptureTooShort {
		t.Fatalf("expected capture_too_short, got %q", got)
	}
	if h.transcriber.callCount() != 0 {
		t.Fatal("engine must not run for a too-short capture")
	}
	if _, pastes := h.injector.snapshot(); pastes != 0 {
		t.Fatal("nothing must be pasted for a too-short capture")
	}
}

func TestPressedWhileEngineNotReadyIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.ready = false

	press(h)
	h.waitResults(t, 1)

	if got := h.result(0).Failure; got != FailureEngineUnavailable {
		t.Fatalf("expected engine_unavailable, got %q", got)
	}

	// The press did not start a session, so a stray release is a no-op.
	release(h)
	if h.resultCount() != 1 {
		t.Fatal("release without a session must be ignored")
	}

	// Once the engine is ready the next hold works.
	h.transcriber.mu.Lock()
	h.transcriber.ready = true
	h.transcriber.mu.Unlock()
	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 2)
	if got := h.result(1).Failure; got != FailureNone {
		t.Fatalf("expected clean cycle, got %q", got)
	}
}

func TestSpuriousEdgesAreIgnored(t *testing.T) {
	h := newHarness(t, nil)

	release(h) // released while idle
	if h.resultCount() != 0 {
		t.Fatal("release while idle must be a no-op")
	}

	press(h)
	press(h) // repeated press during one hold
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 1)
	release(h) // duplicate release

	time.Sleep(20 * time.Millisecond)
	if h.resultCount() != 1 {
		t.Fatalf("expected a single session, got %d results", h.resultCount())
	}
}

func TestEngineFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.err = errors.New("model exploded")

	for i := 0; i < 3; i++ {
		press(h)
		h.feedAudio(t, 3200)
		release(h)
		h.waitResults(t, i+1)
		if got := h.result(i).Failure; got != FailureEngine {
			t.Fatalf("cycle %d: expected engine_failure, got %q", i, got)
		}
	}
	if _, pastes := h.injector.snapshot(); pastes != 0 {
		t.Fatal("nothing must be pasted when transcription fails")
	}
}

func TestEmptyTranscriptSkipsInjection(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.text = ""

	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 1)

	result := h.result(0)
	if result.Failure != FailureNone {
		t.Fatalf("empty transcript is not a failure, got %q", result.Failure)
	}
	if result.Text != "" {
		t.Fatalf("expected empty text, got %q", result.Text)
	}
	if clip, pastes := h.injector.snapshot(); clip != "" || pastes != 0 {
		t.Fatal("empty transcript must not touch the clipboard")
	}
	if h.sink.lastReadyText() != "" {
		t.Fatal("no ready event expected for an empty transcript")
	}
}

func TestInjectionFailureIsTerminalForCycleOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.injector.pasteErr = errors.New("no display")

	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 1)

	if got := h.result(0).Failure; got != FailureInjection {
		t.Fatalf("expected injection_failure, got %q", got)
	}

	h.injector.mu.Lock()
	h.injector.pasteErr = nil
	h.injector.mu.Unlock()
	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 2)
	if got := h.result(1).Failure; got != FailureNone {
		t.Fatalf("expected recovery on next cycle, got %q", got)
	}
}

func TestFramesOutsideRecordingAreDiscarded(t *testing.T) {
	h := newHarness(t, nil)

	// Audio while idle must not accumulate.
	for i := 0; i < 10; i++ {
		h.controller.OnFrame(make([]float32, 320))
	}
	time.Sleep(20 * time.Millisecond)

	h.controller.mu.Lock()
	samples := h.controller.buffer.Samples()
	h.controller.mu.Unlock()
	if samples != 0 {
		t.Fatalf("expected empty buffer while idle, got %d samples", samples)
	}

	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 1)

	if h.transcriber.lastSize != 3200 {
		t.Fatalf("expected only the recorded 3200 samples, got %d", h.transcriber.lastSize)
	}
}

func TestStatusEventOrder(t *testing.T) {
	h := newHarness(t, nil)

	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 1)

	states := h.sink.states()
	want := []status.State{status.StateRecording, status.StateProcessing, status.StateReady, status.StateIdle}
	if len(states) != len(want) {
		t.Fatalf("expected %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, states)
		}
	}
}

func TestLanguageAutoMapsToEmptyHint(t *testing.T) {
	var gotLanguage string
	tr := &hookTranscriber{onTranscribe: func(language string) { gotLanguage = language }}

	h := &harness{transcriber: &fakeTranscriber{}, injector: &fakeInjector{}, sink: &recordingSink{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	controller, err := NewController(Config{
		SampleRate:   16000,
		MinCaptureMS: 100,
		Language:     "auto",
		OnResult:     func(Result) {},
	}, tr, h.injector, h.sink, logger)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	controller.Start()
	defer controller.Close()

	controller.HandleEdge(hotkey.Edge{Kind: hotkey.Pressed, At: time.Now()})
	for fed := 0; fed < 3200; fed += 320 {
		controller.OnFrame(make([]float32, 320))
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		controller.mu.Lock()
		samples := controller.buffer.Samples()
		controller.mu.Unlock()
		if samples >= 3200 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	controller.HandleEdge(hotkey.Edge{Kind: hotkey.Released, At: time.Now()})
	controller.Close()

	if gotLanguage != "" {
		t.Fatalf("expected empty language hint for auto, got %q", gotLanguage)
	}
}

func TestClipboardRestoredAfterSuccessfulPaste(t *testing.T) {
	h := newHarness(t, nil)

	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 1)

	if got := h.result(0).Failure; got != FailureNone {
		t.Fatalf("unexpected failure: %q", got)
	}
	if got := h.injector.restoreCount(); got != 1 {
		t.Fatalf("expected one clipboard restore after paste, got %d", got)
	}
}

func TestNoClipboardRestoreWhenPasteFails(t *testing.T) {
	h := newHarness(t, nil)
	h.injector.pasteErr = errors.New("no display")

	press(h)
	h.feedAudio(t, 3200)
	release(h)
	h.waitResults(t, 1)

	if got := h.injector.restoreCount(); got != 0 {
		t.Fatalf("expected no restore after a failed paste, got %d", got)
	}
}

func TestFramesQueuedBeforePressAreExcluded(t *testing.T) {
	transcriber := &fakeTranscriber{ready: true, text: "ok"}
	injector := &fakeInjector{}
	sink := &recordingSink{}
	results := make(chan Result, 1)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	controller, err := NewController(Config{
		SampleRate:   16000,
		MinCaptureMS: 100,
		Language:     "en",
		FrameQueue:   64,
		OnResult:     func(result Result) { results <- result },
	}, transcriber, injector, sink, logger)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	// Queue frames before the press while ingestion is not running yet, so
	// they are guaranteed to still sit in the channel when recording starts.
	for i := 0; i < 5; i++ {
		controller.OnFrame(make([]float32, 320))
	}
	controller.HandleEdge(hotkey.Edge{Kind: hotkey.Pressed, At: time.Now()})

	controller.Start()
	defer controller.Close()

	for fed := 0; fed < 3200; fed += 320 {
		controller.OnFrame(make([]float32, 320))
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		controller.mu.Lock()
		samples := controller.buffer.Samples()
		controller.mu.Unlock()
		if samples >= 3200 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	controller.HandleEdge(hotkey.Edge{Kind: hotkey.Released, At: time.Now()})

	select {
	case result := <-results:
		if result.Failure != FailureNone {
			t.Fatalf("unexpected failure: %q", result.Failure)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the session result")
	}
	if transcriber.lastSize != 3200 {
		t.Fatalf("expected only post-press samples, got %d", transcriber.lastSize)
	}
}

func TestResultCallbackRunsWithoutStateLock(t *testing.T) {
	var controller *Controller
	lockFree := make(chan bool, 2)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transcriber := &fakeTranscriber{ready: false}
	controller, err := NewController(Config{
		SampleRate:   16000,
		MinCaptureMS: 100,
		Language:     "en",
		OnResult: func(Result) {
			if controller.mu.TryLock() {
				controller.mu.Unlock()
				lockFree <- true
			} else {
				lockFree <- false
			}
		},
	}, transcriber, &fakeInjector{}, &recordingSink{}, logger)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	controller.Start()
	defer controller.Close()

	// Engine-unavailable path.
	controller.HandleEdge(hotkey.Edge{Kind: hotkey.Pressed, At: time.Now()})
	if !<-lockFree {
		t.Fatal("result callback ran while the state lock was held")
	}

	// Too-short-capture path.
	transcriber.mu.Lock()
	transcriber.ready = true
	transcriber.mu.Unlock()
	controller.HandleEdge(hotkey.Edge{Kind: hotkey.Pressed, At: time.Now()})
	controller.HandleEdge(hotkey.Edge{Kind: hotkey.Released, At: time.Now()})
	if !<-lockFree {
		t.Fatal("result callback ran while the state lock was held")
	}
}

type hookTranscriber struct {
	onTranscribe func(language string)
}

func (h *hookTranscriber) Ready() bool { return true }

func (h *hookTranscriber) Transcribe(_ context.Context, _ []float32, _ int, language string) ([]engine.Segment, error) {
	h.onTranscribe(language)
	return []engine.Segment{{Text: "ok"}}, nil
}

func (h *hookTranscriber) Close() error { return nil }
