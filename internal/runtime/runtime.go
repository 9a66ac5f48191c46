// Package runtime assembles the daemon: hotkey monitor, audio capture,
// transcription engine, injector, status fan-out, and history, wired to the
// push-to-talk controller.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxkey/voxkey/internal/audio"
	"github.com/voxkey/voxkey/internal/bus"
	"github.com/voxkey/voxkey/internal/config"
	"github.com/voxkey/voxkey/internal/engine"
	"github.com/voxkey/voxkey/internal/history"
	"github.com/voxkey/voxkey/internal/hotkey"
	"github.com/voxkey/voxkey/internal/inject"
	"github.com/voxkey/voxkey/internal/keystate"
	"github.com/voxkey/voxkey/internal/natsserver"
	"github.com/voxkey/voxkey/internal/protocol"
	"github.com/voxkey/voxkey/internal/session"
	"github.com/voxkey/voxkey/internal/status"
)

// Runtime owns the lifecycle of every collaborator. A fatal failure in the
// hotkey monitor or the audio source stops the daemon; per-cycle failures
// stay inside the controller.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error

	embedded   *natsserver.EmbeddedServer
	busClient  *bus.Client
	store      *history.Store
	engine     engine.Transcriber
	injector   *inject.System
	sink       status.Sink
	controller *session.Controller
	source     audio.Source
	keys       keystate.Source
	monitor    *hotkey.Monitor

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled or a fatal
// collaborator failure occurs.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.buildPipeline(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/history", r.handleHistory)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()

	r.controller.Start()
	if err := r.source.Start(); err != nil {
		r.shutdown()
		return fmt.Errorf("start audio capture: %w", err)
	}
	r.monitor.Start()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("hotkey", r.cfg.Hotkey.Key),
		slog.String("engine", r.cfg.Engine.Mode))

	var fatal error
	select {
	case <-ctx.Done():
	case err := <-r.monitor.Err():
		fatal = fmt.Errorf("hotkey monitor failed: %w", err)
	case err := <-r.source.Err():
		fatal = fmt.Errorf("audio capture failed: %w", err)
	}

	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return fatal
}

func (r *Runtime) buildPipeline() error {
	store, err := history.Open(r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	r.store = store
	if err := store.Prune(); err != nil {
		r.logger.Warn("history prune failed", slogError(err))
	}

	sinks := []status.Sink{status.NewLogSink(r.logger)}
	if r.cfg.Status.Publish {
		if err := r.connectBus(); err != nil {
			return err
		}
		sinks = append(sinks, status.NewBusSink(r.busClient, r.cfg.Status.BufferSize, r.logger))
	}
	r.sink = status.NewMulti(sinks...)

	switch r.cfg.Engine.Mode {
	case "exec":
		transcriber, err := engine.NewExecTranscriber(r.cfg.Engine)
		if err != nil {
			return fmt.Errorf("build transcriber: %w", err)
		}
		r.engine = transcriber
	default:
		r.engine = engine.NewMockTranscriber()
	}

	injector, err := inject.NewSystem(r.cfg.Inject, r.logger)
	if err != nil {
		return fmt.Errorf("build injector: %w", err)
	}
	r.injector = injector

	controller, err := session.NewController(session.Config{
		SampleRate:    r.cfg.Audio.SampleRate,
		MinCaptureMS:  r.cfg.Hotkey.MinCaptureMS,
		PasteDelay:    time.Duration(r.cfg.Inject.PasteDelayMS) * time.Millisecond,
		EngineTimeout: time.Duration(r.cfg.Engine.TimeoutMS) * time.Millisecond,
		Language:      r.cfg.Engine.Language,
		OnResult:      r.onResult,
	}, r.engine, r.injector, r.sink, r.logger)
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}
	r.controller = controller

	r.source = audio.NewExecSource(r.cfg.Audio, controller.OnFrame, r.logger)

	keys, err := keystate.New(r.cfg.Hotkey.Key)
	if err != nil {
		return fmt.Errorf("open key source: %w", err)
	}
	r.keys = keys
	r.monitor = hotkey.NewMonitor(keys,
		time.Duration(r.cfg.Hotkey.PollIntervalMS)*time.Millisecond,
		controller.HandleEdge, r.logger)

	return nil
}

func (r *Runtime) connectBus() error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	r.busClient = client
	return nil
}

// onResult records the finished cycle and, for successful dictations,
// publishes the transcript on the bus.
func (r *Runtime) onResult(result session.Result) {
	if err := r.store.Append(result); err != nil {
		r.logger.Warn("history append failed", slogError(err))
	}

	if result.Failure != session.FailureNone || result.Text == "" || !r.busClient.Healthy() {
		return
	}
	transcript := protocol.Transcript{
		SessionID:  result.SessionID,
		Text:       result.Text,
		DurationMS: result.Duration.Milliseconds(),
		EngineMS:   result.EngineLatency.Milliseconds(),
		Timestamp:  time.Now(),
	}
	payload, err := json.Marshal(transcript)
	if err != nil {
		r.logger.Error("marshal transcript", slogError(err))
		return
	}
	if err := r.busClient.Conn().Publish(protocol.SubjectTranscriptFinal, payload); err != nil {
		r.logger.Warn("publish transcript", slogError(err))
	}
}

func (r *Runtime) shutdown() {
	if r.monitor != nil {
		r.monitor.Close()
	}
	if r.keys != nil {
		if err := r.keys.Close(); err != nil {
			r.logger.Warn("key source close failed", slogError(err))
		}
	}
	if r.source != nil {
		if err := r.source.Stop(); err != nil {
			r.logger.Warn("audio stop failed", slogError(err))
		}
	}
	if r.controller != nil {
		r.controller.Close()
	}
	if r.sink != nil {
		r.sink.Close()
	}
	if r.engine != nil {
		if err := r.engine.Close(); err != nil {
			r.logger.Warn("engine close failed", slogError(err))
		}
	}
	r.busClient.Close()
	r.embedded.Shutdown()
	if r.store != nil {
		if err := r.store.Prune(); err != nil {
			r.logger.Warn("history prune failed", slogError(err))
		}
		if err := r.store.Close(); err != nil {
			r.logger.Warn("history close failed", slogError(err))
		}
	}

	if r.httpServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.engine.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleHistory serves the most recent dictations as JSON.
func (r *Runtime) handleHistory(w http.ResponseWriter, _ *http.Request) {
	entries, err := r.store.Recent(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if entries == nil {
		entries = []history.Entry{}
	}
	_ = json.NewEncoder(w).Encode(entries)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
