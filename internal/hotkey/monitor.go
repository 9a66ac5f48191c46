// Package hotkey turns key-state polls into press/release edge events.
package hotkey

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxkey/voxkey/internal/keystate"
)

type EdgeKind int

const (
	Pressed EdgeKind = iota
	Released
)

func (k EdgeKind) String() string {
	if k == Pressed {
		return "pressed"
	}
	return "released"
}

// Edge is one transition of the push-to-talk key, consumed at most once.
type Edge struct {
	Kind EdgeKind
	At   time.Time
}

// Monitor polls a keystate source at a fixed interval and emits edges to the
// handler. A failed poll is fatal: it is logged, surfaced on Err, and stops
// the loop. The polling granularity itself suppresses sub-interval chatter,
// so no further debounce is applied.
type Monitor struct {
	source   keystate.Source
	interval time.Duration
	handler  func(Edge)
	log      *slog.Logger

	wasPressed bool

	errCh chan error
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewMonitor(source keystate.Source, interval time.Duration, handler func(Edge), logger *slog.Logger) *Monitor {
	return &Monitor{
		source:   source,
		interval: interval,
		handler:  handler,
		log:      logger.With(slog.String("component", "hotkey")),
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Start spawns the poll loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Err reports a fatal poll failure. The monitor does not recover from it.
func (m *Monitor) Err() <-chan error {
	return m.errCh
}

// Close stops the poll loop and waits for it to exit.
func (m *Monitor) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if err := m.tick(time.Now()); err != nil {
				m.log.Error("key poll failed", slog.String("error", err.Error()))
				select {
				case m.errCh <- err:
				default:
				}
				return
			}
		}
	}
}

// tick performs one poll and emits at most one edge.
func (m *Monitor) tick(now time.Time) error {
	down, err := m.source.IsDown()
	if err != nil {
		return err
	}
	switch {
	case down && !m.wasPressed:
		m.wasPressed = true
		m.handler(Edge{Kind: Pressed, At: now})
	case !down && m.wasPressed:
		m.wasPressed = false
		m.handler(Edge{Kind: Released, At: now})
	}
	return nil
}
