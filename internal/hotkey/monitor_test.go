package hotkey

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type scriptedSource struct {
	states []bool
	err    error
	pos    int
}

func (s *scriptedSource) IsDown() (bool, error) {
	if s.pos >= len(s.states) {
		if s.err != nil {
			return false, s.err
		}
		return false, nil
	}
	down := s.states[s.pos]
	s.pos++
	return down, nil
}

func (s *scriptedSource) Close() error { return nil }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func collectEdges(t *testing.T, states []bool) []EdgeKind {
	t.Helper()
	var edges []EdgeKind
	m := NewMonitor(&scriptedSource{states: states}, time.Millisecond, func(e Edge) {
		edges = append(edges, e.Kind)
	}, newTestLogger())
	for range states {
		if err := m.tick(time.Now()); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
	}
	return edges
}

func TestEdgeDetection(t *testing.T) {
	edges := collectEdges(t, []bool{false, true, true, true, false, false})
	want := []EdgeKind{Pressed, Released}
	if len(edges) != len(want) {
		t.Fatalf("expected %v, got %v", want, edges)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Fatalf("edge %d: expected %v, got %v", i, want[i], edges[i])
		}
	}
}

func TestNoEdgesWithoutTransition(t *testing.T) {
	if edges := collectEdges(t, []bool{false, false, false}); len(edges) != 0 {
		t.Fatalf("expected no edges, got %v", edges)
	}
}

func TestRepeatedHoldEmitsSinglePress(t *testing.T) {
	edges := collectEdges(t, []bool{true, true, true, false, true, false})
	want := []EdgeKind{Pressed, Released, Pressed, Released}
	if len(edges) != len(want) {
		t.Fatalf("expected %v, got %v", want, edges)
	}
}

func TestPollFailureSurfacesAndStopsLoop(t *testing.T) {
	pollErr := errors.New("device gone")
	src := &scriptedSource{states: []bool{false}, err: pollErr}
	m := NewMonitor(src, time.Millisecond, func(Edge) {}, newTestLogger())
	m.Start()
	defer m.Close()

	select {
	case err := <-m.Err():
		if !errors.Is(err, pollErr) {
			t.Fatalf("expected poll error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected fatal poll error to surface")
	}
}
