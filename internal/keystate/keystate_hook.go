//go:build !windows

package keystate

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	hook "github.com/robotn/gohook"
	"github.com/vcaesar/keycode"
)

// hookSource keeps a down/up latch fed by a global keyboard hook, so IsDown
// stays a non-blocking read on the poll path.
type hookSource struct {
	down atomic.Bool

	mu     sync.Mutex
	err    error
	closed bool
}

// New installs a global keyboard hook for the named key.
func New(key string) (Source, error) {
	name := strings.TrimSpace(strings.ToLower(key))
	if _, ok := keycode.Keycode[name]; !ok {
		return nil, fmt.Errorf("unsupported key: %s", key)
	}

	s := &hookSource{}
	hook.Register(hook.KeyDown, []string{name}, func(hook.Event) {
		s.down.Store(true)
	})
	hook.Register(hook.KeyHold, []string{name}, func(hook.Event) {
		s.down.Store(true)
	})
	hook.Register(hook.KeyUp, []string{name}, func(hook.Event) {
		s.down.Store(false)
	})

	events := hook.Start()
	go func() {
		<-hook.Process(events)
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.err = errors.New("keyboard hook terminated")
		}
	}()

	return s, nil
}

func (s *hookSource) IsDown() (bool, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.down.Load(), nil
}

func (s *hookSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	hook.End()
	return nil
}
