// Package inject delivers transcribed text into the focused application via
// the system clipboard and a synthesized paste chord.
package inject

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"github.com/voxkey/voxkey/internal/config"
)

// Injector places text in the clipboard and triggers a paste in the focused
// window.
type Injector interface {
	SetClipboard(text string) error
	SendPaste() error
	RestoreClipboard() error
}

// System is the real injector. Paste uses Ctrl+V, or Cmd+V on darwin.
type System struct {
	cfg config.InjectConfig
	log *slog.Logger

	mu       sync.Mutex
	bonding  keybd_event.KeyBonding
	previous string
	saved    bool
}

func NewSystem(cfg config.InjectConfig, log *slog.Logger) (*System, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("initialize key synthesis: %w", err)
	}
	kb.SetKeys(keybd_event.VK_V)
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	return &System{
		cfg:     cfg,
		log:     log.With(slog.String("component", "inject")),
		bonding: kb,
	}, nil
}

// SetClipboard stores text for pasting. When restore is enabled the prior
// clipboard contents are remembered so RestoreClipboard can put them back.
func (s *System) SetClipboard(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.RestoreClipboard {
		previous, err := clipboard.ReadAll()
		if err != nil {
			s.log.Warn("could not read clipboard for restore", slogError(err))
			s.saved = false
		} else {
			s.previous = previous
			s.saved = true
		}
	}

	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

func (s *System) SendPaste() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bonding.Launching(); err != nil {
		return fmt.Errorf("send paste chord: %w", err)
	}
	return nil
}

// RestoreClipboard puts the pre-injection clipboard contents back, if they
// were captured. It is a no-op when restore is disabled.
func (s *System) RestoreClipboard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.saved {
		return nil
	}
	s.saved = false
	if err := clipboard.WriteAll(s.previous); err != nil {
		return fmt.Errorf("restore clipboard: %w", err)
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
