//go:build windows

package keystate

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

type winSource struct {
	proc *syscall.LazyProc
	vk   uintptr
}

// New resolves the key name to a virtual-key code and binds to
// user32.GetAsyncKeyState.
func New(key string) (Source, error) {
	vk, err := parseVirtualKey(key)
	if err != nil {
		return nil, err
	}
	user32 := syscall.NewLazyDLL("user32.dll")
	proc := user32.NewProc("GetAsyncKeyState")
	if err := proc.Find(); err != nil {
		return nil, fmt.Errorf("resolve GetAsyncKeyState: %w", err)
	}
	return &winSource{proc: proc, vk: uintptr(vk)}, nil
}

func (s *winSource) IsDown() (bool, error) {
	state, _, _ := s.proc.Call(s.vk)
	return state&0x8000 != 0, nil
}

func (s *winSource) Close() error { return nil }

// parseVirtualKey accepts single key names like "alt", "f8", "space" or "a"
// and returns the Windows virtual-key code.
func parseVirtualKey(s string) (uint32, error) {
	key := strings.TrimSpace(strings.ToLower(s))
	if key == "" {
		return 0, fmt.Errorf("empty key")
	}
	if len(key) == 1 {
		ch := key[0]
		if ch >= 'a' && ch <= 'z' {
			return uint32(ch - 'a' + 'A'), nil
		}
		if ch >= '0' && ch <= '9' {
			return uint32(ch), nil
		}
	}
	if strings.HasPrefix(key, "f") {
		if n, err := strconv.Atoi(strings.TrimPrefix(key, "f")); err == nil && n >= 1 && n <= 24 {
			return 0x70 + uint32(n-1), nil
		}
	}
	named := map[string]uint32{
		"alt":       0x12,
		"lalt":      0xA4,
		"ralt":      0xA5,
		"ctrl":      0x11,
		"control":   0x11,
		"lctrl":     0xA2,
		"rctrl":     0xA3,
		"shift":     0x10,
		"lshift":    0xA0,
		"rshift":    0xA1,
		"capslock":  0x14,
		"caps_lock": 0x14,
		"space":     0x20,
		"tab":       0x09,
		"esc":       0x1B,
		"escape":    0x1B,
		"enter":     0x0D,
		"return":    0x0D,
	}
	if vk, ok := named[key]; ok {
		return vk, nil
	}
	return 0, fmt.Errorf("unsupported key: %s", s)
}
