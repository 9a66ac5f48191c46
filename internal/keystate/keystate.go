// Package keystate reports the physical down/up state of the configured
// push-to-talk key. It is the poll primitive consumed by the hotkey monitor;
// edge detection lives there, not here.
package keystate

// Source answers whether the configured key is currently held. IsDown must
// not block; a returned error means the underlying input hook is gone and
// no further polling is possible.
type Source interface {
	IsDown() (bool, error)
	Close() error
}
