// Package audio delivers fixed-size mono PCM frames from a capture process.
package audio

// Source is a continuous audio input stream. Frames are delivered to the
// callback registered at construction, on the source's own goroutine.
type Source interface {
	Start() error
	Stop() error
	// Err surfaces a fatal capture failure (device or process gone).
	Err() <-chan error
}
