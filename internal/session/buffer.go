package session

// captureBuffer accumulates audio frames for one push-to-talk hold. It is
// not goroutine-safe; the controller serializes access under its own mutex.
type captureBuffer struct {
	frames  [][]float32
	samples int
}

// Append stores a frame. The frame slice is owned by the buffer afterwards.
func (b *captureBuffer) Append(frame []float32) {
	b.frames = append(b.frames, frame)
	b.samples += len(frame)
}

// Samples reports the total sample count across all buffered frames.
func (b *captureBuffer) Samples() int {
	return b.samples
}

// Snapshot returns the buffered frames in arrival order and resets the
// buffer, so the next hold starts empty.
func (b *captureBuffer) Snapshot() [][]float32 {
	frames := b.frames
	b.frames = nil
	b.samples = 0
	return frames
}

// Reset discards any buffered audio.
func (b *captureBuffer) Reset() {
	b.frames = nil
	b.samples = 0
}

// concatFrames flattens frames into one contiguous sample slice, verifying
// each frame is non-empty. A nil return with ok=false signals a corrupt
// capture.
func concatFrames(frames [][]float32) ([]float32, bool) {
	total := 0
	for _, frame := range frames {
		if len(frame) == 0 {
			return nil, false
		}
		total += len(frame)
	}
	samples := make([]float32, 0, total)
	for _, frame := range frames {
		samples = append(samples, frame...)
	}
	return samples, true
}
