package recorder

import "github.com/mikeyg42/motioncam/internal/camera"

// PreRollBuffer is a fixed-capacity ring of the most recent frames. It is
// continuously overwritten while the controller is idle so that the seconds
// before a motion trigger are available. The backing array is allocated
// once at construction; the hot loop never reallocates.
//
// It is owned by the single capture goroutine and needs no locking.
type PreRollBuffer struct {
	frames []*camera.Frame
	head   int // index of the oldest frame
	size   int
}

// NewPreRollBuffer creates a ring holding at most capacity frames. A zero
// or negative capacity yields an always-empty buffer.
func NewPreRollBuffer(capacity int) *PreRollBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &PreRollBuffer{frames: make([]*camera.Frame, capacity)}
}

// Push appends a frame, evicting the oldest when full.
func (b *PreRollBuffer) Push(frame *camera.Frame) {
	if len(b.frames) == 0 {
		return
	}
	if b.size < len(b.frames) {
		b.frames[(b.head+b.size)%len(b.frames)] = frame
		b.size++
		return
	}
	b.frames[b.head] = frame
	b.head = (b.head + 1) % len(b.frames)
}

// Drain returns the buffered frames oldest-first and empties the ring.
func (b *PreRollBuffer) Drain() []*camera.Frame {
	out := make([]*camera.Frame, 0, b.size)
	for i := 0; i < b.size; i++ {
		idx := (b.head + i) % len(b.frames)
		out = append(out, b.frames[idx])
		b.frames[idx] = nil
	}
	b.head = 0
	b.size = 0
	return out
}

// Len returns the number of buffered frames.
func (b *PreRollBuffer) Len() int { return b.size }

// Cap returns the ring capacity.
func (b *PreRollBuffer) Cap() int { return len(b.frames) }
