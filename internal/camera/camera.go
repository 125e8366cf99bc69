package camera

import (
	"errors"
	"time"
)

// ErrSourceUnavailable indicates the underlying capture hardware is gone.
// The pipeline treats it as fatal: it flushes any in-progress clip and exits.
var ErrSourceUnavailable = errors.New("camera: source unavailable")

// Frame is an immutable BGR24 pixel buffer with capture metadata. It is
// never mutated after creation; stages hand it onward by pointer.
type Frame struct {
	Data      []byte // packed BGR, Height*Width*3 bytes
	Width     int
	Height    int
	Timestamp time.Time
	Sequence  uint64
}

// Source yields timestamped frames at the capture cadence. NextFrame blocks
// until a frame is available.
type Source interface {
	NextFrame() (*Frame, error)
	Close() error
}
