package recorder

import (
	"time"

	"github.com/mikeyg42/motioncam/internal/camera"
)

// ClipFile describes a finished recording on disk. It is immutable once
// produced; ownership transfers to the transfer queue when enqueued.
type ClipFile struct {
	ID        string
	Path      string
	StartTime time.Time
	EndTime   time.Time
	SizeBytes int64
}

// ClipWriter is one recording session. Frames must be written in timestamp
// order. Close finalizes the file and returns its metadata; a session that
// never received a frame closes to a nil ClipFile. Abort discards the
// session and removes any partial file.
type ClipWriter interface {
	Write(frame *camera.Frame) error
	Close() (*ClipFile, error)
	Abort() error
}

// WriterFactory opens a new clip session.
type WriterFactory func() (ClipWriter, error)

// Enqueuer accepts finished clips for delivery.
type Enqueuer interface {
	Enqueue(clip *ClipFile)
}
