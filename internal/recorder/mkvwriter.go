package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/motioncam/internal/camera"
	"github.com/mikeyg42/motioncam/internal/config"
)

// matroskaWriter writes one clip as a Matroska file of Motion-JPEG blocks.
// Every frame is JPEG-encoded and written as its own keyframe block with a
// timecode relative to the first frame, so disk writes stay bounded and the
// file is playable up to the last flushed block even after a crash.
type matroskaWriter struct {
	path      string
	file      *os.File
	block     webm.BlockWriteCloser
	logger    *zap.Logger
	quality   int
	framerate int

	firstTS time.Time
	lastTS  time.Time
	frames  int
}

// NewMatroskaFactory returns a WriterFactory producing timestamped .mkv
// files under cfg.OutputDir.
func NewMatroskaFactory(cfg config.RecordConfig, framerate int, logger *zap.Logger) WriterFactory {
	log := logger.Named("clipwriter")
	return func() (ClipWriter, error) {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create recording directory: %w", err)
		}
		name := fmt.Sprintf("motion_%s.mkv", time.Now().Format("2006-01-02_15-04-05.000"))
		path := filepath.Join(cfg.OutputDir, name)
		file, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create clip file: %w", err)
		}
		return &matroskaWriter{
			path:      path,
			file:      file,
			logger:    log,
			quality:   cfg.JPEGQuality,
			framerate: framerate,
		}, nil
	}
}

// Write appends one frame. The container track is initialized lazily from
// the first frame's dimensions.
func (w *matroskaWriter) Write(frame *camera.Frame) error {
	if w.block == nil {
		if err := w.initTrack(frame); err != nil {
			return err
		}
		w.firstTS = frame.Timestamp
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return fmt.Errorf("wrap frame pixels: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, w.quality})
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", frame.Sequence, err)
	}
	defer buf.Close()

	timecode := frame.Timestamp.Sub(w.firstTS).Milliseconds()
	if _, err := w.block.Write(true, timecode, buf.GetBytes()); err != nil {
		return fmt.Errorf("write block at %dms: %w", timecode, err)
	}

	w.lastTS = frame.Timestamp
	w.frames++
	return nil
}

func (w *matroskaWriter) initTrack(frame *camera.Frame) error {
	writers, err := webm.NewSimpleBlockWriter(w.file,
		[]webm.TrackEntry{
			{
				Name:            "Video",
				TrackNumber:     1,
				TrackUID:        1,
				CodecID:         "V_MJPEG",
				TrackType:       1,
				DefaultDuration: uint64((time.Second / time.Duration(w.framerate)).Nanoseconds()),
				Video: &webm.Video{
					PixelWidth:  uint64(frame.Width),
					PixelHeight: uint64(frame.Height),
				},
			},
		})
	if err != nil {
		return fmt.Errorf("initialize container: %w", err)
	}
	w.block = writers[0]
	return nil
}

// Close finalizes the file and returns its metadata. A session that never
// received a frame removes its empty file and returns nil.
func (w *matroskaWriter) Close() (*ClipFile, error) {
	if w.block == nil {
		w.file.Close()
		os.Remove(w.path)
		return nil, nil
	}

	if err := w.block.Close(); err != nil {
		os.Remove(w.path)
		return nil, fmt.Errorf("finalize container: %w", err)
	}

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fmt.Errorf("stat finished clip: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(w.path)
		return nil, fmt.Errorf("finished clip %s is empty", w.path)
	}

	w.logger.Debug("clip file written",
		zap.String("path", w.path),
		zap.Int("frames", w.frames),
		zap.Int64("size_bytes", info.Size()))

	return &ClipFile{
		ID:        uuid.New().String(),
		Path:      w.path,
		StartTime: w.firstTS,
		EndTime:   w.lastTS,
		SizeBytes: info.Size(),
	}, nil
}

// Abort discards the session and removes the partial file.
func (w *matroskaWriter) Abort() error {
	if w.block != nil {
		w.block.Close()
		w.block = nil
	} else {
		w.file.Close()
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial clip: %w", err)
	}
	return nil
}
