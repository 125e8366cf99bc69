package camera

import (
	"fmt"
	"image"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/motioncam/internal/config"
)

// GoCVSource captures frames from a camera device (or capture path) via
// OpenCV, applies the configured centered zoom crop and hands immutable
// frames downstream.
type GoCVSource struct {
	capture *gocv.VideoCapture
	window  *gocv.Window
	logger  *zap.Logger

	width   int
	height  int
	zoom    float64
	preview bool

	raw      gocv.Mat // reused capture target
	cropped  gocv.Mat // reused zoom output
	sequence uint64
	closed   bool
}

// NewGoCVSource opens the capture device described by cfg. Device may be a
// numeric index ("0") or a path/URL.
func NewGoCVSource(cfg config.CameraConfig, logger *zap.Logger) (*GoCVSource, error) {
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if idx, convErr := strconv.Atoi(cfg.Device); convErr == nil {
		capture, err = gocv.OpenVideoCapture(idx)
	} else {
		capture, err = gocv.OpenVideoCapture(cfg.Device)
	}
	if err != nil {
		return nil, fmt.Errorf("open capture device %q: %w", cfg.Device, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))

	s := &GoCVSource{
		capture: capture,
		logger:  logger.Named("camera"),
		width:   cfg.Width,
		height:  cfg.Height,
		zoom:    cfg.Zoom,
		preview: cfg.Preview,
		raw:     gocv.NewMat(),
		cropped: gocv.NewMat(),
	}
	if cfg.Preview {
		s.window = gocv.NewWindow("motioncam")
	}

	s.logger.Info("capture device opened",
		zap.String("device", cfg.Device),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Int("framerate", cfg.Framerate),
		zap.Float64("zoom", cfg.Zoom))
	return s, nil
}

// NextFrame blocks until the device delivers a frame, then returns it with
// the zoom crop applied. A dead or disconnected device surfaces
// ErrSourceUnavailable.
func (s *GoCVSource) NextFrame() (*Frame, error) {
	if s.closed {
		return nil, ErrSourceUnavailable
	}
	if ok := s.capture.Read(&s.raw); !ok || s.raw.Empty() {
		return nil, ErrSourceUnavailable
	}
	ts := time.Now()

	mat := s.raw
	if s.zoom < 1 {
		s.applyZoom()
		mat = s.cropped
	}

	if s.window != nil {
		s.window.IMShow(mat)
		s.window.WaitKey(1)
	}

	s.sequence++
	return &Frame{
		Data:      mat.ToBytes(),
		Width:     mat.Cols(),
		Height:    mat.Rows(),
		Timestamp: ts,
		Sequence:  s.sequence,
	}, nil
}

// applyZoom crops the centered zoom region out of the raw frame and scales
// it back to the capture resolution.
func (s *GoCVSource) applyZoom() {
	w := int(float64(s.raw.Cols()) * s.zoom)
	h := int(float64(s.raw.Rows()) * s.zoom)
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	x := (s.raw.Cols() - w) / 2
	y := (s.raw.Rows() - h) / 2

	region := s.raw.Region(image.Rect(x, y, x+w, y+h))
	defer region.Close()
	gocv.Resize(region, &s.cropped, image.Point{X: s.raw.Cols(), Y: s.raw.Rows()}, 0, 0, gocv.InterpolationLinear)
}

// Close releases the device and any preview window.
func (s *GoCVSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.raw.Close()
	s.cropped.Close()
	if s.window != nil {
		s.window.Close()
	}
	if err := s.capture.Close(); err != nil {
		return fmt.Errorf("close capture device: %w", err)
	}
	s.logger.Info("capture device closed", zap.Uint64("frames", s.sequence))
	return nil
}
