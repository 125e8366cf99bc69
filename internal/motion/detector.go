package motion

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/camera"
	"github.com/mikeyg42/motioncam/internal/config"
)

// Sample is the per-frame motion verdict. It is consumed immediately by the
// recording controller and not retained.
type Sample struct {
	Timestamp time.Time
	Motion    bool
	Score     float64
}

// Stats tracks detector activity.
type Stats struct {
	FramesProcessed int64
	MotionSamples   int64
	LastMotionTime  time.Time
	PeakScore       float64
}

// Detector scores successive frames against a reference frame using a mean
// absolute difference over sampled pixels. The reference advances toward
// each new frame with a per-evaluation step cap, so gradual lighting drift
// is tracked while slow-moving subjects cannot blend themselves into the
// background.
//
// Detector is owned by the single capture goroutine and is not safe for
// concurrent use.
type Detector struct {
	minPixelDiff float64
	sampleStride int
	maxRefStep   int

	ref    []byte
	refW   int
	refH   int
	stats  Stats
	logger *zap.Logger
}

// NewDetector builds a detector from validated configuration.
func NewDetector(cfg config.MotionConfig, logger *zap.Logger) (*Detector, error) {
	if cfg.MinPixelDiff <= 0 {
		return nil, fmt.Errorf("min pixel diff must be positive, got %v", cfg.MinPixelDiff)
	}
	if cfg.SampleStride <= 0 {
		return nil, fmt.Errorf("sample stride must be positive, got %d", cfg.SampleStride)
	}
	return &Detector{
		minPixelDiff: cfg.MinPixelDiff,
		sampleStride: cfg.SampleStride,
		maxRefStep:   cfg.MaxRefStep,
		logger:       logger.Named("motion"),
	}, nil
}

// Evaluate scores frame against the current reference and updates the
// reference. The first frame (or a resolution change) has no reference and
// always yields Motion=false.
func (d *Detector) Evaluate(frame *camera.Frame) Sample {
	d.stats.FramesProcessed++

	if d.ref == nil || d.refW != frame.Width || d.refH != frame.Height || len(d.ref) != len(frame.Data) {
		d.adoptReference(frame)
		return Sample{Timestamp: frame.Timestamp}
	}

	score := d.score(frame.Data)
	isMotion := score > d.minPixelDiff

	if isMotion {
		d.stats.MotionSamples++
		d.stats.LastMotionTime = frame.Timestamp
	}
	if score > d.stats.PeakScore {
		d.stats.PeakScore = score
	}

	d.advanceReference(frame.Data)

	return Sample{Timestamp: frame.Timestamp, Motion: isMotion, Score: score}
}

// score computes the mean absolute byte difference between data and the
// reference over every sampleStride-th byte.
func (d *Detector) score(data []byte) float64 {
	var sum, n int64
	for i := 0; i < len(data); i += d.sampleStride {
		diff := int64(data[i]) - int64(d.ref[i])
		if diff < 0 {
			diff = -diff
		}
		sum += diff
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// advanceReference moves the reference toward the current frame, at most
// maxRefStep per byte per evaluation. A step cap of zero degenerates to a
// frozen reference, so treat it as plain previous-frame differencing.
func (d *Detector) advanceReference(data []byte) {
	if d.maxRefStep == 0 || d.maxRefStep >= 255 {
		copy(d.ref, data)
		return
	}
	step := d.maxRefStep
	for i := range d.ref {
		diff := int(data[i]) - int(d.ref[i])
		if diff > step {
			diff = step
		} else if diff < -step {
			diff = -step
		}
		d.ref[i] = byte(int(d.ref[i]) + diff)
	}
}

func (d *Detector) adoptReference(frame *camera.Frame) {
	d.ref = append([]byte(nil), frame.Data...)
	d.refW = frame.Width
	d.refH = frame.Height
	d.logger.Debug("reference frame adopted",
		zap.Int("width", frame.Width),
		zap.Int("height", frame.Height),
		zap.Uint64("sequence", frame.Sequence))
}

// GetStats returns a copy of the running statistics.
func (d *Detector) GetStats() Stats {
	return d.stats
}
