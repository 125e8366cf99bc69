package motion

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/camera"
	"github.com/mikeyg42/motioncam/internal/config"
)

func testFrame(seq uint64, fill byte) *camera.Frame {
	data := make([]byte, 8*8*3)
	for i := range data {
		data[i] = fill
	}
	return &camera.Frame{
		Data:      data,
		Width:     8,
		Height:    8,
		Timestamp: time.Unix(0, 0).Add(time.Duration(seq) * time.Second),
		Sequence:  seq,
	}
}

func newTestDetector(t *testing.T, cfg config.MotionConfig) *Detector {
	t.Helper()
	d, err := NewDetector(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return d
}

func TestFirstFrameIsNeverMotion(t *testing.T) {
	d := newTestDetector(t, config.MotionConfig{MinPixelDiff: 0.1, SampleStride: 1, MaxRefStep: 255})

	sample := d.Evaluate(testFrame(1, 200))
	if sample.Motion {
		t.Fatal("First frame has no reference and must not report motion")
	}
	if sample.Score != 0 {
		t.Fatalf("First frame score should be 0, got %v", sample.Score)
	}
}

func TestScoreIsMeanAbsoluteDifference(t *testing.T) {
	d := newTestDetector(t, config.MotionConfig{MinPixelDiff: 5.2, SampleStride: 1, MaxRefStep: 255})

	d.Evaluate(testFrame(1, 0))
	sample := d.Evaluate(testFrame(2, 10))
	if sample.Score != 10 {
		t.Fatalf("Expected score 10 for uniform difference of 10, got %v", sample.Score)
	}
	if !sample.Motion {
		t.Fatal("Score 10 must exceed threshold 5.2")
	}
}

func TestThresholdIsExclusiveAndMonotonic(t *testing.T) {
	// A uniform difference of 10 produces score exactly 10.
	testCases := []struct {
		name      string
		threshold float64
		want      bool
	}{
		{"well below", 5.2, true},
		{"just below", 9.99, true},
		{"exactly at score", 10.0, false}, // strictly greater-than
		{"above", 15.0, false},
	}

	previousMotion := true
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDetector(t, config.MotionConfig{MinPixelDiff: tc.threshold, SampleStride: 1, MaxRefStep: 255})
			d.Evaluate(testFrame(1, 0))
			sample := d.Evaluate(testFrame(2, 10))
			if sample.Motion != tc.want {
				t.Fatalf("threshold %v: Motion = %v, want %v", tc.threshold, sample.Motion, tc.want)
			}
			// Raising the threshold may only turn true into false.
			if sample.Motion && !previousMotion {
				t.Fatal("Motion became true at a higher threshold; detection is not monotonic")
			}
			previousMotion = sample.Motion
		})
	}
}

func TestSampleStrideStillSeesUniformChange(t *testing.T) {
	d := newTestDetector(t, config.MotionConfig{MinPixelDiff: 5.2, SampleStride: 7, MaxRefStep: 255})

	d.Evaluate(testFrame(1, 0))
	sample := d.Evaluate(testFrame(2, 20))
	if sample.Score != 20 {
		t.Fatalf("Sampled score should match uniform difference, got %v", sample.Score)
	}
}

func TestCappedBlendDoesNotAbsorbSlowSubject(t *testing.T) {
	d := newTestDetector(t, config.MotionConfig{MinPixelDiff: 5.2, SampleStride: 1, MaxRefStep: 8})

	d.Evaluate(testFrame(1, 0))

	// A subject that appears and then holds still: with a capped reference
	// step the score decays by at most 8 per frame instead of collapsing
	// to zero immediately.
	sample := d.Evaluate(testFrame(2, 100))
	if sample.Score != 100 {
		t.Fatalf("Initial appearance score = %v, want 100", sample.Score)
	}
	sample = d.Evaluate(testFrame(3, 100))
	if sample.Score != 92 {
		t.Fatalf("Score after one capped blend step = %v, want 92", sample.Score)
	}
	if !sample.Motion {
		t.Fatal("Slow-moving subject was absorbed into the reference")
	}
}

func TestPreviousFrameModeForgetsImmediately(t *testing.T) {
	d := newTestDetector(t, config.MotionConfig{MinPixelDiff: 5.2, SampleStride: 1, MaxRefStep: 255})

	d.Evaluate(testFrame(1, 0))
	d.Evaluate(testFrame(2, 100))
	sample := d.Evaluate(testFrame(3, 100))
	if sample.Score != 0 {
		t.Fatalf("Previous-frame diff of identical frames should score 0, got %v", sample.Score)
	}
	if sample.Motion {
		t.Fatal("Identical consecutive frames must not report motion")
	}
}

func TestResolutionChangeResetsReference(t *testing.T) {
	d := newTestDetector(t, config.MotionConfig{MinPixelDiff: 0.1, SampleStride: 1, MaxRefStep: 255})

	d.Evaluate(testFrame(1, 0))

	big := &camera.Frame{
		Data:      make([]byte, 16*16*3),
		Width:     16,
		Height:    16,
		Timestamp: time.Unix(2, 0),
		Sequence:  2,
	}
	for i := range big.Data {
		big.Data[i] = 200
	}
	sample := d.Evaluate(big)
	if sample.Motion {
		t.Fatal("A resolution change must re-seed the reference, not report motion")
	}
}
