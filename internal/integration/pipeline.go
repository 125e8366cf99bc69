package integration

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/camera"
	"github.com/mikeyg42/motioncam/internal/motion"
	"github.com/mikeyg42/motioncam/internal/recorder"
)

// Pipeline runs the synchronous capture → detect → record loop. It owns the
// frame source, the detector and the recording controller; clip delivery
// happens on the transfer queue's own goroutine so a slow network never
// stalls this loop.
type Pipeline struct {
	source     camera.Source
	detector   *motion.Detector
	controller *recorder.Controller
	logger     *zap.Logger
}

// NewPipeline wires the capture loop.
func NewPipeline(source camera.Source, detector *motion.Detector, controller *recorder.Controller, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		source:     source,
		detector:   detector,
		controller: controller,
		logger:     logger.Named("pipeline"),
	}
}

// Run processes frames until the context is cancelled or the source becomes
// unavailable. Any in-progress clip is flushed before returning, so the
// footage leading up to a shutdown or camera loss is kept.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.controller.Flush()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("capture loop stopping", zap.String("cause", "shutdown"))
			return nil
		default:
		}

		frame, err := p.source.NextFrame()
		if err != nil {
			if errors.Is(err, camera.ErrSourceUnavailable) {
				p.logger.Error("frame source unavailable, terminating", zap.Error(err))
				return err
			}
			p.logger.Warn("frame capture error, continuing", zap.Error(err))
			continue
		}

		sample := p.detector.Evaluate(frame)
		p.controller.HandleFrame(frame, sample)
	}
}
