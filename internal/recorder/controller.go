package recorder

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/camera"
	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/motion"
)

// State is the recording state machine position.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Controller drives clip recording from per-frame motion samples.
//
// While idle it keeps the most recent frames in a pre-roll ring; the first
// motion sample flushes the ring into a fresh clip session oldest-first, so
// the clip begins before the triggering frame. While recording or cooling
// down every frame is written regardless of motion, merging brief gaps into
// one clip. The episode ends only when motion has been absent strictly
// longer than the hang time (a frame arriving at exactly the boundary is
// still part of the clip).
//
// The controller is owned by the single capture goroutine; only the
// immutable ClipFile handed to the enqueuer crosses goroutine boundaries.
type Controller struct {
	newWriter WriterFactory
	sink      Enqueuer // nil means clips are only retained on disk
	preRoll   *PreRollBuffer
	logger    *zap.Logger

	hangTime time.Duration
	maxClip  time.Duration

	state      State
	writer     ClipWriter
	clipStart  time.Time // timestamp of the first frame written this episode
	lastMotion time.Time

	clipsCompleted int64
	clipsAborted   int64
}

// NewController builds the state machine. The pre-roll ring is sized from
// the configured duration and frame rate once, up front.
func NewController(cfg config.RecordConfig, framerate int, factory WriterFactory, sink Enqueuer, logger *zap.Logger) *Controller {
	capacity := int(math.Ceil(cfg.PreRoll.Seconds() * float64(framerate)))
	return &Controller{
		newWriter: factory,
		sink:      sink,
		preRoll:   NewPreRollBuffer(capacity),
		logger:    logger.Named("recorder"),
		hangTime:  cfg.HangTime,
		maxClip:   cfg.MaxClipDuration,
		state:     StateIdle,
	}
}

// State returns the current state machine position.
func (c *Controller) State() State { return c.state }

// HandleFrame advances the state machine with one frame and its motion
// sample. Write failures abandon the current clip and force a transition
// back to idle; they are never fatal to the capture loop.
func (c *Controller) HandleFrame(frame *camera.Frame, sample motion.Sample) {
	switch c.state {
	case StateIdle:
		c.handleIdle(frame, sample)
	case StateRecording, StateCooldown:
		c.handleActive(frame, sample)
	}
}

func (c *Controller) handleIdle(frame *camera.Frame, sample motion.Sample) {
	if !sample.Motion {
		c.preRoll.Push(frame)
		return
	}

	writer, err := c.newWriter()
	if err != nil {
		c.logger.Error("failed to open clip session, staying idle", zap.Error(err))
		c.preRoll.Push(frame)
		return
	}
	c.writer = writer

	buffered := c.preRoll.Drain()
	for _, f := range buffered {
		if err := c.writer.Write(f); err != nil {
			c.abortClip(err)
			return
		}
	}
	if err := c.writer.Write(frame); err != nil {
		c.abortClip(err)
		return
	}

	if len(buffered) > 0 {
		c.clipStart = buffered[0].Timestamp
	} else {
		c.clipStart = frame.Timestamp
	}
	c.lastMotion = sample.Timestamp
	c.state = StateRecording

	c.logger.Info("recording started",
		zap.Time("trigger", sample.Timestamp),
		zap.Float64("score", sample.Score),
		zap.Int("pre_roll_frames", len(buffered)))
}

func (c *Controller) handleActive(frame *camera.Frame, sample motion.Sample) {
	// Hang expiry is exclusive: the episode ends only once motion has been
	// absent strictly longer than hangTime. The expiring frame is outside
	// the clip window and is re-handled as idle input, so motion on it
	// starts a fresh episode.
	if sample.Timestamp.Sub(c.lastMotion) > c.hangTime {
		c.finalize("hang time expired")
		c.handleIdle(frame, sample)
		return
	}
	if c.maxClip > 0 && frame.Timestamp.Sub(c.clipStart) >= c.maxClip {
		c.finalize("max clip duration reached")
		c.handleIdle(frame, sample)
		return
	}

	if err := c.writer.Write(frame); err != nil {
		c.abortClip(err)
		return
	}

	if sample.Motion {
		c.lastMotion = sample.Timestamp
		c.state = StateRecording
	} else if c.state == StateRecording {
		c.state = StateCooldown
	}
}

// Flush finalizes any in-progress clip. Called on shutdown and on fatal
// source loss so in-flight footage is not discarded.
func (c *Controller) Flush() {
	if c.writer != nil {
		c.finalize("flush")
	}
}

func (c *Controller) finalize(reason string) {
	clip, err := c.writer.Close()
	c.writer = nil
	c.state = StateIdle

	if err != nil {
		c.clipsAborted++
		c.logger.Error("failed to finalize clip, discarding", zap.String("reason", reason), zap.Error(err))
		return
	}
	if clip == nil {
		return
	}

	c.clipsCompleted++
	c.logger.Info("clip finalized",
		zap.String("clip_id", clip.ID),
		zap.String("path", clip.Path),
		zap.Time("start", clip.StartTime),
		zap.Time("end", clip.EndTime),
		zap.Int64("size_bytes", clip.SizeBytes),
		zap.String("reason", reason))

	if c.sink != nil {
		c.sink.Enqueue(clip)
	}
}

func (c *Controller) abortClip(cause error) {
	c.clipsAborted++
	c.logger.Error("clip write failed, abandoning recording", zap.Error(cause))
	if err := c.writer.Abort(); err != nil {
		c.logger.Warn("failed to discard partial clip", zap.Error(err))
	}
	c.writer = nil
	c.state = StateIdle
}
