package transfer

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/recorder"
)

// Sender delivers one clip to the configured recipient. Failures should be
// classified with the helpers in errors.go; unclassified errors are retried
// as network failures.
type Sender interface {
	Send(ctx context.Context, clip *recorder.ClipFile) error
}

// Job is one clip awaiting delivery, with its own retry state. Jobs live in
// memory only; an unsent clip survives restarts as a plain file on disk.
type Job struct {
	ID          string
	Clip        *recorder.ClipFile
	Attempts    int
	NextAttempt time.Time

	retry backoff.BackOff
}

// Queue accepts finished clips and drains them through a single dedicated
// worker, one job at a time, so slow transfers respect the bandwidth limit
// and never stall frame capture. Enqueue never blocks: jobs beyond the
// channel depth spill into an overflow list.
type Queue struct {
	sender Sender
	cfg    config.TransferConfig
	logger *zap.Logger

	jobs     chan *Job
	overflow []*Job
	mu       sync.Mutex

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	wg       sync.WaitGroup

	runCtx context.Context
	cancel context.CancelFunc

	delivered atomic.Int64
	failed    atomic.Int64
	oversized atomic.Int64
	deletedOK atomic.Int64
}

// NewQueue builds a transfer queue. Call Start to launch the worker.
func NewQueue(cfg config.TransferConfig, sender Sender, logger *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 1
	}
	return &Queue{
		sender: sender,
		cfg:    cfg,
		logger: logger.Named("transfer"),
		jobs:   make(chan *Job, depth),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		runCtx: ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Enqueue accepts a finished clip for delivery. Never blocks; safe to call
// from the capture goroutine. Clips enqueued after shutdown are dropped
// from the queue but remain on disk.
func (q *Queue) Enqueue(clip *recorder.ClipFile) {
	job := &Job{
		ID:    uuid.New().String(),
		Clip:  clip,
		retry: q.newBackOff(),
	}
	if q.stopped.Load() {
		q.logger.Warn("queue stopped, clip retained on disk",
			zap.String("clip_id", clip.ID), zap.String("path", clip.Path))
		return
	}

	q.mu.Lock()
	if len(q.overflow) > 0 {
		q.overflow = append(q.overflow, job)
		q.mu.Unlock()
	} else {
		q.mu.Unlock()
		select {
		case q.jobs <- job:
		default:
			q.mu.Lock()
			q.overflow = append(q.overflow, job)
			q.mu.Unlock()
		}
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) newBackOff() backoff.BackOff {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = q.cfg.InitialInterval
	ebo.MaxInterval = q.cfg.MaxInterval
	ebo.Multiplier = 2
	ebo.MaxElapsedTime = 0
	ebo.Reset()
	return ebo
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			q.logRemaining()
			return
		case job := <-q.jobs:
			q.process(job)
		default:
			if q.refill() {
				continue
			}
			select {
			case <-q.stop:
				q.logRemaining()
				return
			case job := <-q.jobs:
				q.process(job)
			case <-q.wake:
			}
		}
	}
}

// refill moves overflow jobs into the channel, oldest first.
func (q *Queue) refill() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := false
	for len(q.overflow) > 0 {
		select {
		case q.jobs <- q.overflow[0]:
			q.overflow[0] = nil
			q.overflow = q.overflow[1:]
			moved = true
		default:
			return moved
		}
	}
	return moved
}

func (q *Queue) process(job *Job) {
	if wait := time.Until(job.NextAttempt); wait > 0 {
		select {
		case <-time.After(wait):
		case <-q.stop:
			return
		}
	}

	clip := job.Clip

	// Size policy runs before any attempt and never consumes retries. The
	// distinct class keeps oversized clips separable from network failures
	// in operator logs.
	if clip.SizeBytes > q.cfg.MaxAttachmentBytes {
		q.oversized.Add(1)
		q.logger.Error("clip exceeds attachment size policy, retained on disk",
			zap.String("class", string(ClassOversized)),
			zap.String("job_id", job.ID),
			zap.String("clip_id", clip.ID),
			zap.String("path", clip.Path),
			zap.Int64("size_bytes", clip.SizeBytes),
			zap.Int64("max_bytes", q.cfg.MaxAttachmentBytes))
		return
	}

	err := q.sender.Send(q.runCtx, clip)
	if err == nil {
		q.delivered.Add(1)
		q.logger.Info("clip delivered",
			zap.String("job_id", job.ID),
			zap.String("clip_id", clip.ID),
			zap.Int("attempts", job.Attempts+1))
		if q.cfg.DeleteLocalRecordings {
			if rmErr := os.Remove(clip.Path); rmErr != nil {
				q.logger.Warn("failed to delete delivered clip", zap.String("path", clip.Path), zap.Error(rmErr))
			} else {
				q.deletedOK.Add(1)
				q.logger.Info("local clip deleted", zap.String("path", clip.Path))
			}
		}
		return
	}

	job.Attempts++
	class := ClassOf(err)

	if class != ClassNetwork {
		q.failed.Add(1)
		q.logger.Error("clip delivery permanently failed, retained on disk",
			zap.String("class", string(class)),
			zap.String("job_id", job.ID),
			zap.String("clip_id", clip.ID),
			zap.String("path", clip.Path),
			zap.Error(err))
		return
	}
	if job.Attempts >= q.cfg.MaxAttempts {
		q.failed.Add(1)
		q.logger.Error("clip delivery exhausted retries, retained on disk",
			zap.String("class", string(class)),
			zap.String("job_id", job.ID),
			zap.String("clip_id", clip.ID),
			zap.String("path", clip.Path),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
		return
	}

	delay := job.retry.NextBackOff()
	job.NextAttempt = time.Now().Add(delay)
	q.logger.Warn("clip delivery failed, will retry",
		zap.String("job_id", job.ID),
		zap.String("clip_id", clip.ID),
		zap.Int("attempts", job.Attempts),
		zap.Duration("retry_in", delay),
		zap.Error(err))
	q.requeue(job)
}

// requeue puts a failed job back at the tail, so a newer clip may be sent
// before the retry fires. Clips are independent, so reordering is fine.
func (q *Queue) requeue(job *Job) {
	q.mu.Lock()
	q.overflow = append(q.overflow, job)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops the worker, waiting up to ctx for the in-flight attempt.
// Pending jobs are dropped from memory; their clips remain on disk.
func (q *Queue) Shutdown(ctx context.Context) {
	q.stopped.Store(true)
	q.stopOnce.Do(func() { close(q.stop) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.cancel()
		<-done
	}
	q.cancel()
}

func (q *Queue) logRemaining() {
	q.mu.Lock()
	pending := len(q.overflow) + len(q.jobs)
	q.mu.Unlock()
	if pending > 0 {
		q.logger.Info("transfer queue stopped with pending jobs, clips remain on disk",
			zap.Int("pending", pending))
	}
}

// Stats returns delivery counters.
func (q *Queue) Stats() (delivered, failed, oversized int64) {
	return q.delivered.Load(), q.failed.Load(), q.oversized.Load()
}
