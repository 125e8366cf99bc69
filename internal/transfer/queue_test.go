package transfer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/recorder"
)

// scriptedSender returns the scripted errors one per call, then succeeds.
type scriptedSender struct {
	mu   sync.Mutex
	errs []error
	sent int
}

func (s *scriptedSender) Send(ctx context.Context, clip *recorder.ClipFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func testTransferConfig() config.TransferConfig {
	return config.TransferConfig{
		Backend:            "email",
		MaxAttachmentBytes: 1024,
		MaxAttempts:        5,
		InitialInterval:    time.Millisecond,
		MaxInterval:        5 * time.Millisecond,
		QueueDepth:         4,
		DrainTimeout:       time.Second,
	}
}

func tempClip(t *testing.T, size int) *recorder.ClipFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motion_test.mkv")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xA5}, size), 0o644))
	now := time.Now()
	return &recorder.ClipFile{
		ID:        "clip-1",
		Path:      path,
		StartTime: now.Add(-2 * time.Second),
		EndTime:   now,
		SizeBytes: int64(size),
	}
}

func startQueue(t *testing.T, cfg config.TransferConfig, sender Sender) *Queue {
	t.Helper()
	q := NewQueue(cfg, sender, zap.NewNop())
	q.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})
	return q
}

func TestDeliveryRetriesNetworkFailuresThenDeletes(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		NetworkFailure(errors.New("connection refused")),
		NetworkFailure(errors.New("i/o timeout")),
	}}
	cfg := testTransferConfig()
	cfg.DeleteLocalRecordings = true
	q := startQueue(t, cfg, sender)

	clip := tempClip(t, 100)
	q.Enqueue(clip)

	require.Eventually(t, func() bool {
		delivered, _, _ := q.Stats()
		return delivered == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 3, sender.calls(), "two failures then a success")
	_, err := os.Stat(clip.Path)
	require.True(t, os.IsNotExist(err), "delivered clip must be deleted when configured")
}

func TestDeliveredClipRetainedWhenDeleteDisabled(t *testing.T) {
	sender := &scriptedSender{}
	q := startQueue(t, testTransferConfig(), sender)

	clip := tempClip(t, 100)
	q.Enqueue(clip)

	require.Eventually(t, func() bool {
		delivered, _, _ := q.Stats()
		return delivered == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := os.Stat(clip.Path)
	require.NoError(t, err, "clip must stay on disk unless deletion is opted in")
}

func TestExhaustedRetriesRetainFile(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		NetworkFailure(errors.New("down")),
		NetworkFailure(errors.New("down")),
		NetworkFailure(errors.New("down")),
	}}
	cfg := testTransferConfig()
	cfg.MaxAttempts = 3
	cfg.DeleteLocalRecordings = true
	q := startQueue(t, cfg, sender)

	clip := tempClip(t, 100)
	q.Enqueue(clip)

	require.Eventually(t, func() bool {
		_, failed, _ := q.Stats()
		return failed == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 3, sender.calls(), "attempts must stop at the configured cap")
	_, err := os.Stat(clip.Path)
	require.NoError(t, err, "an undelivered clip must never be deleted")
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		AuthFailure(errors.New("535 authentication failed")),
		nil, // a retry would succeed, proving it must not happen
	}}
	cfg := testTransferConfig()
	cfg.DeleteLocalRecordings = true
	q := startQueue(t, cfg, sender)

	clip := tempClip(t, 100)
	q.Enqueue(clip)

	require.Eventually(t, func() bool {
		_, failed, _ := q.Stats()
		return failed == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 1, sender.calls(), "credential failures are terminal")
	_, err := os.Stat(clip.Path)
	require.NoError(t, err)
}

func TestOversizedClipIsNeverSent(t *testing.T) {
	sender := &scriptedSender{}
	cfg := testTransferConfig()
	cfg.MaxAttachmentBytes = 64
	cfg.DeleteLocalRecordings = true
	q := startQueue(t, cfg, sender)

	clip := tempClip(t, 100)
	q.Enqueue(clip)

	require.Eventually(t, func() bool {
		_, _, oversized := q.Stats()
		return oversized == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Zero(t, sender.calls(), "size policy runs before any attempt")
	_, err := os.Stat(clip.Path)
	require.NoError(t, err, "oversized clips are retained locally")
}

func TestEnqueueBeyondDepthStillDelivers(t *testing.T) {
	sender := &scriptedSender{}
	cfg := testTransferConfig()
	cfg.QueueDepth = 1
	q := startQueue(t, cfg, sender)

	const n = 5
	for i := 0; i < n; i++ {
		q.Enqueue(tempClip(t, 10))
	}

	require.Eventually(t, func() bool {
		delivered, _, _ := q.Stats()
		return delivered == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEnqueueAfterShutdownIsDropped(t *testing.T) {
	sender := &scriptedSender{}
	q := NewQueue(testTransferConfig(), sender, zap.NewNop())
	q.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)

	clip := tempClip(t, 10)
	q.Enqueue(clip)

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, sender.calls())
	_, err := os.Stat(clip.Path)
	require.NoError(t, err, "the clip stays on disk for manual recovery")
}

func TestUnclassifiedErrorsAreRetryable(t *testing.T) {
	require.Equal(t, ClassNetwork, ClassOf(errors.New("plain error")))
	require.Equal(t, ClassAuth, ClassOf(AuthFailure(errors.New("bad password"))))
	require.Equal(t, ClassRejected, ClassOf(Rejected(errors.New("552 message too large"))))
	wrapped := NetworkFailure(errors.New("reset"))
	require.Equal(t, ClassNetwork, ClassOf(wrapped))
	require.EqualError(t, errors.Unwrap(wrapped), "reset")
}
