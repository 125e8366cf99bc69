package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration. It is built once at startup,
// validated, and injected into each component at construction.
type Config struct {
	Camera   CameraConfig
	Motion   MotionConfig
	Record   RecordConfig
	Transfer TransferConfig
	Email    EmailConfig
	MinIO    MinIOConfig
}

// CameraConfig describes the frame source.
type CameraConfig struct {
	// Device is the capture device index or a path/URL understood by the
	// capture backend.
	Device string

	Width     int
	Height    int
	Framerate int

	// Zoom is a centered crop factor in (0, 1]; 1 means no zoom.
	Zoom float64

	// Preview opens a window showing the post-crop frames.
	Preview bool
}

// MotionConfig tunes frame differencing.
type MotionConfig struct {
	// MinPixelDiff is the inverse-sensitivity threshold: a frame pair is
	// motion when its mean sampled pixel difference is strictly greater
	// than this value. Lower values are more sensitive.
	MinPixelDiff float64

	// SampleStride selects every Nth pixel when scoring a frame pair.
	SampleStride int

	// MaxRefStep caps how far the reference frame may move toward the
	// current frame per evaluation, so slow-moving subjects are not
	// absorbed into the reference.
	MaxRefStep int
}

// RecordConfig tunes the recording state machine and clip output.
type RecordConfig struct {
	OutputDir string

	// PreRoll is how much footage before the triggering frame is kept.
	PreRoll time.Duration

	// HangTime is how long motion must be continuously absent before a
	// recording episode ends.
	HangTime time.Duration

	// MaxClipDuration force-finalizes an episode that runs too long.
	// Zero disables the limit.
	MaxClipDuration time.Duration

	// JPEGQuality for encoded clip blocks, 1-100.
	JPEGQuality int
}

// TransferConfig tunes clip delivery.
type TransferConfig struct {
	// Backend selects the delivery mechanism: "email", "minio" or "none".
	Backend string

	DeleteLocalRecordings bool

	// MaxAttachmentBytes marks larger clips oversized (terminal, retained).
	MaxAttachmentBytes int64

	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// QueueDepth bounds the in-memory job channel; completed clips beyond
	// it spill into an overflow list so capture never blocks.
	QueueDepth int

	// DrainTimeout bounds how long shutdown waits for the current attempt.
	DrainTimeout time.Duration
}

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Username  string
	Password  string
	Recipient string
	SMTPHost  string
	SMTPPort  int
	Timeout   time.Duration
}

// MinIOConfig holds object-store delivery settings.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string
}

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			Device:    "0",
			Width:     1280,
			Height:    720,
			Framerate: 15,
			Zoom:      1.0,
		},
		Motion: MotionConfig{
			MinPixelDiff: 7.2,
			SampleStride: 4,
			MaxRefStep:   8,
		},
		Record: RecordConfig{
			OutputDir:   "recordings/",
			PreRoll:     3 * time.Second,
			HangTime:    5 * time.Second,
			JPEGQuality: 85,
		},
		Transfer: TransferConfig{
			Backend:            "email",
			MaxAttachmentBytes: 20 * 1024 * 1024,
			MaxAttempts:        5,
			InitialInterval:    2 * time.Second,
			MaxInterval:        2 * time.Minute,
			QueueDepth:         16,
			DrainTimeout:       30 * time.Second,
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 465,
			Timeout:  30 * time.Second,
		},
		MinIO: MinIOConfig{
			Endpoint: "localhost:9000",
			Bucket:   "recordings",
			Region:   "us-east-1",
		},
	}
}

// Validate checks cross-field constraints before any component is built.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera resolution %dx%d is invalid", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.Framerate <= 0 {
		return fmt.Errorf("framerate must be positive, got %d", c.Camera.Framerate)
	}
	if c.Camera.Zoom <= 0 || c.Camera.Zoom > 1 {
		return fmt.Errorf("zoom factor must be in (0, 1], got %v", c.Camera.Zoom)
	}
	if c.Motion.MinPixelDiff <= 0 {
		return fmt.Errorf("min pixel diff must be positive, got %v", c.Motion.MinPixelDiff)
	}
	if c.Motion.SampleStride <= 0 {
		return fmt.Errorf("sample stride must be positive, got %d", c.Motion.SampleStride)
	}
	if c.Motion.MaxRefStep < 0 || c.Motion.MaxRefStep > 255 {
		return fmt.Errorf("max reference step must be in [0, 255], got %d", c.Motion.MaxRefStep)
	}
	if c.Record.PreRoll < 0 {
		return fmt.Errorf("pre-roll duration cannot be negative")
	}
	if c.Record.HangTime <= 0 {
		return fmt.Errorf("hang time must be positive, got %v", c.Record.HangTime)
	}
	if c.Record.OutputDir == "" {
		return fmt.Errorf("recording directory is required")
	}
	if c.Record.JPEGQuality < 1 || c.Record.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be in [1, 100], got %d", c.Record.JPEGQuality)
	}
	switch c.Transfer.Backend {
	case "none":
	case "email":
		if c.Email.Username == "" || c.Email.Password == "" || c.Email.Recipient == "" {
			return fmt.Errorf("email transfer requires username, password and recipient")
		}
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("minio transfer requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown transfer backend %q", c.Transfer.Backend)
	}
	if c.Transfer.Backend != "none" {
		if c.Transfer.MaxAttempts <= 0 {
			return fmt.Errorf("max transfer attempts must be positive, got %d", c.Transfer.MaxAttempts)
		}
		if c.Transfer.MaxAttachmentBytes <= 0 {
			return fmt.Errorf("max attachment size must be positive, got %d", c.Transfer.MaxAttachmentBytes)
		}
	}
	return nil
}
