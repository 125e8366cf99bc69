package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/camera"
	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/integration"
	"github.com/mikeyg42/motioncam/internal/motion"
	"github.com/mikeyg42/motioncam/internal/notification"
	"github.com/mikeyg42/motioncam/internal/recorder"
	"github.com/mikeyg42/motioncam/internal/storage"
	"github.com/mikeyg42/motioncam/internal/transfer"
)

func main() {
	cfg := config.NewDefaultConfig()
	parseFlags(cfg)

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Pipeline terminated", zap.Error(err))
	}
}

func parseFlags(cfg *config.Config) {
	flag.StringVar(&cfg.Camera.Device, "device", cfg.Camera.Device, "capture device index or path")
	flag.BoolVar(&cfg.Camera.Preview, "preview", cfg.Camera.Preview, "enable the preview window")
	flag.Float64Var(&cfg.Camera.Zoom, "zoom", cfg.Camera.Zoom, "centered zoom crop factor in (0,1]; 1 disables zoom")
	flag.IntVar(&cfg.Camera.Width, "width", cfg.Camera.Width, "capture width")
	flag.IntVar(&cfg.Camera.Height, "height", cfg.Camera.Height, "capture height")
	flag.IntVar(&cfg.Camera.Framerate, "framerate", cfg.Camera.Framerate, "capture frame rate")

	flag.Float64Var(&cfg.Motion.MinPixelDiff, "min-pixel-diff", cfg.Motion.MinPixelDiff,
		"motion threshold on the mean sampled pixel difference (lower is more sensitive)")

	flag.StringVar(&cfg.Record.OutputDir, "recording-dir", cfg.Record.OutputDir, "directory to store recordings")
	flag.DurationVar(&cfg.Record.PreRoll, "pre-roll", cfg.Record.PreRoll, "footage kept before the motion trigger")
	flag.DurationVar(&cfg.Record.HangTime, "hang-time", cfg.Record.HangTime,
		"how long motion must be absent before a recording ends")
	flag.DurationVar(&cfg.Record.MaxClipDuration, "max-recording-length", cfg.Record.MaxClipDuration,
		"force-finalize recordings longer than this (0 disables)")

	flag.StringVar(&cfg.Transfer.Backend, "transfer", cfg.Transfer.Backend, "transfer backend: email, minio or none")
	flag.BoolVar(&cfg.Transfer.DeleteLocalRecordings, "delete-local-recordings", cfg.Transfer.DeleteLocalRecordings,
		"delete local recordings after confirmed transfer")
	maxAttachmentMB := flag.Int64("max-attachment-mb", cfg.Transfer.MaxAttachmentBytes/(1024*1024),
		"clips larger than this are retained locally instead of sent")
	flag.IntVar(&cfg.Transfer.MaxAttempts, "max-attempts", cfg.Transfer.MaxAttempts, "transfer attempts before giving up")

	flag.StringVar(&cfg.Email.Recipient, "recipient", cfg.Email.Recipient, "email address to send recordings to")
	flag.StringVar(&cfg.Email.Username, "email-username", cfg.Email.Username, "email account username (from)")
	flag.StringVar(&cfg.Email.Password, "email-password", cfg.Email.Password, "email account password")
	flag.StringVar(&cfg.Email.SMTPHost, "smtp-server", cfg.Email.SMTPHost, "SMTP server")
	flag.IntVar(&cfg.Email.SMTPPort, "smtp-port", cfg.Email.SMTPPort, "SMTP port (implicit TLS)")

	flag.StringVar(&cfg.MinIO.Endpoint, "minio-endpoint", cfg.MinIO.Endpoint, "MinIO endpoint")
	flag.StringVar(&cfg.MinIO.Bucket, "minio-bucket", cfg.MinIO.Bucket, "MinIO bucket")
	flag.StringVar(&cfg.MinIO.AccessKeyID, "minio-access-key", cfg.MinIO.AccessKeyID, "MinIO access key")
	flag.StringVar(&cfg.MinIO.SecretAccessKey, "minio-secret-key", cfg.MinIO.SecretAccessKey, "MinIO secret key")
	flag.BoolVar(&cfg.MinIO.UseSSL, "minio-ssl", cfg.MinIO.UseSSL, "use TLS for MinIO")

	flag.Parse()
	cfg.Transfer.MaxAttachmentBytes = *maxAttachmentMB * 1024 * 1024

	// Email delivery is opt-in. With no account configured the default
	// backend downgrades to local retention instead of failing validation.
	if cfg.Transfer.Backend == "email" &&
		cfg.Email.Username == "" && cfg.Email.Password == "" && cfg.Email.Recipient == "" {
		cfg.Transfer.Backend = "none"
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	source, err := camera.NewGoCVSource(cfg.Camera, logger)
	if err != nil {
		return fmt.Errorf("failed to open frame source: %w", err)
	}
	defer source.Close()

	detector, err := motion.NewDetector(cfg.Motion, logger)
	if err != nil {
		return fmt.Errorf("failed to create motion detector: %w", err)
	}

	var sink recorder.Enqueuer
	var queue *transfer.Queue
	if cfg.Transfer.Backend != "none" {
		sender, err := newSender(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create transfer backend: %w", err)
		}
		queue = transfer.NewQueue(cfg.Transfer, sender, logger)
		queue.Start()
		sink = queue
	} else {
		logger.Info("transfer disabled, recordings are retained locally")
	}

	factory := recorder.NewMatroskaFactory(cfg.Record, cfg.Camera.Framerate, logger)
	controller := recorder.NewController(cfg.Record, cfg.Camera.Framerate, factory, sink, logger)

	pipeline := integration.NewPipeline(source, detector, controller, logger)
	runErr := pipeline.Run(ctx)

	if queue != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Transfer.DrainTimeout)
		defer cancel()
		queue.Shutdown(drainCtx)
	}

	stats := detector.GetStats()
	logger.Info("shutdown complete",
		zap.Int64("frames_processed", stats.FramesProcessed),
		zap.Int64("motion_samples", stats.MotionSamples))
	return runErr
}

func newSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (transfer.Sender, error) {
	switch cfg.Transfer.Backend {
	case "email":
		return notification.NewEmailSender(cfg.Email, logger)
	case "minio":
		return storage.NewArchiveSender(ctx, cfg.MinIO, logger)
	default:
		return nil, fmt.Errorf("unknown transfer backend %q", cfg.Transfer.Backend)
	}
}
