package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/recorder"
	"github.com/mikeyg42/motioncam/internal/transfer"
)

// ArchiveSender delivers clips by uploading them to a MinIO bucket instead
// of emailing them. It implements transfer.Sender; the transfer queue's
// retry, deletion and size policies apply unchanged.
type ArchiveSender struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewArchiveSender connects to the object store and ensures the bucket
// exists.
func NewArchiveSender(ctx context.Context, cfg config.MinIOConfig, logger *zap.Logger) (*ArchiveSender, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &ArchiveSender{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.Named("minio-archive"),
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		s.logger.Info("created archive bucket", zap.String("bucket", cfg.Bucket))
	}
	return s, nil
}

// Send uploads the clip under a date-partitioned key.
func (s *ArchiveSender) Send(ctx context.Context, clip *recorder.ClipFile) error {
	key := fmt.Sprintf("%s/%s", clip.StartTime.Format("2006/01/02"), filepath.Base(clip.Path))

	info, err := s.client.FPutObject(ctx, s.bucket, key, clip.Path, minio.PutObjectOptions{
		ContentType: contentTypeFor(clip.Path),
		UserMetadata: map[string]string{
			"clip-id":    clip.ID,
			"clip-start": clip.StartTime.Format(time.RFC3339Nano),
			"clip-end":   clip.EndTime.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return classifyMinio(fmt.Errorf("upload %s: %w", key, err))
	}

	s.logger.Info("clip archived",
		zap.String("clip_id", clip.ID),
		zap.String("key", key),
		zap.Int64("size_bytes", info.Size),
		zap.String("etag", info.ETag))
	return nil
}

// classifyMinio maps object-store errors onto the transfer taxonomy.
func classifyMinio(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return transfer.AuthFailure(err)
	case "NoSuchBucket", "EntityTooLarge", "InvalidArgument":
		return transfer.Rejected(err)
	default:
		return transfer.NetworkFailure(err)
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
