// Package objectstore uploads log archives to an S3-compatible bucket.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fleetmaint/backend/internal/config"
	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const archiveContentType = "application/zip"

type MinIOStorage struct {
	client *minio.Client
	bucket string
	region string
	log    *logger.Logger

	mu          sync.Mutex
	bucketReady bool
}

func NewMinIOStorage(cfg config.ObjectStorageConfig, log *logger.Logger) (*MinIOStorage, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "fleet-logs"
	}
	return &MinIOStorage{client: client, bucket: bucket, region: cfg.Region, log: log}, nil
}

var _ ports.ObjectStorage = (*MinIOStorage)(nil)

func (s *MinIOStorage) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
		s.log.Infow("object_bucket_created", "bucket", s.bucket)
	}
	s.bucketReady = true
	return nil
}

// Upload stores r under key. Re-uploading the same key replaces the object,
// so retried archives do not pile up.
func (s *MinIOStorage) Upload(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket %s: %w", s.bucket, err)
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: archiveContentType})
	if err != nil {
		return "", err
	}
	s.log.Infow("object_upload_ok", "bucket", s.bucket, "key", info.Key, "size", info.Size)
	return info.Key, nil
}
