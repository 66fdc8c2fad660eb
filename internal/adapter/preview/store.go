// Package preview publishes preview documents to object storage so clients
// can open them by URL for a bounded time.
package preview

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/xiaot623/lazarus/internal/config"
)

// Publisher uploads a preview document and returns a URL for it.
type Publisher interface {
	Publish(ctx context.Context, runID, document string, ttl time.Duration) (string, error)
}

// Store is a MinIO backed Publisher.
type Store struct {
	mc     *minio.Client
	bucket string
}

// NewStore creates a MinIO client for the preview configuration.
func NewStore(cfg config.PreviewConfig) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("preview endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("preview bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Store{mc: mc, bucket: cfg.Bucket}, nil
}

// Key returns the object key of a run's preview.
func Key(runID string) string {
	return path.Join("previews", runID, "preview.html")
}

// Publish uploads the document and returns a presigned GET URL valid for ttl.
func (s *Store) Publish(ctx context.Context, runID, document string, ttl time.Duration) (string, error) {
	key := Key(runID)
	_, err := s.mc.PutObject(ctx, s.bucket, key, strings.NewReader(document), int64(len(document)), minio.PutObjectOptions{
		ContentType: "text/html; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	u, err := s.mc.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
