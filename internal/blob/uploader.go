// Package blob uploads attachment bytes to object storage and hands back
// durable public URLs.
package blob

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/feather-im/feather/internal/config"
)

// Uploader accepts raw bytes plus a destination name and MIME type and
// returns a publicly resolvable URL. Failure returns no URL.
type Uploader interface {
	Upload(ctx context.Context, name, mimeType string, r io.Reader, size int64) (string, error)
}

// MinioUploader implements Uploader on MinIO/S3 compatible storage.
type MinioUploader struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewMinioUploader connects to the configured endpoint and ensures the
// bucket exists.
func NewMinioUploader(cfg config.Blob) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = client.EndpointURL().String() + "/" + cfg.Bucket
	}
	return &MinioUploader{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimSuffix(publicBase, "/"),
	}, nil
}

// Upload stores the object under a timestamp-namespaced key so repeated
// uploads of the same file never collide.
func (m *MinioUploader) Upload(ctx context.Context, name, mimeType string, r io.Reader, size int64) (string, error) {
	key := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), safeName(name))
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return m.publicBase + "/" + key, nil
}

func safeName(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return "upload"
	}
	return name
}
