package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tendant/studyshare/pkg/studyshare"
)

// Config options for the MinIO backend
type Config struct {
	Endpoint  string // host:port of the MinIO server
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Backend stores blobs in a MinIO bucket.
// It is not ready until Init has ensured the bucket exists.
type Backend struct {
	client *minio.Client
	bucket string
	ready  atomic.Bool
}

// New creates a MinIO client without contacting the server
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	return &Backend{client: mc, bucket: cfg.Bucket}, nil
}

var _ studyshare.BlobStore = (*Backend)(nil)

// Ready reports whether the bucket handshake has completed
func (b *Backend) Ready() bool {
	return b.ready.Load()
}

// Init ensures the bucket exists and marks the backend ready
func (b *Backend) Init(ctx context.Context) error {
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, xerr := b.client.BucketExists(ctx, b.bucket)
		if xerr != nil || !exists {
			return fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	b.ready.Store(true)
	return nil
}

// Start retries Init in the background until it succeeds or ctx ends
func (b *Backend) Start(ctx context.Context, logger *slog.Logger) {
	go func() {
		for {
			initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := b.Init(initCtx)
			cancel()
			if err == nil {
				logger.Info("minio blob store ready", "bucket", b.bucket)
				return
			}
			logger.Warn("minio blob store not ready", "bucket", b.bucket, "err", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

// Upload streams the reader into the bucket
func (b *Backend) Upload(ctx context.Context, reader io.Reader, params studyshare.UploadParams) error {
	contentType := params.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := b.client.PutObject(ctx, b.bucket, params.ObjectKey, reader, -1, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("minio put: %w", err)
	}
	return nil
}

// Download returns a reader for the stored object
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	// GetObject is lazy; stat to surface a missing key now
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapError(err)
	}
	return obj, nil
}

// Delete removes the object. MinIO reports success for missing keys.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return mapError(err)
	}
	return nil
}

// GetObjectMeta retrieves metadata for an object
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*studyshare.BlobMeta, error) {
	info, err := b.client.StatObject(ctx, b.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	return &studyshare.BlobMeta{
		Key:         objectKey,
		Size:        info.Size,
		ContentType: info.ContentType,
		UpdatedAt:   info.LastModified,
		ETag:        info.ETag,
		Metadata:    map[string]string{"content_type": info.ContentType},
	}, nil
}

func mapError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return studyshare.ErrBlobNotFound
	}
	return err
}
