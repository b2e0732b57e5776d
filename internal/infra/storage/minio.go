// Package storage keeps proof-of-payment uploads in an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"crm-licensing/internal/config"
	"crm-licensing/internal/domain/ports/adapter"
)

var _ adapter.ProofStore = (*ProofStore)(nil)

// objectClient is the part of *minio.Client the store uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type ProofStore struct {
	client objectClient
	bucket string

	// the bucket is created lazily on first upload
	once      sync.Once
	bucketErr error
}

// NewProofStore returns nil when no endpoint is configured; callers treat a
// nil store as proof uploads being disabled.
func NewProofStore(cfg config.ObjectStoreConfig) (*ProofStore, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return newProofStore(client, cfg.Bucket), nil
}

func newProofStore(client objectClient, bucket string) *ProofStore {
	return &ProofStore{client: client, bucket: bucket}
}

func (s *ProofStore) ensureBucket(ctx context.Context) error {
	s.once.Do(func() {
		found, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.bucketErr = err
			return
		}
		if !found {
			s.bucketErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		}
	})
	return s.bucketErr
}

// Put uploads the object and returns "<bucket>/<key>".
func (s *ProofStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket %s: %w", s.bucket, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return path.Join(info.Bucket, info.Key), nil
}
