//go:build !integration

package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-licensing/internal/config"
)

type fakeObjects struct {
	exists    bool
	existsErr error
	made      int
	puts      map[string]string
	types     map[string]string
}

func (f *fakeObjects) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeObjects) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	f.made++
	f.exists = true
	return nil
}

func (f *fakeObjects) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	b, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.puts[objectName] = string(b)
	f.types[objectName] = opts.ContentType
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: int64(len(b))}, nil
}

func TestProofStore_Put(t *testing.T) {
	objs := &fakeObjects{puts: map[string]string{}, types: map[string]string{}}
	s := newProofStore(objs, "proofs")

	got, err := s.Put(context.Background(), "tenant-1/sub-1/receipt.pdf", strings.NewReader("%PDF"), 4, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "proofs/tenant-1/sub-1/receipt.pdf", got)
	assert.Equal(t, "%PDF", objs.puts["tenant-1/sub-1/receipt.pdf"])
	assert.Equal(t, 1, objs.made)

	_, err = s.Put(context.Background(), "tenant-1/sub-1/second.bin", strings.NewReader("x"), 1, "")
	require.NoError(t, err)
	assert.Equal(t, 1, objs.made, "bucket is created once")
	assert.Equal(t, "application/octet-stream", objs.types["tenant-1/sub-1/second.bin"])
}

func TestProofStore_BucketFailure(t *testing.T) {
	objs := &fakeObjects{existsErr: errors.New("access denied"), puts: map[string]string{}, types: map[string]string{}}
	s := newProofStore(objs, "proofs")

	_, err := s.Put(context.Background(), "k", strings.NewReader("x"), 1, "text/plain")
	assert.Error(t, err)
	assert.Empty(t, objs.puts)
}

func TestNewProofStore_DisabledWithoutEndpoint(t *testing.T) {
	s, err := NewProofStore(config.ObjectStoreConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)
}
