package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ObjectStore is the narrow contract the pipeline has with object storage:
// bytes plus a content type in, best-effort delete, and a public URL out.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Remove(ctx context.Context, key string) error
	PublicURL(key string) string
}

type minioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewMinioStore(client *minio.Client, bucket, publicBaseURL string) ObjectStore {
	return &minioStore{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicBaseURL, "/"),
	}
}

func (s *minioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *minioStore) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *minioStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key)
}
