package objectstore

import (
	"context"
	"fmt"
	"io"
	"sort"

	platformstore "github.com/animus-labs/attribution-runner/internal/platform/objectstore"
	"github.com/minio/minio-go/v7"
)

type MinioStore struct {
	client *minio.Client
}

func NewMinioStore(cfg platformstore.Config) (*MinioStore, error) {
	client, err := platformstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &MinioStore{client: client}, nil
}

func NewMinioStoreWithClient(client *minio.Client) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &MinioStore{client: client}, nil
}

func (s *MinioStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error) {
	if s == nil || s.client == nil {
		return nil, ObjectInfo{}, fmt.Errorf("minio store not initialized")
	}
	info, err := s.Stat(ctx, bucket, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return obj, info, nil
}

func (s *MinioStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	if s == nil || s.client == nil {
		return ObjectInfo{}, fmt.Errorf("minio store not initialized")
	}
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, err
	}
	return toObjectInfo(info), nil
}

// List returns the objects under prefix sorted by key.
func (s *MinioStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("minio store not initialized")
	}
	out := make([]ObjectInfo, 0)
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, obj.Err)
		}
		out = append(out, toObjectInfo(obj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func toObjectInfo(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}

// CheckBucket fails when bucket does not exist or cannot be reached.
func (s *MinioStore) CheckBucket(ctx context.Context, bucket string) error {
	if s == nil || s.client == nil {
		return ErrStoreNotConfigured
	}
	return platformstore.CheckBucket(ctx, s.client, bucket)
}
