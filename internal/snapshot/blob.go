package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/redis"
)

// ErrBlobNotFound marks a missing snapshot blob.
var ErrBlobNotFound = errors.New("snapshot: blob not found")

// BlobStore is the logical blob contract: whole-value reads and atomic
// full-overwrite writes. Readers never observe a partially written blob.
type BlobStore interface {
	Has(ctx context.Context, container, key string) (bool, error)
	Get(ctx context.Context, container, key string) ([]byte, error)
	Put(ctx context.Context, container, key string, data []byte) error
}

// RedisBlobStore keeps blobs as binary-safe Redis string values under
// container-prefixed keys. SET replaces the value atomically, which
// satisfies the overwrite contract.
type RedisBlobStore struct {
	client *redis.Redis
}

var _ BlobStore = (*RedisBlobStore)(nil)

// NewRedisBlobStore wraps a redis client into the BlobStore contract.
func NewRedisBlobStore(client *redis.Redis) *RedisBlobStore {
	return &RedisBlobStore{client: client}
}

func blobKey(container, key string) string {
	return container + ":" + key
}

func (s *RedisBlobStore) Has(ctx context.Context, container, key string) (bool, error) {
	ok, err := s.client.ExistsCtx(ctx, blobKey(container, key))
	if err != nil {
		return false, fmt.Errorf("snapshot: exists %s/%s: %w", container, key, err)
	}
	return ok, nil
}

func (s *RedisBlobStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	val, err := s.client.GetCtx(ctx, blobKey(container, key))
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %s/%s: %w", container, key, err)
	}
	// Snapshots are never empty; an empty value means the key is absent.
	if val == "" {
		return nil, ErrBlobNotFound
	}
	return []byte(val), nil
}

func (s *RedisBlobStore) Put(ctx context.Context, container, key string, data []byte) error {
	if err := s.client.SetCtx(ctx, blobKey(container, key), string(data)); err != nil {
		return fmt.Errorf("snapshot: put %s/%s: %w", container, key, err)
	}
	return nil
}
