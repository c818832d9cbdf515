package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	candlecache "candles-api/internal/cache"
	"candles-api/pkg/candles"
)

// formatVersion tags the current binary snapshot envelope.
const formatVersion = 1

// CacheState is the snapshot form of every cache window, keyed by series.
type CacheState = map[string][]candles.Candle

// QueueState is the persistence queue's pending sequence, enqueue order.
type QueueState = []candles.Candle

// MigrationState maps instrument keys to the gap-fill generator's
// last-seen candle, letting migrations resume without reopening sources.
type MigrationState = map[string]candles.Candle

type envelope[T any] struct {
	Version int `msgpack:"version"`
	State   T   `msgpack:"state"`
}

// Reader decodes one snapshot format at one blob location. Repositories
// try their readers in order until one finds a blob; this is how legacy
// formats stay readable across upgrades without a flag-day cutover.
type Reader[T any] struct {
	Key    string
	Decode func(data []byte, out *T) error
}

// Repository persists one typed state blob. Save always writes the
// current msgpack format; TryGet walks the configured format chain.
type Repository[T any] struct {
	blobs     BlobStore
	container string
	key       string
	readers   []Reader[T]
}

// NewRepository builds a single-format repository for the current
// msgpack envelope at container/key.
func NewRepository[T any](blobs BlobStore, container, key string) *Repository[T] {
	return &Repository[T]{
		blobs:     blobs,
		container: container,
		key:       key,
		readers:   []Reader[T]{{Key: key, Decode: decodeCurrent[T]}},
	}
}

// NewMigratingRepository builds a repository that reads the legacy JSON
// blob first and falls back to the current format only when the legacy
// location is absent. Save still writes the current format.
func NewMigratingRepository[T any](blobs BlobStore, container, key, legacyKey string) *Repository[T] {
	return &Repository[T]{
		blobs:     blobs,
		container: container,
		key:       key,
		readers: []Reader[T]{
			{Key: legacyKey, Decode: decodeLegacyJSON[T]},
			{Key: key, Decode: decodeCurrent[T]},
		},
	}
}

// Save serializes state and overwrites the snapshot blob.
func (r *Repository[T]) Save(ctx context.Context, state T) error {
	data, err := msgpack.Marshal(envelope[T]{Version: formatVersion, State: state})
	if err != nil {
		return fmt.Errorf("snapshot: encode %s/%s: %w", r.container, r.key, err)
	}
	return r.blobs.Put(ctx, r.container, r.key, data)
}

// TryGet walks the format chain. ok is false when no blob exists in any
// known location.
func (r *Repository[T]) TryGet(ctx context.Context) (state T, ok bool, err error) {
	for _, reader := range r.readers {
		data, err := r.blobs.Get(ctx, r.container, reader.Key)
		if errors.Is(err, ErrBlobNotFound) {
			continue
		}
		if err != nil {
			return state, false, err
		}
		if err := reader.Decode(data, &state); err != nil {
			return state, false, fmt.Errorf("snapshot: decode %s/%s: %w", r.container, reader.Key, err)
		}
		return state, true, nil
	}
	return state, false, nil
}

func decodeCurrent[T any](data []byte, out *T) error {
	var env envelope[T]
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Version != formatVersion {
		return fmt.Errorf("unsupported snapshot version %d", env.Version)
	}
	*out = env.State
	return nil
}

func decodeLegacyJSON[T any](data []byte, out *T) error {
	return json.Unmarshal(data, out)
}

// NewCacheSnapshots builds the repository for cache window state.
func NewCacheSnapshots(blobs BlobStore) *Repository[CacheState] {
	return NewMigratingRepository[CacheState](
		blobs,
		candlecache.SnapshotContainer(),
		candlecache.CacheSnapshotKey(),
		candlecache.LegacyCacheSnapshotKey(),
	)
}

// NewQueueSnapshots builds the repository for the pending queue state.
func NewQueueSnapshots(blobs BlobStore) *Repository[QueueState] {
	return NewMigratingRepository[QueueState](
		blobs,
		candlecache.SnapshotContainer(),
		candlecache.QueueSnapshotKey(),
		candlecache.LegacyQueueSnapshotKey(),
	)
}

// NewMigrationSnapshots builds the repository for gap-fill generator
// state.
func NewMigrationSnapshots(blobs BlobStore) *Repository[MigrationState] {
	return NewMigratingRepository[MigrationState](
		blobs,
		candlecache.SnapshotContainer(),
		candlecache.MigrationSnapshotKey(),
		candlecache.LegacyMigrationSnapshotKey(),
	)
}
