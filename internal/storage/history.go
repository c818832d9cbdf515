package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"candles-api/pkg/candles"
)

var (
	// ErrEmptyAssetPair rejects requests without an instrument.
	ErrEmptyAssetPair = errors.New("storage: asset pair id must not be empty")
	// ErrUnspecifiedInterval rejects requests without a concrete interval.
	ErrUnspecifiedInterval = errors.New("storage: interval must be specified")
	// ErrUnspecifiedPriceType rejects requests without a concrete price type.
	ErrUnspecifiedPriceType = errors.New("storage: price type must be specified")
)

// HistoryRepository is the durable candle read/write contract the rest of
// the service depends on.
type HistoryRepository interface {
	InsertOrMerge(ctx context.Context, in []candles.Candle, assetPair string, interval candles.Interval, priceType candles.PriceType) error
	Get(ctx context.Context, assetPair string, priceType candles.PriceType, interval candles.Interval, from, to time.Time) ([]candles.Candle, error)
}

// RepositoryFactory builds the per-series repository for a key.
type RepositoryFactory func(assetPair string, interval candles.Interval) PairRepository

// MultiplexedRepository routes candle reads and writes to one lazily
// created PairRepository per (asset pair, interval) key. A failing
// delegate is evicted so a poisoned storage client is not reused; the
// next successful resolution wins any race with eviction.
type MultiplexedRepository struct {
	mu      sync.Mutex
	repos   map[string]PairRepository
	factory RepositoryFactory
}

var _ HistoryRepository = (*MultiplexedRepository)(nil)

// NewMultiplexedRepository builds the multiplexer around a factory.
func NewMultiplexedRepository(factory RepositoryFactory) *MultiplexedRepository {
	return &MultiplexedRepository{
		repos:   make(map[string]PairRepository),
		factory: factory,
	}
}

// InsertOrMerge writes candles through the per-key repository.
func (m *MultiplexedRepository) InsertOrMerge(ctx context.Context, in []candles.Candle, assetPair string, interval candles.Interval, priceType candles.PriceType) error {
	key, err := m.validate(assetPair, interval, priceType)
	if err != nil {
		return err
	}
	repo := m.resolve(key, assetPair, interval)
	if err := repo.Upsert(ctx, priceType, in); err != nil {
		m.evict(ctx, key)
		return err
	}
	return nil
}

// Get reads candles for [from, to) through the per-key repository.
func (m *MultiplexedRepository) Get(ctx context.Context, assetPair string, priceType candles.PriceType, interval candles.Interval, from, to time.Time) ([]candles.Candle, error) {
	key, err := m.validate(assetPair, interval, priceType)
	if err != nil {
		return nil, err
	}
	repo := m.resolve(key, assetPair, interval)
	out, err := repo.Query(ctx, priceType, from, to)
	if err != nil {
		m.evict(ctx, key)
		return nil, err
	}
	return out, nil
}

func (m *MultiplexedRepository) validate(assetPair string, interval candles.Interval, priceType candles.PriceType) (string, error) {
	if strings.TrimSpace(assetPair) == "" {
		return "", ErrEmptyAssetPair
	}
	if !interval.Specified() {
		return "", ErrUnspecifiedInterval
	}
	if !priceType.Specified() {
		return "", ErrUnspecifiedPriceType
	}
	return strings.ToLower(assetPair) + "_" + string(interval), nil
}

// resolve returns the cached repository for key, creating it atomically
// on first use so concurrent callers never construct duplicates.
func (m *MultiplexedRepository) resolve(key, assetPair string, interval candles.Interval) PairRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	if repo, ok := m.repos[key]; ok {
		return repo
	}
	repo := m.factory(assetPair, interval)
	m.repos[key] = repo
	return repo
}

func (m *MultiplexedRepository) evict(ctx context.Context, key string) {
	m.mu.Lock()
	delete(m.repos, key)
	m.mu.Unlock()
	logx.WithContext(ctx).Errorf("historyrepo: evicted repository key=%s after delegate failure", key)
}
