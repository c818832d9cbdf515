package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"candles-api/internal/cache"
	"candles-api/internal/queue"
	"candles-api/internal/storage"
	"candles-api/pkg/candles"
)

// ErrInvalidQuote rejects malformed quote input.
var ErrInvalidQuote = errors.New("feed: invalid quote")

// Quote is one observed price for an instrument side. Mid is never
// quoted directly; it is derived on read from bid and ask.
type Quote struct {
	AssetPair string
	PriceType candles.PriceType
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// Service is the live path: quotes fan into every tracked interval of
// the cache and the resulting candles are queued for persistence. Reads
// prefer the cache window and fall back to durable history.
type Service struct {
	cache           *cache.CandleCache
	queue           *queue.PersistenceQueue
	repo            storage.HistoryRepository
	intervals       []candles.Interval
	accuracy        map[string]int
	defaultAccuracy int
}

// NewService wires the live feed. intervals defaults to every stored
// granularity; accuracy maps lower-cased asset pairs to decimal places
// for mid-price rounding.
func NewService(candleCache *cache.CandleCache, persistQueue *queue.PersistenceQueue, repo storage.HistoryRepository, intervals []candles.Interval, accuracy map[string]int, defaultAccuracy int) *Service {
	if len(intervals) == 0 {
		intervals = candles.StoredIntervals
	}
	normalized := make(map[string]int, len(accuracy))
	for pair, digits := range accuracy {
		normalized[strings.ToLower(pair)] = digits
	}
	if defaultAccuracy <= 0 {
		defaultAccuracy = 5
	}
	return &Service{
		cache:           candleCache,
		queue:           persistQueue,
		repo:            repo,
		intervals:       intervals,
		accuracy:        normalized,
		defaultAccuracy: defaultAccuracy,
	}
}

// HandleQuote folds one quote into every tracked interval and enqueues
// the updated candles for persistence.
func (s *Service) HandleQuote(ctx context.Context, q Quote) error {
	if err := validateQuote(q); err != nil {
		return err
	}
	for _, interval := range s.intervals {
		candle := s.cache.AddQuote(ctx, q.AssetPair, q.PriceType, interval, q.Timestamp, q.Price, q.Volume)
		s.queue.Enqueue(candle)
	}
	return nil
}

func validateQuote(q Quote) error {
	if strings.TrimSpace(q.AssetPair) == "" {
		return fmt.Errorf("%w: empty asset pair", ErrInvalidQuote)
	}
	switch q.PriceType {
	case candles.PriceBid, candles.PriceAsk, candles.PriceTrades:
	case candles.PriceMid:
		return fmt.Errorf("%w: mid is derived, not quoted", ErrInvalidQuote)
	default:
		return fmt.Errorf("%w: price type %q", ErrInvalidQuote, q.PriceType)
	}
	if q.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidQuote)
	}
	if q.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %v", ErrInvalidQuote, q.Price)
	}
	if q.Volume < 0 {
		return fmt.Errorf("%w: negative volume %v", ErrInvalidQuote, q.Volume)
	}
	return nil
}

// GetCandles serves candles for [from, to). Mid is derived from bid and
// ask; everything else reads the cache window first and falls back to
// the history repository on a miss.
func (s *Service) GetCandles(ctx context.Context, assetPair string, priceType candles.PriceType, interval candles.Interval, from, to time.Time) ([]candles.Candle, error) {
	if !to.After(from) {
		return nil, nil
	}
	if priceType == candles.PriceMid {
		return s.getMidCandles(ctx, assetPair, interval, from, to)
	}
	if out, ok := s.cache.Get(assetPair, priceType, interval, from, to); ok {
		return out, nil
	}
	out, err := s.repo.Get(ctx, assetPair, priceType, interval, from, to)
	if err != nil {
		return nil, err
	}
	s.warmWindow(ctx, assetPair, priceType, interval, to, out)
	return out, nil
}

func (s *Service) getMidCandles(ctx context.Context, assetPair string, interval candles.Interval, from, to time.Time) ([]candles.Candle, error) {
	accuracy := s.accuracyFor(assetPair)
	out, ok, err := s.cache.GetMidPriceCandles(assetPair, interval, from, to, accuracy)
	if err != nil {
		return nil, err
	}
	if ok {
		return out, nil
	}
	ask, err := s.repo.Get(ctx, assetPair, candles.PriceAsk, interval, from, to)
	if err != nil {
		return nil, err
	}
	bid, err := s.repo.Get(ctx, assetPair, candles.PriceBid, interval, from, to)
	if err != nil {
		return nil, err
	}
	return cache.MidCandles(ask, bid, accuracy)
}

// warmWindow seeds the cache after a fallback read, but only when the
// requested range reaches the live edge; seeding a purely historical
// slice would make later window reads look complete when they are not.
// History merges beneath the live window rather than replacing it, so
// candles still waiting in the persistence queue stay visible.
func (s *Service) warmWindow(ctx context.Context, assetPair string, priceType candles.PriceType, interval candles.Interval, to time.Time, history []candles.Candle) {
	if len(history) == 0 {
		return
	}
	if to.Before(interval.Truncate(time.Now().UTC())) {
		return
	}
	s.cache.WarmHistory(assetPair, priceType, interval, history)
	logx.WithContext(ctx).Infof("feed: warmed window pair=%s priceType=%s interval=%s candles=%d",
		assetPair, priceType, interval, len(history))
}

func (s *Service) accuracyFor(assetPair string) int {
	if digits, ok := s.accuracy[strings.ToLower(assetPair)]; ok {
		return digits
	}
	return s.defaultAccuracy
}
