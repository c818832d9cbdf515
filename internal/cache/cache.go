package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/threading"

	"candles-api/pkg/candles"
)

// CandleCache keeps a bounded, time-ordered window of the most recent
// candles per (asset pair, price type, interval) series. It is the
// low-latency read path and absorbs live quote updates; storage stays
// authoritative for anything outside the window.
//
// All window operations are in-memory and never block on I/O; the
// optional Redis mirror of the latest candle is written asynchronously.
type CandleCache struct {
	mu      sync.RWMutex
	windows map[string][]candles.Candle
	size    int
	mirror  *redis.Redis
}

// NewCandleCache builds a cache holding up to size candles per series.
// mirror may be nil to disable the latest-candle Redis mirror.
func NewCandleCache(size int, mirror *redis.Redis) *CandleCache {
	if size <= 0 {
		size = 1
	}
	return &CandleCache{
		windows: make(map[string][]candles.Candle),
		size:    size,
		mirror:  mirror,
	}
}

// InitializeHistory replaces a series window wholesale, keeping the most
// recent entries up to the window capacity. Used when nothing live can
// be in the window yet; warming after a fallback read goes through
// WarmHistory instead.
func (c *CandleCache) InitializeHistory(assetPair string, priceType candles.PriceType, interval candles.Interval, in []candles.Candle) {
	window := make([]candles.Candle, len(in))
	copy(window, in)
	sort.Slice(window, func(i, j int) bool { return window[i].Timestamp.Before(window[j].Timestamp) })
	if len(window) > c.size {
		window = window[len(window)-c.size:]
	}
	c.mu.Lock()
	c.windows[WindowKey(assetPair, priceType, interval)] = window
	c.mu.Unlock()
}

// WarmHistory seeds repository history beneath whatever the window
// already holds, keeping the most recent entries up to capacity. Window
// entries win timestamp conflicts: they may carry quotes not yet
// dispatched to storage.
func (c *CandleCache) WarmHistory(assetPair string, priceType candles.PriceType, interval candles.Interval, history []candles.Candle) {
	key := WindowKey(assetPair, priceType, interval)
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make(map[time.Time]candles.Candle, len(history)+len(c.windows[key]))
	for _, candle := range history {
		merged[candle.Timestamp] = candle
	}
	for _, candle := range c.windows[key] {
		merged[candle.Timestamp] = candle
	}
	window := make([]candles.Candle, 0, len(merged))
	for _, candle := range merged {
		window = append(window, candle)
	}
	sort.Slice(window, func(i, j int) bool { return window[i].Timestamp.Before(window[j].Timestamp) })
	if len(window) > c.size {
		window = window[len(window)-c.size:]
	}
	c.windows[key] = window
}

// AddQuote folds a live quote into the series window. The first quote of
// a bucket opens a new candle; later quotes update close/high/low and
// accumulate volume. The oldest candle is evicted once the window is
// full. Quotes landing in a bucket older than the window head fold into
// that bucket in place so timestamps stay strictly increasing; quotes
// older than the whole window leave it untouched. Returns the resulting
// candle so the caller can forward it to the persistence queue.
func (c *CandleCache) AddQuote(ctx context.Context, assetPair string, priceType candles.PriceType, interval candles.Interval, ts time.Time, price, volume float64) candles.Candle {
	bucket := interval.Truncate(ts)
	key := WindowKey(assetPair, priceType, interval)

	c.mu.Lock()
	window := c.windows[key]
	n := len(window)
	var updated candles.Candle
	latest := true
	switch {
	case n > 0 && window[n-1].Timestamp.Equal(bucket):
		updated = foldQuote(window[n-1], price, volume)
		window[n-1] = updated
	case n > 0 && bucket.Before(window[n-1].Timestamp):
		// Late quote. The window stays ordered either way; the returned
		// candle still reaches the persistence queue.
		latest = false
		updated = candles.FromQuote(assetPair, priceType, interval, ts, price, volume)
		found := false
		for i := n - 1; i >= 0 && !window[i].Timestamp.Before(bucket); i-- {
			if window[i].Timestamp.Equal(bucket) {
				updated = foldQuote(window[i], price, volume)
				window[i] = updated
				found = true
				break
			}
		}
		if !found {
			logx.WithContext(ctx).Infof("candlecache: quote predates window key=%s bucket=%s", key, bucket.Format(time.RFC3339))
		}
	default:
		updated = candles.FromQuote(assetPair, priceType, interval, ts, price, volume)
		window = append(window, updated)
		if len(window) > c.size {
			window = window[len(window)-c.size:]
		}
		c.windows[key] = window
	}
	c.mu.Unlock()

	if latest {
		c.mirrorLatest(ctx, assetPair, priceType, interval, updated)
	}
	return updated
}

func foldQuote(c candles.Candle, price, volume float64) candles.Candle {
	c.Close = price
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Volume += volume
	return c
}

// Get serves candles for [from, to) when the window fully covers the
// range. ok is false on a partial or total miss; the caller then falls
// back to the history repository.
func (c *CandleCache) Get(assetPair string, priceType candles.PriceType, interval candles.Interval, from, to time.Time) (out []candles.Candle, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	window := c.windows[WindowKey(assetPair, priceType, interval)]
	if len(window) == 0 || window[0].Timestamp.After(from) {
		return nil, false
	}
	for _, candle := range window {
		if candle.Timestamp.Before(from) || !candle.Timestamp.Before(to) {
			continue
		}
		out = append(out, candle)
	}
	return out, true
}

// MergeToBiggerInterval synthesizes a coarser view from cached history
// without keeping a dedicated window per derived interval.
func (c *CandleCache) MergeToBiggerInterval(history []candles.Candle, newInterval candles.Interval) ([]candles.Candle, error) {
	return candles.MergeIntoBiggerIntervals(history, newInterval)
}

// GetMidPriceCandles derives mid candles on read from the cached bid and
// ask windows, rounded to the instrument's price accuracy. ok is false
// when either side misses the requested range.
func (c *CandleCache) GetMidPriceCandles(assetPair string, interval candles.Interval, from, to time.Time, accuracy int) ([]candles.Candle, bool, error) {
	ask, okAsk := c.Get(assetPair, candles.PriceAsk, interval, from, to)
	bid, okBid := c.Get(assetPair, candles.PriceBid, interval, from, to)
	if !okAsk || !okBid {
		return nil, false, nil
	}
	out, err := MidCandles(ask, bid, accuracy)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// MidCandles zips ask and bid sequences by bucket timestamp into rounded
// mid candles. Buckets present on only one side are dropped.
func MidCandles(ask, bid []candles.Candle, accuracy int) ([]candles.Candle, error) {
	byTime := make(map[time.Time]*candles.Candle, len(bid))
	for i := range bid {
		byTime[bid[i].Timestamp] = &bid[i]
	}
	var out []candles.Candle
	for i := range ask {
		b, ok := byTime[ask[i].Timestamp]
		if !ok {
			continue
		}
		mid, err := candles.CreateMidCandle(&ask[i], b)
		if err != nil {
			return nil, err
		}
		rounded := *mid
		rounded.Open = candles.RoundToAccuracy(mid.Open, accuracy)
		rounded.Close = candles.RoundToAccuracy(mid.Close, accuracy)
		rounded.High = candles.RoundToAccuracy(mid.High, accuracy)
		rounded.Low = candles.RoundToAccuracy(mid.Low, accuracy)
		out = append(out, rounded)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// State exports a deep copy of every window for snapshotting.
func (c *CandleCache) State() map[string][]candles.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state := make(map[string][]candles.Candle, len(c.windows))
	for key, window := range c.windows {
		cp := make([]candles.Candle, len(window))
		copy(cp, window)
		state[key] = cp
	}
	return state
}

// Restore replaces all windows from a snapshot, trimming each to the
// configured capacity.
func (c *CandleCache) Restore(state map[string][]candles.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = make(map[string][]candles.Candle, len(state))
	for key, window := range state {
		cp := make([]candles.Candle, len(window))
		copy(cp, window)
		if len(cp) > c.size {
			cp = cp[len(cp)-c.size:]
		}
		c.windows[key] = cp
	}
}

func (c *CandleCache) mirrorLatest(ctx context.Context, assetPair string, priceType candles.PriceType, interval candles.Interval, candle candles.Candle) {
	if c.mirror == nil {
		return
	}
	threading.GoSafe(func() {
		payload, err := json.Marshal(candle)
		if err != nil {
			return
		}
		key := LatestCandleKey(assetPair, priceType, interval)
		ttl := int(LatestCandleTTL(interval) / time.Second)
		if err := c.mirror.SetexCtx(context.WithoutCancel(ctx), key, string(payload), ttl); err != nil {
			logx.WithContext(ctx).Errorf("candlecache: mirror latest key=%s err=%v", key, err)
		}
	})
}
