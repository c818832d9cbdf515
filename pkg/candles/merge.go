package candles

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MergeChronological folds two candles of the same series into one.
// prev must precede next in time. Either input may be nil, in which case
// the other is returned unchanged. Unless newTimestamp is supplied, both
// candles must share the same bucket timestamp.
func MergeChronological(prev, next *Candle, newTimestamp ...time.Time) (*Candle, error) {
	if prev == nil {
		return next, nil
	}
	if next == nil {
		return prev, nil
	}
	if !strings.EqualFold(prev.AssetPairID, next.AssetPairID) {
		return nil, fmt.Errorf("candles: merge asset pair mismatch %q vs %q", prev.AssetPairID, next.AssetPairID)
	}
	if prev.PriceType != next.PriceType {
		return nil, fmt.Errorf("candles: merge price type mismatch %q vs %q", prev.PriceType, next.PriceType)
	}
	if prev.Interval != next.Interval {
		return nil, fmt.Errorf("candles: merge interval mismatch %q vs %q", prev.Interval, next.Interval)
	}
	ts := prev.Timestamp
	if len(newTimestamp) > 0 {
		ts = newTimestamp[0].UTC()
	} else if !prev.Timestamp.Equal(next.Timestamp) {
		return nil, fmt.Errorf("candles: merge timestamp mismatch %s vs %s without explicit target",
			prev.Timestamp.Format(time.RFC3339), next.Timestamp.Format(time.RFC3339))
	}
	merged := Candle{
		AssetPairID: prev.AssetPairID,
		PriceType:   prev.PriceType,
		Interval:    prev.Interval,
		Timestamp:   ts,
		Open:        prev.Open,
		Close:       next.Close,
		High:        maxFloat(prev.High, next.High),
		Low:         minFloat(prev.Low, next.Low),
		Volume:      prev.Volume + next.Volume,
	}
	return &merged, nil
}

// MergeIntoBiggerIntervals regroups candles into a coarser granularity.
// Input order is not assumed; each bucket is folded chronologically so
// open/close stay correct. Produces one candle per populated bucket and
// does not fill gaps.
func MergeIntoBiggerIntervals(in []Candle, newInterval Interval) ([]Candle, error) {
	if !newInterval.Specified() {
		return nil, fmt.Errorf("candles: target interval must be specified")
	}
	groups := make(map[time.Time][]Candle)
	for _, c := range in {
		bucket := newInterval.Truncate(c.Timestamp)
		groups[bucket] = append(groups[bucket], c)
	}
	buckets := make([]time.Time, 0, len(groups))
	for bucket := range groups {
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })

	out := make([]Candle, 0, len(buckets))
	for _, bucket := range buckets {
		group := groups[bucket]
		sort.Slice(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })
		var acc *Candle
		for idx := range group {
			next := group[idx]
			next.Interval = newInterval
			next.Timestamp = bucket
			merged, err := MergeChronological(acc, &next, bucket)
			if err != nil {
				return nil, err
			}
			acc = merged
		}
		out = append(out, *acc)
	}
	return out, nil
}

// CreateMidCandle derives a mid-price candle from matching ask and bid
// candles. Either input may be nil, in which case the other is returned
// unchanged. Both candles must agree on asset pair, interval and bucket.
func CreateMidCandle(ask, bid *Candle) (*Candle, error) {
	if ask == nil {
		return bid, nil
	}
	if bid == nil {
		return ask, nil
	}
	if ask.PriceType != PriceAsk {
		return nil, fmt.Errorf("candles: mid candle expects ask input, got %q", ask.PriceType)
	}
	if bid.PriceType != PriceBid {
		return nil, fmt.Errorf("candles: mid candle expects bid input, got %q", bid.PriceType)
	}
	if !strings.EqualFold(ask.AssetPairID, bid.AssetPairID) {
		return nil, fmt.Errorf("candles: mid candle asset pair mismatch %q vs %q", ask.AssetPairID, bid.AssetPairID)
	}
	if ask.Interval != bid.Interval {
		return nil, fmt.Errorf("candles: mid candle interval mismatch %q vs %q", ask.Interval, bid.Interval)
	}
	if !ask.Timestamp.Equal(bid.Timestamp) {
		return nil, fmt.Errorf("candles: mid candle timestamp mismatch %s vs %s",
			ask.Timestamp.Format(time.RFC3339), bid.Timestamp.Format(time.RFC3339))
	}
	mid := Candle{
		AssetPairID: ask.AssetPairID,
		PriceType:   PriceMid,
		Interval:    ask.Interval,
		Timestamp:   ask.Timestamp,
		Open:        (ask.Open + bid.Open) / 2,
		Close:       (ask.Close + bid.Close) / 2,
		High:        (ask.High + bid.High) / 2,
		Low:         (ask.Low + bid.Low) / 2,
		Volume:      ask.Volume + bid.Volume,
	}
	return &mid, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
