package storage

import (
	"fmt"
	"strings"
	"time"

	"candles-api/pkg/candles"
)

// rowKeyTimeLayout is part of the persisted key format and must not change.
const rowKeyTimeLayout = "20060102150405"

// TickRecord is the compact OHLC form stored inside a row, keyed by the
// candle's tick offset within the row bucket.
type TickRecord struct {
	Open   float64 `json:"o"`
	Close  float64 `json:"c"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Volume float64 `json:"v"`
}

// CandleRow is one storage bucket: all candles of a single
// (asset pair, price type, interval) series that fall into one coarse
// time span, keyed by tick offset.
type CandleRow struct {
	PartitionKey string
	RowKey       string
	Ticks        map[int]TickRecord
}

// PartitionKey derives the stable partition identity for a series.
func PartitionKey(assetPair string, priceType candles.PriceType) string {
	return strings.ToLower(assetPair) + "_" + string(priceType)
}

// RowKey derives the stable row identity from the bucket start. The
// interval leads so a lexicographic range scan stays within one series.
func RowKey(interval candles.Interval, bucketStart time.Time) string {
	return string(interval) + "_" + bucketStart.UTC().Format(rowKeyTimeLayout)
}

// BucketStart maps an interval-aligned timestamp to the start of its row
// bucket. Buckets are coarse enough to hold many candles per row and
// chosen so every candle timestamp reconstructs exactly from
// bucket + tick (see TickTime).
func BucketStart(interval candles.Interval, ts time.Time) time.Time {
	ts = ts.UTC()
	switch interval {
	case candles.IntervalSec:
		return candles.IntervalHour.Truncate(ts)
	case candles.IntervalMinute:
		return candles.IntervalDay.Truncate(ts)
	case candles.IntervalDay, candles.IntervalWeek, candles.IntervalMonth:
		return time.Date(ts.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return candles.IntervalMonth.Truncate(ts)
	}
}

// Tick returns the candle's offset within its row bucket.
func Tick(interval candles.Interval, ts time.Time) int {
	bucket := BucketStart(interval, ts)
	switch interval {
	case candles.IntervalWeek:
		// Week candles sit on Mondays; day index keeps reconstruction exact.
		return int(ts.Sub(bucket) / (24 * time.Hour))
	case candles.IntervalMonth:
		return int(ts.UTC().Month() - 1)
	default:
		return int(ts.Sub(bucket) / interval.Duration())
	}
}

// TickTime reconstructs the candle timestamp from bucket start and tick.
func TickTime(interval candles.Interval, bucketStart time.Time, tick int) time.Time {
	switch interval {
	case candles.IntervalWeek:
		return bucketStart.Add(time.Duration(tick) * 24 * time.Hour)
	case candles.IntervalMonth:
		return bucketStart.AddDate(0, tick, 0)
	default:
		return bucketStart.Add(time.Duration(tick) * interval.Duration())
	}
}

// parseRowKey splits a row key back into interval and bucket start.
func parseRowKey(rowKey string) (candles.Interval, time.Time, error) {
	idx := strings.LastIndex(rowKey, "_")
	if idx < 0 {
		return candles.IntervalUnspecified, time.Time{}, fmt.Errorf("storage: malformed row key %q", rowKey)
	}
	interval, err := candles.ParseInterval(rowKey[:idx])
	if err != nil {
		return candles.IntervalUnspecified, time.Time{}, fmt.Errorf("storage: row key %q: %w", rowKey, err)
	}
	bucket, err := time.ParseInLocation(rowKeyTimeLayout, rowKey[idx+1:], time.UTC)
	if err != nil {
		return candles.IntervalUnspecified, time.Time{}, fmt.Errorf("storage: row key %q: %w", rowKey, err)
	}
	return interval, bucket, nil
}

// expand converts a row back into candles ordered by tick.
func (r *CandleRow) expand(assetPair string, priceType candles.PriceType) ([]candles.Candle, error) {
	interval, bucket, err := parseRowKey(r.RowKey)
	if err != nil {
		return nil, err
	}
	out := make([]candles.Candle, 0, len(r.Ticks))
	for tick, rec := range r.Ticks {
		out = append(out, candles.Candle{
			AssetPairID: assetPair,
			PriceType:   priceType,
			Interval:    interval,
			Timestamp:   TickTime(interval, bucket, tick),
			Open:        rec.Open,
			Close:       rec.Close,
			High:        rec.High,
			Low:         rec.Low,
			Volume:      rec.Volume,
		})
	}
	return out, nil
}
