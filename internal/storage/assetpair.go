package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"candles-api/pkg/candles"
)

// PairRepository is the per-(asset pair, interval) durable candle store.
type PairRepository interface {
	Upsert(ctx context.Context, priceType candles.PriceType, in []candles.Candle) error
	Query(ctx context.Context, priceType candles.PriceType, from, to time.Time) ([]candles.Candle, error)
}

// AssetPairRepository maps one (asset pair, interval) candle series onto
// bucketed rows. Writes are read-merge-write per row with last-writer-wins
// semantics; callers serialize writes per series key.
type AssetPairRepository struct {
	store     RowStore
	assetPair string
	interval  candles.Interval
}

var _ PairRepository = (*AssetPairRepository)(nil)

// NewAssetPairRepository builds a repository for one series.
func NewAssetPairRepository(store RowStore, assetPair string, interval candles.Interval) *AssetPairRepository {
	return &AssetPairRepository{store: store, assetPair: assetPair, interval: interval}
}

// Upsert merges incoming candles into their target rows. Candles landing
// on an occupied tick are merged chronologically (incoming last, so later
// entries win close); new ticks are inserted. Each touched row is written
// back in full.
func (r *AssetPairRepository) Upsert(ctx context.Context, priceType candles.PriceType, in []candles.Candle) error {
	if !priceType.Specified() {
		return errors.New("storage: upsert requires a specified price type")
	}
	if len(in) == 0 {
		return nil
	}
	partition := PartitionKey(r.assetPair, priceType)

	grouped := make(map[string][]candles.Candle)
	rowOrder := make([]string, 0)
	for _, c := range in {
		key := RowKey(r.interval, BucketStart(r.interval, c.Timestamp))
		if _, seen := grouped[key]; !seen {
			rowOrder = append(rowOrder, key)
		}
		grouped[key] = append(grouped[key], c)
	}
	sort.Strings(rowOrder)

	for _, rowKey := range rowOrder {
		row, err := r.store.Get(ctx, partition, rowKey)
		if errors.Is(err, ErrRowNotFound) {
			row = &CandleRow{PartitionKey: partition, RowKey: rowKey, Ticks: make(map[int]TickRecord)}
		} else if err != nil {
			return err
		}
		for _, c := range grouped[rowKey] {
			if err := mergeTick(row, r.interval, c); err != nil {
				return err
			}
		}
		if err := r.store.Put(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// Query returns all candles of the series within [from, to), in
// chronological order.
func (r *AssetPairRepository) Query(ctx context.Context, priceType candles.PriceType, from, to time.Time) ([]candles.Candle, error) {
	if !priceType.Specified() {
		return nil, errors.New("storage: query requires a specified price type")
	}
	partition := PartitionKey(r.assetPair, priceType)
	fromKey := RowKey(r.interval, BucketStart(r.interval, from.UTC()))
	toKey := RowKey(r.interval, BucketStart(r.interval, to.UTC()))

	rows, err := r.store.QueryRange(ctx, partition, fromKey, toKey)
	if err != nil {
		return nil, err
	}
	var out []candles.Candle
	for i := range rows {
		expanded, err := rows[i].expand(r.assetPair, priceType)
		if err != nil {
			return nil, err
		}
		for _, c := range expanded {
			if c.Timestamp.Before(from) || !c.Timestamp.Before(to) {
				continue
			}
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func mergeTick(row *CandleRow, interval candles.Interval, c candles.Candle) error {
	if c.Interval != interval {
		return fmt.Errorf("storage: candle interval %q does not match repository interval %q", c.Interval, interval)
	}
	tick := Tick(interval, c.Timestamp)
	if existing, ok := row.Ticks[tick]; ok {
		prev := candles.Candle{
			AssetPairID: c.AssetPairID,
			PriceType:   c.PriceType,
			Interval:    c.Interval,
			Timestamp:   c.Timestamp,
			Open:        existing.Open,
			Close:       existing.Close,
			High:        existing.High,
			Low:         existing.Low,
			Volume:      existing.Volume,
		}
		merged, err := candles.MergeChronological(&prev, &c)
		if err != nil {
			return err
		}
		c = *merged
	}
	row.Ticks[tick] = TickRecord{Open: c.Open, Close: c.Close, High: c.High, Low: c.Low, Volume: c.Volume}
	return nil
}
