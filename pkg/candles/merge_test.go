package candles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteCandle(ts time.Time, o, c, h, l, v float64) Candle {
	return Candle{
		AssetPairID: "EURUSD",
		PriceType:   PriceBid,
		Interval:    IntervalMinute,
		Timestamp:   ts,
		Open:        o, Close: c, High: h, Low: l, Volume: v,
	}
}

func TestMergeChronological_SameBucket(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := minuteCandle(ts, 1.1000, 1.1005, 1.1006, 1.0999, 10)
	b := minuteCandle(ts, 1.1005, 1.1002, 1.1007, 1.1001, 4)

	merged, err := MergeChronological(&a, &b)
	require.NoError(t, err)
	assert.Equal(t, a.Open, merged.Open, "open comes from the earlier candle")
	assert.Equal(t, b.Close, merged.Close, "close comes from the later candle")
	assert.Equal(t, 1.1007, merged.High)
	assert.Equal(t, 1.0999, merged.Low)
	assert.Equal(t, 14.0, merged.Volume)
	assert.Equal(t, ts, merged.Timestamp)
}

func TestMergeChronological_Identity(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := minuteCandle(ts, 1, 2, 3, 0.5, 7)

	left, err := MergeChronological(nil, &a)
	require.NoError(t, err)
	assert.Equal(t, &a, left)

	right, err := MergeChronological(&a, nil)
	require.NoError(t, err)
	assert.Equal(t, &a, right)
}

func TestMergeChronological_Mismatches(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	base := minuteCandle(ts, 1, 1, 1, 1, 1)

	pair := base
	pair.AssetPairID = "GBPUSD"
	_, err := MergeChronological(&base, &pair)
	assert.Error(t, err, "asset pair mismatch must fail")

	price := base
	price.PriceType = PriceAsk
	_, err = MergeChronological(&base, &price)
	assert.Error(t, err, "price type mismatch must fail")

	iv := base
	iv.Interval = IntervalHour
	_, err = MergeChronological(&base, &iv)
	assert.Error(t, err, "interval mismatch must fail")

	shifted := base
	shifted.Timestamp = ts.Add(time.Minute)
	_, err = MergeChronological(&base, &shifted)
	assert.Error(t, err, "timestamp mismatch without explicit target must fail")

	merged, err := MergeChronological(&base, &shifted, ts)
	require.NoError(t, err)
	assert.Equal(t, ts, merged.Timestamp, "explicit target timestamp wins")
}

func TestMergeIntoBiggerIntervals(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	in := []Candle{
		// Deliberately out of order across buckets.
		minuteCandle(base.Add(61*time.Minute), 7, 8, 9, 6, 1),
		minuteCandle(base, 1.1000, 1.1005, 1.1006, 1.0999, 10),
		minuteCandle(base.Add(30*time.Minute), 1.1005, 1.1001, 1.1010, 1.0990, 5),
	}

	out, err := MergeIntoBiggerIntervals(in, IntervalHour)
	require.NoError(t, err)
	require.Len(t, out, 2, "two populated hour buckets, no gap filling")

	first := out[0]
	assert.Equal(t, base, first.Timestamp)
	assert.Equal(t, IntervalHour, first.Interval)
	assert.Equal(t, 1.1000, first.Open)
	assert.Equal(t, 1.1001, first.Close)
	assert.Equal(t, 1.1010, first.High)
	assert.Equal(t, 1.0990, first.Low)
	assert.Equal(t, 15.0, first.Volume)

	assert.Equal(t, base.Add(time.Hour), out[1].Timestamp)
}

func TestMergeIntoBiggerIntervals_Idempotent(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	in := []Candle{
		minuteCandle(base, 1, 2, 3, 0.5, 1),
		minuteCandle(base.Add(5*time.Minute), 2, 4, 5, 1.5, 2),
		minuteCandle(base.Add(70*time.Minute), 4, 3, 6, 2.5, 3),
	}

	once, err := MergeIntoBiggerIntervals(in, IntervalHour)
	require.NoError(t, err)
	twice, err := MergeIntoBiggerIntervals(once, IntervalHour)
	require.NoError(t, err)
	assert.Equal(t, once, twice, "re-merging a merged sequence must be a no-op")
}

func TestCreateMidCandle(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ask := Candle{AssetPairID: "EURUSD", PriceType: PriceAsk, Interval: IntervalMinute, Timestamp: ts,
		Open: 1.2010, Close: 1.2012, High: 1.2015, Low: 1.2008, Volume: 3}
	bid := Candle{AssetPairID: "EURUSD", PriceType: PriceBid, Interval: IntervalMinute, Timestamp: ts,
		Open: 1.2000, Close: 1.2002, High: 1.2005, Low: 1.1998, Volume: 2}

	mid, err := CreateMidCandle(&ask, &bid)
	require.NoError(t, err)
	assert.Equal(t, PriceMid, mid.PriceType)
	assert.InDelta(t, 1.2005, mid.Open, 1e-12)
	assert.InDelta(t, 1.2007, mid.Close, 1e-12)
	assert.InDelta(t, 1.2010, mid.High, 1e-12)
	assert.InDelta(t, 1.2003, mid.Low, 1e-12)
}

func TestCreateMidCandle_AbsentInput(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ask := Candle{AssetPairID: "EURUSD", PriceType: PriceAsk, Interval: IntervalMinute, Timestamp: ts}

	got, err := CreateMidCandle(&ask, nil)
	require.NoError(t, err)
	assert.Equal(t, &ask, got)

	got, err = CreateMidCandle(nil, &ask)
	require.NoError(t, err)
	assert.Equal(t, &ask, got)
}

func TestCreateMidCandle_RejectsSwappedSides(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ask := Candle{AssetPairID: "EURUSD", PriceType: PriceAsk, Interval: IntervalMinute, Timestamp: ts}
	bid := Candle{AssetPairID: "EURUSD", PriceType: PriceBid, Interval: IntervalMinute, Timestamp: ts}

	_, err := CreateMidCandle(&bid, &ask)
	assert.Error(t, err)
}
