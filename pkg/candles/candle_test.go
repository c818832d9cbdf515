package candles

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalTruncate(t *testing.T) {
	ts := time.Date(2024, 3, 7, 14, 37, 42, 123456789, time.UTC) // a Thursday

	cases := []struct {
		interval Interval
		want     time.Time
	}{
		{IntervalSec, time.Date(2024, 3, 7, 14, 37, 42, 0, time.UTC)},
		{IntervalMinute, time.Date(2024, 3, 7, 14, 37, 0, 0, time.UTC)},
		{IntervalMin5, time.Date(2024, 3, 7, 14, 35, 0, 0, time.UTC)},
		{IntervalMin15, time.Date(2024, 3, 7, 14, 30, 0, 0, time.UTC)},
		{IntervalMin30, time.Date(2024, 3, 7, 14, 30, 0, 0, time.UTC)},
		{IntervalHour, time.Date(2024, 3, 7, 14, 0, 0, 0, time.UTC)},
		{IntervalHour4, time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)},
		{IntervalHour6, time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)},
		{IntervalHour12, time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)},
		{IntervalDay, time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)},
		{IntervalWeek, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{IntervalMonth, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(string(tc.interval), func(t *testing.T) {
			got := tc.interval.Truncate(ts)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, tc.interval.Truncate(got), "truncation must be idempotent")
		})
	}
}

func TestIntervalTruncate_WeekOnMonday(t *testing.T) {
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, IntervalWeek.Truncate(monday.Add(3*time.Hour)))
	assert.Equal(t, monday, IntervalWeek.Truncate(monday))
}

func TestIntervalNext(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), IntervalMonth.Next(jan))
	assert.Equal(t, jan.Add(time.Minute), IntervalMinute.Next(jan))
}

func TestParsePriceType(t *testing.T) {
	pt, err := ParsePriceType(" Bid ")
	require.NoError(t, err)
	assert.Equal(t, PriceBid, pt)

	_, err = ParsePriceType("mark")
	assert.Error(t, err)
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("Min5")
	require.NoError(t, err)
	assert.Equal(t, IntervalMin5, iv)

	_, err = ParseInterval("fortnight")
	assert.Error(t, err)
}

func TestFromQuote_AlignsTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 7, 14, 37, 42, 0, time.UTC)
	c := FromQuote("EURUSD", PriceBid, IntervalMinute, ts, 1.1, 2)
	assert.Equal(t, time.Date(2024, 3, 7, 14, 37, 0, 0, time.UTC), c.Timestamp)
	assert.Equal(t, 1.1, c.Open)
	assert.Equal(t, 1.1, c.Close)
	assert.Equal(t, 2.0, c.Volume)
}

func TestToDecimal_Saturates(t *testing.T) {
	assert.True(t, ToDecimal(math.Inf(1)).Equal(decimalMax))
	assert.True(t, ToDecimal(math.Inf(-1)).Equal(decimalMin))
	assert.True(t, ToDecimal(1e30).Equal(decimalMax), "overflow clamps to max")
	assert.True(t, ToDecimal(-1e30).Equal(decimalMin), "overflow clamps to min")
	assert.True(t, ToDecimal(math.NaN()).IsZero())

	f, _ := ToDecimal(1.2345).Float64()
	assert.InDelta(t, 1.2345, f, 1e-12)
}

func TestRoundToAccuracy(t *testing.T) {
	assert.Equal(t, 1.2346, RoundToAccuracy(1.23456, 4))
	assert.Equal(t, 1.23456, RoundToAccuracy(1.23456, -1))
}
