package candles

import (
	"fmt"
	"strings"
	"time"
)

// PriceType identifies which side of the book a candle summarises.
type PriceType string

const (
	PriceUnspecified PriceType = ""
	PriceBid         PriceType = "bid"
	PriceAsk         PriceType = "ask"
	PriceMid         PriceType = "mid"
	PriceTrades      PriceType = "trades"
)

// ParsePriceType normalises a price type string. Unknown values are an error.
func ParsePriceType(s string) (PriceType, error) {
	switch PriceType(strings.ToLower(strings.TrimSpace(s))) {
	case PriceBid:
		return PriceBid, nil
	case PriceAsk:
		return PriceAsk, nil
	case PriceMid:
		return PriceMid, nil
	case PriceTrades:
		return PriceTrades, nil
	case PriceUnspecified:
		return PriceUnspecified, nil
	default:
		return PriceUnspecified, fmt.Errorf("candles: unknown price type %q", s)
	}
}

// Specified reports whether the price type carries a concrete value.
func (p PriceType) Specified() bool { return p != PriceUnspecified }

func (p PriceType) String() string { return string(p) }

// Interval is the aggregation granularity of a candle.
type Interval string

const (
	IntervalUnspecified Interval = ""
	IntervalSec         Interval = "sec"
	IntervalMinute      Interval = "minute"
	IntervalMin5        Interval = "min5"
	IntervalMin15       Interval = "min15"
	IntervalMin30       Interval = "min30"
	IntervalHour        Interval = "hour"
	IntervalHour4       Interval = "hour4"
	IntervalHour6       Interval = "hour6"
	IntervalHour12      Interval = "hour12"
	IntervalDay         Interval = "day"
	IntervalWeek        Interval = "week"
	IntervalMonth       Interval = "month"
)

// StoredIntervals lists every granularity the service persists, finest first.
var StoredIntervals = []Interval{
	IntervalSec, IntervalMinute, IntervalMin5, IntervalMin15, IntervalMin30,
	IntervalHour, IntervalHour4, IntervalHour6, IntervalHour12,
	IntervalDay, IntervalWeek, IntervalMonth,
}

// ParseInterval normalises an interval string. Unknown values are an error.
func ParseInterval(s string) (Interval, error) {
	v := Interval(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case IntervalSec, IntervalMinute, IntervalMin5, IntervalMin15, IntervalMin30,
		IntervalHour, IntervalHour4, IntervalHour6, IntervalHour12,
		IntervalDay, IntervalWeek, IntervalMonth, IntervalUnspecified:
		return v, nil
	default:
		return IntervalUnspecified, fmt.Errorf("candles: unknown interval %q", s)
	}
}

// Specified reports whether the interval carries a concrete value.
func (i Interval) Specified() bool { return i != IntervalUnspecified }

func (i Interval) String() string { return string(i) }

// Duration returns the fixed span of the interval. Week and Month are
// calendar-based; Month returns zero and must go through Truncate/Next.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalSec:
		return time.Second
	case IntervalMinute:
		return time.Minute
	case IntervalMin5:
		return 5 * time.Minute
	case IntervalMin15:
		return 15 * time.Minute
	case IntervalMin30:
		return 30 * time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalHour4:
		return 4 * time.Hour
	case IntervalHour6:
		return 6 * time.Hour
	case IntervalHour12:
		return 12 * time.Hour
	case IntervalDay:
		return 24 * time.Hour
	case IntervalWeek:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Truncate maps a timestamp to the start of its interval bucket, in UTC.
// Total and deterministic for every specified interval.
func (i Interval) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch i {
	case IntervalDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case IntervalWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// Monday-based weeks.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case IntervalMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		d := i.Duration()
		if d <= 0 {
			return t
		}
		return t.Truncate(d)
	}
}

// Next returns the start of the bucket following t, where t is already
// interval-aligned.
func (i Interval) Next(t time.Time) time.Time {
	if i == IntervalMonth {
		return t.AddDate(0, 1, 0)
	}
	return t.Add(i.Duration())
}

// Candle is an immutable OHLC+volume summary for one instrument, price
// side, interval and time bucket. Merge operations return new values and
// never mutate their inputs. JSON tags cover the legacy snapshot form;
// the binary snapshot form is the custom msgpack codec in msgpack.go.
type Candle struct {
	AssetPairID string    `json:"assetPairId"`
	PriceType   PriceType `json:"priceType"`
	Interval    Interval  `json:"timeInterval"`
	Timestamp   time.Time `json:"timestamp"`
	Open        float64   `json:"open"`
	Close       float64   `json:"close"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Volume      float64   `json:"tradingVolume"`
}

// FromQuote builds a single-tick candle from one price observation.
func FromQuote(assetPair string, priceType PriceType, interval Interval, ts time.Time, price, volume float64) Candle {
	return Candle{
		AssetPairID: assetPair,
		PriceType:   priceType,
		Interval:    interval,
		Timestamp:   interval.Truncate(ts),
		Open:        price,
		Close:       price,
		High:        price,
		Low:         price,
		Volume:      volume,
	}
}

// Key returns the canonical lower-cased identity of the candle series.
func (c Candle) Key() string {
	return strings.ToLower(c.AssetPairID) + "_" + string(c.PriceType) + "_" + string(c.Interval)
}
