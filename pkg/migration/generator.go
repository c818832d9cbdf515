package migration

import (
	"fmt"
	"strings"
	"sync"

	"candles-api/pkg/candles"
)

// Generator kinds selectable per instrument.
const (
	GeneratorNoop    = "noop"
	GeneratorGapFill = "gapfill"
)

// MissedCandlesGenerator transforms each source chunk before it is
// merged into target intervals. Implementations carry state across
// chunks so a resumed migration picks up where it stopped.
type MissedCandlesGenerator interface {
	Kind() string
	// Generate returns the chunk to persist for the instrument. The
	// input is chronologically ordered and never mutated.
	Generate(assetPair string, priceType candles.PriceType, chunk []candles.Candle) []candles.Candle
	// State exposes the last-seen candle per instrument for snapshots.
	State() map[string]candles.Candle
	// Restore replaces generator state from a snapshot.
	Restore(state map[string]candles.Candle)
}

// NewGenerator resolves a generator kind. Empty kind means noop.
func NewGenerator(kind string) (MissedCandlesGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", GeneratorNoop:
		return &NoopGenerator{}, nil
	case GeneratorGapFill:
		return NewGapFillingGenerator(), nil
	default:
		return nil, fmt.Errorf("migration: unknown generator %q", kind)
	}
}

// NoopGenerator passes source candles through one to one.
type NoopGenerator struct{}

var _ MissedCandlesGenerator = (*NoopGenerator)(nil)

func (g *NoopGenerator) Kind() string { return GeneratorNoop }

func (g *NoopGenerator) Generate(_ string, _ candles.PriceType, chunk []candles.Candle) []candles.Candle {
	return chunk
}

func (g *NoopGenerator) State() map[string]candles.Candle { return map[string]candles.Candle{} }

func (g *NoopGenerator) Restore(map[string]candles.Candle) {}

// GapFillingGenerator synthesizes flat candles for source gaps so every
// bucket between the first and last real candle is covered. A synthetic
// candle repeats the previous close at zero volume. The last real candle
// per instrument is retained across chunks, which makes gaps spanning
// chunk boundaries fillable too.
type GapFillingGenerator struct {
	mu   sync.Mutex
	last map[string]candles.Candle
}

var _ MissedCandlesGenerator = (*GapFillingGenerator)(nil)

func NewGapFillingGenerator() *GapFillingGenerator {
	return &GapFillingGenerator{last: make(map[string]candles.Candle)}
}

func (g *GapFillingGenerator) Kind() string { return GeneratorGapFill }

func (g *GapFillingGenerator) Generate(assetPair string, priceType candles.PriceType, chunk []candles.Candle) []candles.Candle {
	if len(chunk) == 0 {
		return chunk
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	key := instrumentKey(assetPair, priceType)
	prev, hasPrev := g.last[key]
	out := make([]candles.Candle, 0, len(chunk))
	for _, c := range chunk {
		if hasPrev {
			out = append(out, fillBetween(prev, c)...)
		}
		out = append(out, c)
		prev, hasPrev = c, true
	}
	g.last[key] = prev
	return out
}

// fillBetween returns flat candles for every bucket strictly between
// prev and next at prev's interval.
func fillBetween(prev, next candles.Candle) []candles.Candle {
	interval := prev.Interval
	if !interval.Specified() || interval != next.Interval {
		return nil
	}
	var fills []candles.Candle
	for ts := interval.Next(prev.Timestamp); ts.Before(next.Timestamp); ts = interval.Next(ts) {
		fills = append(fills, candles.Candle{
			AssetPairID: prev.AssetPairID,
			PriceType:   prev.PriceType,
			Interval:    interval,
			Timestamp:   ts,
			Open:        prev.Close,
			Close:       prev.Close,
			High:        prev.Close,
			Low:         prev.Close,
			Volume:      0,
		})
	}
	return fills
}

func (g *GapFillingGenerator) State() map[string]candles.Candle {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := make(map[string]candles.Candle, len(g.last))
	for key, c := range g.last {
		state[key] = c
	}
	return state
}

func (g *GapFillingGenerator) Restore(state map[string]candles.Candle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[string]candles.Candle, len(state))
	for key, c := range state {
		c.Timestamp = c.Timestamp.UTC()
		g.last[key] = c
	}
}

func instrumentKey(assetPair string, priceType candles.PriceType) string {
	return strings.ToLower(assetPair) + "_" + string(priceType)
}
