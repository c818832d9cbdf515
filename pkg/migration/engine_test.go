package migration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candles-api/pkg/candles"
)

type fakeProvider struct {
	start     time.Time
	hasData   bool
	source    []candles.Candle
	chunkSize int

	lastAfter time.Time
}

func (p *fakeProvider) GetStartDate(context.Context, string, candles.PriceType) (time.Time, bool, error) {
	return p.start, p.hasData, nil
}

func (p *fakeProvider) GetHistoryByChunks(ctx context.Context, _ string, _ candles.PriceType, after, until time.Time, fn ChunkFunc) error {
	p.lastAfter = after
	var chunk []candles.Candle
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := fn(ctx, chunk)
		chunk = nil
		return err
	}
	for _, c := range p.source {
		if !c.Timestamp.After(after) || c.Timestamp.After(until) {
			continue
		}
		chunk = append(chunk, c)
		if len(chunk) == p.chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

type memProgress struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func newMemProgress() *memProgress {
	return &memProgress{marks: make(map[string]time.Time)}
}

func (p *memProgress) Get(_ context.Context, assetPair string, priceType candles.PriceType) (time.Time, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts, ok := p.marks[instrumentKey(assetPair, priceType)]
	return ts, ok, nil
}

func (p *memProgress) Upsert(_ context.Context, assetPair string, priceType candles.PriceType, processedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := instrumentKey(assetPair, priceType)
	if current, ok := p.marks[key]; !ok || processedAt.After(current) {
		p.marks[key] = processedAt
	}
	return nil
}

type capturingRepo struct {
	mu       sync.Mutex
	failNext int
	written  map[candles.Interval][]candles.Candle
}

func newCapturingRepo() *capturingRepo {
	return &capturingRepo{written: make(map[candles.Interval][]candles.Candle)}
}

func (r *capturingRepo) InsertOrMerge(_ context.Context, in []candles.Candle, _ string, interval candles.Interval, _ candles.PriceType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return errors.New("storage down")
	}
	r.written[interval] = append(r.written[interval], in...)
	return nil
}

func (r *capturingRepo) Get(context.Context, string, candles.PriceType, candles.Interval, time.Time, time.Time) ([]candles.Candle, error) {
	return nil, nil
}

func testConfig(until time.Time) *Config {
	return &Config{
		Providers: map[string]*ProviderConfig{
			"legacy": {Type: "fake"},
		},
		Instruments: []InstrumentConfig{
			{AssetPair: "EURUSD", PriceType: "bid", Provider: "legacy", Generator: GeneratorGapFill, EndDate: until},
		},
		Intervals: []string{"sec", "minute"},
	}
}

func TestEngine_MigratesAndFansOut(t *testing.T) {
	base := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	provider := &fakeProvider{
		start:   base,
		hasData: true,
		source: []candles.Candle{
			secCandle(base, 1.10, 1),
			secCandle(base.Add(time.Second), 1.11, 1),
			secCandle(base.Add(61*time.Second), 1.12, 1),
		},
		chunkSize: 10,
	}
	progress := newMemProgress()
	repo := newCapturingRepo()

	cfg := testConfig(base.Add(time.Hour))
	engine, err := NewEngine(cfg, map[string]HistoryProvider{"legacy": provider}, progress, repo)
	require.NoError(t, err)
	require.NoError(t, engine.Run(context.Background()))

	require.Len(t, repo.written[candles.IntervalSec], 62, "gap filling covers every second up to the last tick")
	minutes := repo.written[candles.IntervalMinute]
	require.Len(t, minutes, 2)
	assert.Equal(t, base, minutes[0].Timestamp)
	assert.Equal(t, base.Add(time.Minute), minutes[1].Timestamp)
	assert.Equal(t, 1.10, minutes[0].Open)
	assert.Equal(t, 1.12, minutes[1].Close)

	processedAt, ok, err := progress.Get(context.Background(), "EURUSD", candles.PriceBid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base.Add(61*time.Second), processedAt)
}

func TestEngine_ResumesAfterProgressMark(t *testing.T) {
	base := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	provider := &fakeProvider{
		start:   base,
		hasData: true,
		source: []candles.Candle{
			secCandle(base, 1.10, 1),
			secCandle(base.Add(time.Second), 1.11, 1),
		},
		chunkSize: 10,
	}
	progress := newMemProgress()
	require.NoError(t, progress.Upsert(context.Background(), "EURUSD", candles.PriceBid, base))
	repo := newCapturingRepo()

	engine, err := NewEngine(testConfig(base.Add(time.Hour)), map[string]HistoryProvider{"legacy": provider}, progress, repo)
	require.NoError(t, err)
	require.NoError(t, engine.Run(context.Background()))

	assert.Equal(t, base, provider.lastAfter, "streaming resumes strictly after the committed mark")
	require.Len(t, repo.written[candles.IntervalSec], 1)
	assert.Equal(t, base.Add(time.Second), repo.written[candles.IntervalSec][0].Timestamp)
}

func TestEngine_ProgressStaysPutOnWriteFailure(t *testing.T) {
	base := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	provider := &fakeProvider{
		start:     base,
		hasData:   true,
		source:    []candles.Candle{secCandle(base, 1.10, 1)},
		chunkSize: 10,
	}
	progress := newMemProgress()
	repo := newCapturingRepo()
	repo.failNext = 1

	engine, err := NewEngine(testConfig(base.Add(time.Hour)), map[string]HistoryProvider{"legacy": provider}, progress, repo)
	require.NoError(t, err)
	require.Error(t, engine.Run(context.Background()))

	_, ok, err := progress.Get(context.Background(), "EURUSD", candles.PriceBid)
	require.NoError(t, err)
	assert.False(t, ok, "a failed chunk leaves no progress mark")
}

func TestEngine_EmptySourceIsNoop(t *testing.T) {
	provider := &fakeProvider{hasData: false}
	repo := newCapturingRepo()
	engine, err := NewEngine(testConfig(time.Now()), map[string]HistoryProvider{"legacy": provider}, newMemProgress(), repo)
	require.NoError(t, err)
	require.NoError(t, engine.Run(context.Background()))
	assert.Empty(t, repo.written)
}

func TestEngine_CancellationIsCleanStop(t *testing.T) {
	base := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{
		start:   base,
		hasData: true,
		source: []candles.Candle{
			secCandle(base, 1.10, 1),
			secCandle(base.Add(time.Second), 1.11, 1),
		},
		chunkSize: 1,
	}
	progress := newMemProgress()
	repo := newCapturingRepo()

	engine, err := NewEngine(testConfig(base.Add(time.Hour)), map[string]HistoryProvider{"legacy": provider}, progress, repo)
	require.NoError(t, err)

	// Cancel after the first committed chunk.
	cancellingProvider := &cancelAfterFirstChunk{inner: provider, cancel: cancel}
	engine.providers["legacy"] = cancellingProvider
	require.NoError(t, engine.Run(ctx), "cancellation is a clean stop, not an error")

	processedAt, ok, err := progress.Get(context.Background(), "EURUSD", candles.PriceBid)
	require.NoError(t, err)
	require.True(t, ok, "work committed before cancellation stays committed")
	assert.Equal(t, base, processedAt)
}

type cancelAfterFirstChunk struct {
	inner  *fakeProvider
	cancel context.CancelFunc
}

func (p *cancelAfterFirstChunk) GetStartDate(ctx context.Context, pair string, pt candles.PriceType) (time.Time, bool, error) {
	return p.inner.GetStartDate(ctx, pair, pt)
}

func (p *cancelAfterFirstChunk) GetHistoryByChunks(ctx context.Context, pair string, pt candles.PriceType, after, until time.Time, fn ChunkFunc) error {
	return p.inner.GetHistoryByChunks(ctx, pair, pt, after, until, func(ctx context.Context, chunk []candles.Candle) error {
		if err := fn(ctx, chunk); err != nil {
			return err
		}
		p.cancel()
		return ctx.Err()
	})
}

func TestLoadConfigFromReader_Validates(t *testing.T) {
	yamlDoc := `
providers:
  legacy:
    type: ticksource
    dsn: postgres://localhost/legacy
    chunk_size: 1000
instruments:
  - asset_pair: EURUSD
    price_type: bid
    provider: legacy
    generator: gapfill
intervals: [sec, minute, hour]
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yamlDoc))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Providers["legacy"].ChunkSize)
	assert.Equal(t, []candles.Interval{candles.IntervalSec, candles.IntervalMinute, candles.IntervalHour}, cfg.TargetIntervals())

	_, err = LoadConfigFromReader(strings.NewReader(`
providers:
  legacy:
    type: ticksource
instruments:
  - asset_pair: EURUSD
    price_type: bid
    provider: missing
`))
	assert.Error(t, err, "instruments must reference configured providers")
}
