package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"candles-api/internal/storage"
	"candles-api/pkg/candles"
)

// Engine drives the backfill: for every configured instrument it streams
// source chunks, applies the instrument's generator, fans the result out
// to every target interval and writes through the history repository.
// Progress advances only after a chunk's writes commit, so a restart
// re-reads at most one chunk (writes are merge-idempotent).
type Engine struct {
	providers   map[string]HistoryProvider
	progress    ProgressStore
	repo        storage.HistoryRepository
	instruments []InstrumentConfig
	intervals   []candles.Interval
	generators  map[string]MissedCandlesGenerator
}

// NewEngine assembles an engine from configuration and built providers.
func NewEngine(cfg *Config, providers map[string]HistoryProvider, progress ProgressStore, repo storage.HistoryRepository) (*Engine, error) {
	if progress == nil {
		return nil, fmt.Errorf("migration: progress store is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("migration: history repository is required")
	}
	engine := &Engine{
		providers:   providers,
		progress:    progress,
		repo:        repo,
		instruments: cfg.Instruments,
		intervals:   cfg.TargetIntervals(),
		generators:  make(map[string]MissedCandlesGenerator),
	}
	for _, inst := range cfg.Instruments {
		gen, err := NewGenerator(inst.Generator)
		if err != nil {
			return nil, err
		}
		if _, ok := engine.generators[gen.Kind()]; !ok {
			engine.generators[gen.Kind()] = gen
		}
	}
	return engine, nil
}

// Run migrates every instrument sequentially. Context cancellation is a
// clean stop: committed chunks stay committed and Run returns nil.
func (e *Engine) Run(ctx context.Context) error {
	for _, inst := range e.instruments {
		if err := e.migrateInstrument(ctx, inst); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logx.WithContext(ctx).Infof("migration: stopped on cancellation pair=%s priceType=%s", inst.AssetPair, inst.PriceType)
				return nil
			}
			return fmt.Errorf("migration: instrument %s/%s: %w", inst.AssetPair, inst.PriceType, err)
		}
	}
	return nil
}

func (e *Engine) migrateInstrument(ctx context.Context, inst InstrumentConfig) error {
	provider, ok := e.providers[inst.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", inst.Provider)
	}
	priceType, err := candles.ParsePriceType(inst.PriceType)
	if err != nil {
		return err
	}
	gen := e.generatorFor(inst.Generator)

	after, ok, err := e.progress.Get(ctx, inst.AssetPair, priceType)
	if err != nil {
		return err
	}
	if !ok {
		start, hasData, err := provider.GetStartDate(ctx, inst.AssetPair, priceType)
		if err != nil {
			return err
		}
		if !hasData {
			logx.WithContext(ctx).Infof("migration: nothing to migrate pair=%s priceType=%s", inst.AssetPair, priceType)
			return nil
		}
		// Exclusive lower bound; nudge back so the first candle is included.
		after = start.Add(-time.Nanosecond)
	}

	until := inst.EndDate
	if until.IsZero() {
		until = time.Now().UTC()
	}
	if !after.Before(until) {
		logx.WithContext(ctx).Infof("migration: already caught up pair=%s priceType=%s processedAt=%s",
			inst.AssetPair, priceType, after.Format(time.RFC3339))
		return nil
	}

	logx.WithContext(ctx).Infof("migration: starting pair=%s priceType=%s after=%s until=%s",
		inst.AssetPair, priceType, after.Format(time.RFC3339), until.Format(time.RFC3339))

	return provider.GetHistoryByChunks(ctx, inst.AssetPair, priceType, after, until,
		func(ctx context.Context, chunk []candles.Candle) error {
			if len(chunk) == 0 {
				return nil
			}
			generated := gen.Generate(inst.AssetPair, priceType, chunk)
			for _, interval := range e.intervals {
				merged, err := candles.MergeIntoBiggerIntervals(generated, interval)
				if err != nil {
					return err
				}
				if len(merged) == 0 {
					continue
				}
				if err := e.repo.InsertOrMerge(ctx, merged, inst.AssetPair, interval, priceType); err != nil {
					return err
				}
			}
			processedAt := chunk[len(chunk)-1].Timestamp
			if err := e.progress.Upsert(ctx, inst.AssetPair, priceType, processedAt); err != nil {
				return err
			}
			logx.WithContext(ctx).Infof("migration: chunk committed pair=%s priceType=%s candles=%d processedAt=%s",
				inst.AssetPair, priceType, len(chunk), processedAt.Format(time.RFC3339))
			return nil
		})
}

func (e *Engine) generatorFor(kind string) MissedCandlesGenerator {
	gen, err := NewGenerator(kind)
	if err != nil {
		return e.generators[GeneratorNoop]
	}
	if existing, ok := e.generators[gen.Kind()]; ok {
		return existing
	}
	e.generators[gen.Kind()] = gen
	return gen
}

// GeneratorState snapshots the gap-fill generator's per-instrument state.
func (e *Engine) GeneratorState() map[string]candles.Candle {
	state := make(map[string]candles.Candle)
	for _, gen := range e.generators {
		for key, c := range gen.State() {
			state[key] = c
		}
	}
	return state
}

// RestoreGeneratorState feeds snapshot state back into the generators.
func (e *Engine) RestoreGeneratorState(state map[string]candles.Candle) {
	if len(state) == 0 {
		return
	}
	gen, ok := e.generators[GeneratorGapFill]
	if !ok {
		gen = NewGapFillingGenerator()
		e.generators[GeneratorGapFill] = gen
	}
	gen.Restore(state)
}
