// Package ticksource streams second candles out of a legacy raw-tick
// table. Importing the package registers the "ticksource" provider type.
package ticksource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"candles-api/pkg/candles"
	"candles-api/pkg/migration"
)

const (
	defaultTable     = "price_ticks"
	defaultChunkSize = 5000
)

func init() {
	migration.RegisterProvider("ticksource", func(name string, cfg *migration.ProviderConfig) (migration.HistoryProvider, error) {
		if cfg.DSN == "" {
			return nil, fmt.Errorf("ticksource: provider %s requires a dsn", name)
		}
		table := cfg.Table
		if table == "" {
			table = defaultTable
		}
		chunkSize := cfg.ChunkSize
		if chunkSize <= 0 {
			chunkSize = defaultChunkSize
		}
		return &Provider{
			conn:      sqlx.NewSqlConn("pgx", cfg.DSN),
			table:     table,
			chunkSize: chunkSize,
		}, nil
	})
}

// Provider reads the legacy tick table in timestamp order and folds
// ticks into second candles. The table layout is fixed by the legacy
// system:
//
//	price_ticks(symbol text, price double precision,
//	            volume double precision, ts_ms bigint)
type Provider struct {
	conn      sqlx.SqlConn
	table     string
	chunkSize int
}

var _ migration.HistoryProvider = (*Provider)(nil)

type tickRecord struct {
	Price  float64 `db:"price"`
	Volume float64 `db:"volume"`
	TsMs   int64   `db:"ts_ms"`
}

func (p *Provider) GetStartDate(ctx context.Context, assetPair string, _ candles.PriceType) (time.Time, bool, error) {
	// HAVING drops the aggregate row entirely when the symbol has no
	// ticks, so an empty source reads as not-found instead of NULL.
	query := fmt.Sprintf(`SELECT MIN(ts_ms) FROM %s WHERE symbol = $1 HAVING COUNT(*) > 0`, p.table)
	var minTs int64
	if err := p.conn.QueryRowCtx(ctx, &minTs, query, assetPair); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("ticksource: start date for %s: %w", assetPair, err)
	}
	return time.UnixMilli(minTs).UTC(), true, nil
}

// GetHistoryByChunks pages through the tick table keyed on ts_ms,
// folding each page into second candles. ts_ms is not unique, so a full
// page whose boundary cuts through a run of equal timestamps would lose
// the remaining ties to the `ts_ms > cursor` predicate of the next page.
// The partial run is therefore trimmed off and re-read whole on the next
// page; a run wider than a page is fetched in full with a dedicated
// query.
func (p *Provider) GetHistoryByChunks(ctx context.Context, assetPair string, priceType candles.PriceType, after, until time.Time, fn migration.ChunkFunc) error {
	pageQuery := fmt.Sprintf(`
		SELECT price, volume, ts_ms FROM %s
		WHERE symbol = $1 AND ts_ms > $2 AND ts_ms <= $3
		ORDER BY ts_ms
		LIMIT %d
	`, p.table, p.chunkSize)
	runQuery := fmt.Sprintf(`
		SELECT price, volume, ts_ms FROM %s
		WHERE symbol = $1 AND ts_ms = $2
	`, p.table)

	cursor := after.UnixMilli()
	untilMs := until.UnixMilli()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ticks []tickRecord
		if err := p.conn.QueryRowsCtx(ctx, &ticks, pageQuery, assetPair, cursor, untilMs); err != nil {
			if errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("ticksource: read ticks for %s: %w", assetPair, err)
		}
		if len(ticks) == 0 {
			return nil
		}
		full := len(ticks) == p.chunkSize
		if full {
			lastTs := ticks[len(ticks)-1].TsMs
			cut := len(ticks)
			for cut > 0 && ticks[cut-1].TsMs == lastTs {
				cut--
			}
			if cut > 0 {
				ticks = ticks[:cut]
			} else if err := p.conn.QueryRowsCtx(ctx, &ticks, runQuery, assetPair, lastTs); err != nil {
				if errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				return fmt.Errorf("ticksource: read tick run for %s at %d: %w", assetPair, lastTs, err)
			}
		}
		if err := fn(ctx, foldTicks(assetPair, priceType, ticks)); err != nil {
			return err
		}
		cursor = ticks[len(ticks)-1].TsMs
		if !full {
			return nil
		}
	}
}

// foldTicks merges consecutive same-second ticks into one candle each.
// Input is ordered by ts_ms, so a single pass suffices.
func foldTicks(assetPair string, priceType candles.PriceType, ticks []tickRecord) []candles.Candle {
	out := make([]candles.Candle, 0, len(ticks))
	for _, tick := range ticks {
		ts := candles.IntervalSec.Truncate(time.UnixMilli(tick.TsMs).UTC())
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(ts) {
			last := &out[n-1]
			last.Close = tick.Price
			if tick.Price > last.High {
				last.High = tick.Price
			}
			if tick.Price < last.Low {
				last.Low = tick.Price
			}
			last.Volume += tick.Volume
			continue
		}
		out = append(out, candles.Candle{
			AssetPairID: assetPair,
			PriceType:   priceType,
			Interval:    candles.IntervalSec,
			Timestamp:   ts,
			Open:        tick.Price,
			Close:       tick.Price,
			High:        tick.Price,
			Low:         tick.Price,
			Volume:      tick.Volume,
		})
	}
	return out
}
