package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"candles-api/pkg/candles"
)

// ProgressStore records how far each instrument's migration has gotten.
// processed_at is the timestamp of the last source candle whose chunk
// was fully committed; restarts resume strictly after it.
type ProgressStore interface {
	Get(ctx context.Context, assetPair string, priceType candles.PriceType) (processedAt time.Time, ok bool, err error)
	Upsert(ctx context.Context, assetPair string, priceType candles.PriceType, processedAt time.Time) error
}

// PostgresProgressStore keeps the ledger in a single table:
//
//	CREATE TABLE migration_progress (
//	    asset_pair_id text NOT NULL,
//	    price_type    text NOT NULL,
//	    processed_at  timestamptz NOT NULL,
//	    PRIMARY KEY (asset_pair_id, price_type)
//	);
type PostgresProgressStore struct {
	conn sqlx.SqlConn
}

var _ ProgressStore = (*PostgresProgressStore)(nil)

func NewPostgresProgressStore(conn sqlx.SqlConn) *PostgresProgressStore {
	return &PostgresProgressStore{conn: conn}
}

type progressRecord struct {
	ProcessedAt time.Time `db:"processed_at"`
}

func (s *PostgresProgressStore) Get(ctx context.Context, assetPair string, priceType candles.PriceType) (time.Time, bool, error) {
	const query = `SELECT processed_at FROM migration_progress WHERE asset_pair_id = $1 AND price_type = $2`
	var rec progressRecord
	if err := s.conn.QueryRowCtx(ctx, &rec, query, strings.ToLower(assetPair), string(priceType)); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("migration: get progress %s/%s: %w", assetPair, priceType, err)
	}
	return rec.ProcessedAt.UTC(), true, nil
}

// Upsert advances the ledger. GREATEST keeps the mark monotonic even if
// a stale writer races a fresher one.
func (s *PostgresProgressStore) Upsert(ctx context.Context, assetPair string, priceType candles.PriceType, processedAt time.Time) error {
	const query = `
		INSERT INTO migration_progress (asset_pair_id, price_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset_pair_id, price_type) DO UPDATE SET
			processed_at = GREATEST(migration_progress.processed_at, EXCLUDED.processed_at)
	`
	if _, err := s.conn.ExecCtx(ctx, query, strings.ToLower(assetPair), string(priceType), processedAt.UTC()); err != nil {
		return fmt.Errorf("migration: upsert progress %s/%s: %w", assetPair, priceType, err)
	}
	return nil
}
