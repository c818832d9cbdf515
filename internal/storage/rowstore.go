package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// ErrRowNotFound marks a missing row bucket.
var ErrRowNotFound = errors.New("storage: row not found")

// RowStore is the logical row-oriented store contract. Put overwrites the
// whole row; there is no transactional guarantee beyond read-merge-write
// at row granularity, so writers on the same row key must be serialized
// by the caller.
type RowStore interface {
	Get(ctx context.Context, partitionKey, rowKey string) (*CandleRow, error)
	Put(ctx context.Context, row *CandleRow) error
	QueryRange(ctx context.Context, partitionKey, rowKeyFrom, rowKeyTo string) ([]CandleRow, error)
}

// PostgresRowStore keeps candle rows in a single table:
//
//	CREATE TABLE candle_rows (
//	    partition_key text NOT NULL,
//	    row_key       text NOT NULL,
//	    data          jsonb NOT NULL,
//	    updated_at    timestamptz NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (partition_key, row_key)
//	);
//
// The data column holds the tick -> OHLC map; its shape and the key
// formats are a stable wire contract for already-persisted history.
type PostgresRowStore struct {
	conn sqlx.SqlConn
}

var _ RowStore = (*PostgresRowStore)(nil)

// NewPostgresRowStore wraps a sqlx connection into the RowStore contract.
func NewPostgresRowStore(conn sqlx.SqlConn) *PostgresRowStore {
	return &PostgresRowStore{conn: conn}
}

type candleRowRecord struct {
	PartitionKey string `db:"partition_key"`
	RowKey       string `db:"row_key"`
	Data         string `db:"data"`
}

func (s *PostgresRowStore) Get(ctx context.Context, partitionKey, rowKey string) (*CandleRow, error) {
	const query = `SELECT partition_key, row_key, data FROM candle_rows WHERE partition_key = $1 AND row_key = $2`
	var rec candleRowRecord
	if err := s.conn.QueryRowCtx(ctx, &rec, query, partitionKey, rowKey); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRowNotFound
		}
		return nil, fmt.Errorf("storage: get row %s/%s: %w", partitionKey, rowKey, err)
	}
	return decodeRow(rec)
}

func (s *PostgresRowStore) Put(ctx context.Context, row *CandleRow) error {
	data, err := json.Marshal(row.Ticks)
	if err != nil {
		return fmt.Errorf("storage: encode row %s/%s: %w", row.PartitionKey, row.RowKey, err)
	}
	const query = `
		INSERT INTO candle_rows (partition_key, row_key, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (partition_key, row_key) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()
	`
	if _, err := s.conn.ExecCtx(ctx, query, row.PartitionKey, row.RowKey, string(data)); err != nil {
		return fmt.Errorf("storage: put row %s/%s: %w", row.PartitionKey, row.RowKey, err)
	}
	return nil
}

func (s *PostgresRowStore) QueryRange(ctx context.Context, partitionKey, rowKeyFrom, rowKeyTo string) ([]CandleRow, error) {
	const query = `
		SELECT partition_key, row_key, data FROM candle_rows
		WHERE partition_key = $1 AND row_key BETWEEN $2 AND $3
		ORDER BY row_key
	`
	var recs []candleRowRecord
	if err := s.conn.QueryRowsCtx(ctx, &recs, query, partitionKey, rowKeyFrom, rowKeyTo); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: query rows %s [%s..%s]: %w", partitionKey, rowKeyFrom, rowKeyTo, err)
	}
	rows := make([]CandleRow, 0, len(recs))
	for _, rec := range recs {
		row, err := decodeRow(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, *row)
	}
	return rows, nil
}

func decodeRow(rec candleRowRecord) (*CandleRow, error) {
	ticks := make(map[int]TickRecord)
	if rec.Data != "" {
		if err := json.Unmarshal([]byte(rec.Data), &ticks); err != nil {
			return nil, fmt.Errorf("storage: decode row %s/%s: %w", rec.PartitionKey, rec.RowKey, err)
		}
	}
	return &CandleRow{PartitionKey: rec.PartitionKey, RowKey: rec.RowKey, Ticks: ticks}, nil
}
