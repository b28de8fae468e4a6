// Package store owns all SQL against the Postgres schema. Upserts target the
// natural keys so repeated loads of an overlapping window converge instead of
// duplicating rows; the schema constraints are the backstop if this layer is
// ever bypassed.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"marketpipe/internal/model"
)

// ErrStore marks transaction/connection failures. Callers treat these as
// non-retryable within the current run.
var ErrStore = errors.New("store failure")

// Store persists assets, snapshots, candles and extraction cursors.
type Store struct {
	conn sqlx.SqlConn
}

// New wraps an existing connection.
func New(conn sqlx.SqlConn) *Store {
	return &Store{conn: conn}
}

// NewFromDSN opens a pgx-backed connection for the given DSN.
func NewFromDSN(dsn string) *Store {
	return &Store{conn: sqlx.NewSqlConn("pgx", dsn)}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		symbol         VARCHAR(64) PRIMARY KEY,
		name           VARCHAR(255) NOT NULL DEFAULT '',
		quote_currency VARCHAR(16) NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS price_snapshots (
		asset       VARCHAR(64) NOT NULL REFERENCES assets (symbol),
		captured_at TIMESTAMPTZ NOT NULL,
		price       NUMERIC NOT NULL,
		currency    VARCHAR(16) NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (asset, captured_at)
	)`,
	`CREATE TABLE IF NOT EXISTS ohlc_candles (
		asset      VARCHAR(64) NOT NULL REFERENCES assets (symbol),
		interval   VARCHAR(8) NOT NULL,
		open_time  TIMESTAMPTZ NOT NULL,
		open       NUMERIC NOT NULL,
		high       NUMERIC NOT NULL,
		low        NUMERIC NOT NULL,
		close      NUMERIC NOT NULL,
		volume     NUMERIC NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (asset, interval, open_time)
	)`,
	`CREATE TABLE IF NOT EXISTS extraction_cursors (
		asset            VARCHAR(64) NOT NULL REFERENCES assets (symbol),
		interval         VARCHAR(8) NOT NULL,
		last_loaded_time TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (asset, interval)
	)`,
}

// EnsureSchema creates the tables and key constraints if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.conn.ExecCtx(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrStore, err)
		}
	}
	return nil
}

// UpsertAssets registers the configured assets. Existing rows keep their
// original metadata; the registry is append-only.
func (s *Store) UpsertAssets(ctx context.Context, assets []model.Asset) error {
	const stmt = `
INSERT INTO assets (symbol, name, quote_currency, created_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (symbol) DO NOTHING`
	for _, asset := range assets {
		if asset.Symbol == "" {
			continue
		}
		if _, err := s.conn.ExecCtx(ctx, stmt, asset.Symbol, asset.Name, asset.QuoteCurrency); err != nil {
			return fmt.Errorf("%w: upsert asset %s: %v", ErrStore, asset.Symbol, err)
		}
	}
	return nil
}

// UpsertSnapshots writes the batch inside one transaction and returns the
// number of rows written. Re-loading the same snapshots is a no-op apart from
// price convergence on the latest provider value.
func (s *Store) UpsertSnapshots(ctx context.Context, rows []model.PriceSnapshot) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const stmt = `
INSERT INTO price_snapshots (asset, captured_at, price, currency)
VALUES ($1, $2, $3, $4)
ON CONFLICT (asset, captured_at) DO UPDATE SET
    price = EXCLUDED.price,
    currency = EXCLUDED.currency`
	written := 0
	err := s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, row := range rows {
			if _, err := session.ExecCtx(ctx, stmt, row.Asset, row.CapturedAt, row.Price, row.Currency); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: upsert snapshots: %v", ErrStore, err)
	}
	return written, nil
}

// UpsertCandles writes the batch inside one transaction and returns the
// number of rows written. A conflicting natural key overwrites all non-key
// fields so revised candles converge to the latest provider values.
func (s *Store) UpsertCandles(ctx context.Context, rows []model.OhlcCandle) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const stmt = `
INSERT INTO ohlc_candles (asset, interval, open_time, open, high, low, close, volume, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
ON CONFLICT (asset, interval, open_time) DO UPDATE SET
    open = EXCLUDED.open,
    high = EXCLUDED.high,
    low = EXCLUDED.low,
    close = EXCLUDED.close,
    volume = EXCLUDED.volume,
    updated_at = NOW()`
	written := 0
	err := s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, row := range rows {
			if _, err := session.ExecCtx(ctx, stmt,
				row.Asset, row.Interval, row.OpenTime,
				row.Open, row.High, row.Low, row.Close, row.Volume,
			); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: upsert candles: %v", ErrStore, err)
	}
	return written, nil
}

// GetCursor reads the extraction cursor for (asset, interval). The second
// return is false when no cursor exists yet.
func (s *Store) GetCursor(ctx context.Context, asset, interval string) (time.Time, bool, error) {
	const query = `
SELECT last_loaded_time FROM extraction_cursors
WHERE asset = $1 AND interval = $2`
	var row struct {
		LastLoadedTime time.Time `db:"last_loaded_time"`
	}
	err := s.conn.QueryRowCtx(ctx, &row, query, asset, interval)
	switch {
	case err == nil:
		return row.LastLoadedTime.UTC(), true, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return time.Time{}, false, nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: get cursor %s/%s: %v", ErrStore, asset, interval, err)
	}
}

// AdvanceCursor moves the cursor forward, never backward. Called only after
// the corresponding load committed, so a crash in between merely re-fetches
// an already-loaded window.
func (s *Store) AdvanceCursor(ctx context.Context, asset, interval string, last time.Time) error {
	const stmt = `
INSERT INTO extraction_cursors (asset, interval, last_loaded_time, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (asset, interval) DO UPDATE SET
    last_loaded_time = GREATEST(extraction_cursors.last_loaded_time, EXCLUDED.last_loaded_time),
    updated_at = NOW()`
	if _, err := s.conn.ExecCtx(ctx, stmt, asset, interval, last); err != nil {
		return fmt.Errorf("%w: advance cursor %s/%s: %v", ErrStore, asset, interval, err)
	}
	return nil
}
