package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"marketpipe/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewSqlConnFromDB(db)), mock
}

func sampleCandles(n int) []model.OhlcCandle {
	open := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]model.OhlcCandle, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, model.OhlcCandle{
			Asset:    "bitcoin",
			Interval: "1h",
			OpenTime: open.Add(time.Duration(i) * time.Hour),
			Open:     100, High: 105, Low: 99, Close: 101, Volume: 10,
		})
	}
	return rows
}

func TestEnsureSchema(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS assets`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS price_snapshots`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ohlc_candles`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS extraction_cursors`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, st.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAssets(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO assets`).
		WithArgs("bitcoin", "bitcoin", "usd").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.UpsertAssets(context.Background(), []model.Asset{
		{Symbol: "bitcoin", Name: "bitcoin", QuoteCurrency: "usd"},
		{Symbol: ""}, // skipped
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCandlesTransaction(t *testing.T) {
	st, mock := newMockStore(t)
	rows := sampleCandles(3)

	mock.ExpectBegin()
	for _, row := range rows {
		mock.ExpectExec(`INSERT INTO ohlc_candles`).
			WithArgs(row.Asset, row.Interval, row.OpenTime,
				row.Open, row.High, row.Low, row.Close, row.Volume).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	written, err := st.UpsertCandles(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCandlesRollsBackOnError(t *testing.T) {
	st, mock := newMockStore(t)
	rows := sampleCandles(2)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ohlc_candles`).
		WithArgs(rows[0].Asset, rows[0].Interval, rows[0].OpenTime,
			rows[0].Open, rows[0].High, rows[0].Low, rows[0].Close, rows[0].Volume).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	written, err := st.UpsertCandles(context.Background(), rows)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.Zero(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCandlesEmptyBatch(t *testing.T) {
	st, mock := newMockStore(t)
	written, err := st.UpsertCandles(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSnapshots(t *testing.T) {
	st, mock := newMockStore(t)
	captured := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO price_snapshots`).
		WithArgs("bitcoin", captured, 69420.5, "usd").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	written, err := st.UpsertSnapshots(context.Background(), []model.PriceSnapshot{
		{Asset: "bitcoin", CapturedAt: captured, Price: 69420.5, Currency: "usd"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCursor(t *testing.T) {
	st, mock := newMockStore(t)
	last := time.Date(2024, 4, 1, 11, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT last_loaded_time FROM extraction_cursors`).
		WithArgs("bitcoin", "1h").
		WillReturnRows(sqlmock.NewRows([]string{"last_loaded_time"}).AddRow(last))

	got, found, err := st.GetCursor(context.Background(), "bitcoin", "1h")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, last, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCursorAbsent(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT last_loaded_time FROM extraction_cursors`).
		WithArgs("bitcoin", "1h").
		WillReturnRows(sqlmock.NewRows([]string{"last_loaded_time"}))

	got, found, err := st.GetCursor(context.Background(), "bitcoin", "1h")
	require.NoError(t, err, "a missing cursor is not an error")
	assert.False(t, found)
	assert.True(t, got.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceCursor(t *testing.T) {
	st, mock := newMockStore(t)
	last := time.Date(2024, 4, 1, 11, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO extraction_cursors`).
		WithArgs("bitcoin", "1h", last).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.AdvanceCursor(context.Background(), "bitcoin", "1h", last))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceCursorError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO extraction_cursors`).
		WillReturnError(errors.New("deadlock detected"))

	err := st.AdvanceCursor(context.Background(), "bitcoin", "1h", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.NoError(t, mock.ExpectationsWereMet())
}
