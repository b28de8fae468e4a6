package etl

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpipe/pkg/provider"
)

func validQuote() provider.PriceQuote {
	return provider.PriceQuote{
		Asset:      "bitcoin",
		Price:      69420.5,
		Currency:   "usd",
		CapturedAt: time.Date(2024, 4, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
	}
}

func validCandle() provider.Candle {
	return provider.Candle{
		Asset:    "bitcoin",
		Interval: provider.IntervalHour,
		OpenTime: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
		Open:     100, High: 105, Low: 98, Close: 102, Volume: 12.5,
	}
}

func TestNormalizeSnapshot(t *testing.T) {
	row, err := NormalizeSnapshot(validQuote())
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", row.Asset)
	assert.Equal(t, time.UTC, row.CapturedAt.Location(), "timestamps are stored in UTC")
	assert.Equal(t, time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC), row.CapturedAt)
}

func TestNormalizeSnapshotRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*provider.PriceQuote)
	}{
		{"missing asset", func(q *provider.PriceQuote) { q.Asset = "" }},
		{"missing captured_at", func(q *provider.PriceQuote) { q.CapturedAt = time.Time{} }},
		{"missing currency", func(q *provider.PriceQuote) { q.Currency = "" }},
		{"negative price", func(q *provider.PriceQuote) { q.Price = -1 }},
		{"nan price", func(q *provider.PriceQuote) { q.Price = math.NaN() }},
		{"inf price", func(q *provider.PriceQuote) { q.Price = math.Inf(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuote()
			tt.mutate(&q)
			_, err := NormalizeSnapshot(q)
			assert.Error(t, err)
		})
	}
}

func TestNormalizeCandle(t *testing.T) {
	row, err := NormalizeCandle(validCandle())
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", row.Asset)
	assert.Equal(t, "1h", row.Interval)
	assert.Equal(t, time.UTC, row.OpenTime.Location())
}

func TestNormalizeCandleRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*provider.Candle)
	}{
		{"missing asset", func(c *provider.Candle) { c.Asset = "" }},
		{"missing interval", func(c *provider.Candle) { c.Interval = "" }},
		{"missing open_time", func(c *provider.Candle) { c.OpenTime = time.Time{} }},
		{"nan open", func(c *provider.Candle) { c.Open = math.NaN() }},
		{"inf close", func(c *provider.Candle) { c.Close = math.Inf(-1) }},
		{"negative volume", func(c *provider.Candle) { c.Volume = -0.5 }},
		{"high below low", func(c *provider.Candle) { c.High = 90 }},
		{"low above open", func(c *provider.Candle) { c.Low = 101 }},
		{"high below close", func(c *provider.Candle) { c.High = 101; c.Close = 104 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandle()
			tt.mutate(&c)
			_, err := NormalizeCandle(c)
			assert.Error(t, err)
		})
	}
}

// A single bad row must not take the batch down with it.
func TestNormalizeCandlesPartialBatch(t *testing.T) {
	batch := make([]provider.Candle, 0, 10)
	for i := 0; i < 10; i++ {
		c := validCandle()
		c.OpenTime = c.OpenTime.Add(time.Duration(i) * time.Hour)
		batch = append(batch, c)
	}
	batch[4].High = math.NaN()

	rows, rejects := NormalizeCandles(batch)
	assert.Len(t, rows, 9)
	require.Len(t, rejects, 1)
	assert.Contains(t, rejects[0].Error(), "non-finite high")
}

func TestNormalizeCandlesEmpty(t *testing.T) {
	rows, rejects := NormalizeCandles(nil)
	assert.Empty(t, rows)
	assert.Empty(t, rejects)
}
