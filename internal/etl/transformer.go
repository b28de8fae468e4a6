package etl

import (
	"fmt"
	"math"

	"marketpipe/internal/model"
	"marketpipe/pkg/provider"
)

// A rejected row never reaches the loader; the runner records the reason and
// the rest of the batch continues.

// NormalizeSnapshot validates a price quote and produces the canonical row.
func NormalizeSnapshot(q provider.PriceQuote) (model.PriceSnapshot, error) {
	if q.Asset == "" {
		return model.PriceSnapshot{}, fmt.Errorf("snapshot: missing asset")
	}
	if q.CapturedAt.IsZero() {
		return model.PriceSnapshot{}, fmt.Errorf("snapshot %s: missing captured_at", q.Asset)
	}
	if q.Currency == "" {
		return model.PriceSnapshot{}, fmt.Errorf("snapshot %s: missing currency", q.Asset)
	}
	if !isFinite(q.Price) || q.Price < 0 {
		return model.PriceSnapshot{}, fmt.Errorf("snapshot %s: invalid price %v", q.Asset, q.Price)
	}
	return model.PriceSnapshot{
		Asset:      q.Asset,
		CapturedAt: q.CapturedAt.UTC(),
		Price:      q.Price,
		Currency:   q.Currency,
	}, nil
}

// NormalizeCandle validates one candle and produces the canonical row.
func NormalizeCandle(c provider.Candle) (model.OhlcCandle, error) {
	if c.Asset == "" {
		return model.OhlcCandle{}, fmt.Errorf("candle: missing asset")
	}
	if c.Interval == "" {
		return model.OhlcCandle{}, fmt.Errorf("candle %s: missing interval", c.Asset)
	}
	if c.OpenTime.IsZero() {
		return model.OhlcCandle{}, fmt.Errorf("candle %s/%s: missing open_time", c.Asset, c.Interval)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close},
	} {
		if !isFinite(f.value) {
			return model.OhlcCandle{}, fmt.Errorf("candle %s/%s at %s: non-finite %s",
				c.Asset, c.Interval, c.OpenTime.Format("2006-01-02T15:04:05Z"), f.name)
		}
	}
	if !isFinite(c.Volume) || c.Volume < 0 {
		return model.OhlcCandle{}, fmt.Errorf("candle %s/%s at %s: invalid volume %v",
			c.Asset, c.Interval, c.OpenTime.Format("2006-01-02T15:04:05Z"), c.Volume)
	}
	if c.High < c.Low || c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
		return model.OhlcCandle{}, fmt.Errorf("candle %s/%s at %s: inconsistent ohlc o=%v h=%v l=%v c=%v",
			c.Asset, c.Interval, c.OpenTime.Format("2006-01-02T15:04:05Z"), c.Open, c.High, c.Low, c.Close)
	}
	return model.OhlcCandle{
		Asset:    c.Asset,
		Interval: string(c.Interval),
		OpenTime: c.OpenTime.UTC(),
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Volume:   c.Volume,
	}, nil
}

// NormalizeCandles validates a batch with per-row tolerance: invalid rows are
// returned as errors alongside the valid remainder.
func NormalizeCandles(candles []provider.Candle) ([]model.OhlcCandle, []error) {
	rows := make([]model.OhlcCandle, 0, len(candles))
	var rejects []error
	for _, c := range candles {
		row, err := NormalizeCandle(c)
		if err != nil {
			rejects = append(rejects, err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, rejects
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
