package provider

import (
	"context"
	"time"
)

// Interval identifies a candle aggregation window.
type Interval string

const (
	IntervalHour     Interval = "1h"
	IntervalFourHour Interval = "4h"
	IntervalDay      Interval = "1d"
)

var intervalDurations = map[Interval]time.Duration{
	IntervalHour:     time.Hour,
	IntervalFourHour: 4 * time.Hour,
	IntervalDay:      24 * time.Hour,
}

// Duration returns the wall span of one candle at this interval.
func (i Interval) Duration() (time.Duration, bool) {
	d, ok := intervalDurations[i]
	return d, ok
}

// ParseInterval validates a configured interval string.
func ParseInterval(s string) (Interval, bool) {
	i := Interval(s)
	_, ok := intervalDurations[i]
	return i, ok
}

// PriceQuote is a single spot price observation. CapturedAt is the
// provider-reported time of the quote, not the local wall clock.
type PriceQuote struct {
	Asset      string
	Price      float64
	Currency   string
	CapturedAt time.Time
}

// Candle is one OHLCV aggregate as returned by a provider.
type Candle struct {
	Asset    string
	Interval Interval
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Client fetches market data from a single provider. Implementations keep no
// state across calls beyond rate-limit bookkeeping.
type Client interface {
	// FetchPrice returns the latest spot price for the asset.
	FetchPrice(ctx context.Context, asset string) (PriceQuote, error)
	// FetchCandles returns candles with open times in [from, to), ascending.
	// A fresh call re-requests the full range.
	FetchCandles(ctx context.Context, asset string, interval Interval, from, to time.Time) ([]Candle, error)
}
