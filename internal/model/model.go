// Package model defines the canonical row shapes persisted by the store.
package model

import "time"

// Asset is a tracked instrument. Immutable once registered.
type Asset struct {
	Symbol        string `db:"symbol"`
	Name          string `db:"name"`
	QuoteCurrency string `db:"quote_currency"`
}

// PriceSnapshot is one spot price observation. (Asset, CapturedAt) is the
// natural key; CapturedAt is provider-reported.
type PriceSnapshot struct {
	Asset      string    `db:"asset"`
	CapturedAt time.Time `db:"captured_at"`
	Price      float64   `db:"price"`
	Currency   string    `db:"currency"`
}

// OhlcCandle is one validated candle. (Asset, Interval, OpenTime) is the
// natural key; re-loads overwrite the remaining fields.
type OhlcCandle struct {
	Asset    string    `db:"asset"`
	Interval string    `db:"interval"`
	OpenTime time.Time `db:"open_time"`
	Open     float64   `db:"open"`
	High     float64   `db:"high"`
	Low      float64   `db:"low"`
	Close    float64   `db:"close"`
	Volume   float64   `db:"volume"`
}

// ExtractionCursor is the durable bookmark per asset and interval. It is
// advanced only after the rows up to LastLoadedTime are committed.
type ExtractionCursor struct {
	Asset          string    `db:"asset"`
	Interval       string    `db:"interval"`
	LastLoadedTime time.Time `db:"last_loaded_time"`
}
