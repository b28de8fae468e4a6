package etl

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpipe/internal/model"
)

// Sink is the durable side of the pipeline. Batch upserts run inside one
// transaction per call; a failed call leaves the store unchanged.
type Sink interface {
	UpsertAssets(ctx context.Context, assets []model.Asset) error
	UpsertSnapshots(ctx context.Context, rows []model.PriceSnapshot) (int, error)
	UpsertCandles(ctx context.Context, rows []model.OhlcCandle) (int, error)
	AdvanceCursor(ctx context.Context, asset, interval string, last time.Time) error
}

// Loader performs idempotent loads of normalized rows. Only validated rows
// ever reach it, so downstream readers never see pre-validation data.
type Loader struct {
	sink Sink
}

// NewLoader wraps a sink.
func NewLoader(sink Sink) *Loader {
	return &Loader{sink: sink}
}

// LoadCandles upserts one asset/interval batch and returns the rows written.
func (l *Loader) LoadCandles(ctx context.Context, rows []model.OhlcCandle) (int, error) {
	written, err := l.sink.UpsertCandles(ctx, rows)
	if err != nil {
		return 0, err
	}
	if written > 0 {
		logx.WithContext(ctx).Infof("loader: %d candle rows written for %s/%s",
			written, rows[0].Asset, rows[0].Interval)
	}
	return written, nil
}

// LoadSnapshots upserts price snapshot rows and returns the rows written.
func (l *Loader) LoadSnapshots(ctx context.Context, rows []model.PriceSnapshot) (int, error) {
	return l.sink.UpsertSnapshots(ctx, rows)
}
