package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpipe/pkg/provider"
)

// CursorSource reads durable extraction cursors.
type CursorSource interface {
	GetCursor(ctx context.Context, asset, interval string) (time.Time, bool, error)
}

// Extractor computes incremental fetch windows from the durable cursor and
// pulls candles through the provider client. It never writes the cursor; the
// runner advances it after a committed load.
type Extractor struct {
	client      provider.Client
	cursors     CursorSource
	lookback    time.Duration
	maxWindow   time.Duration
	maxWindows  int
	callTimeout time.Duration
	now         func() time.Time
}

// NewExtractor wires an extractor. lookback bounds the first-run window,
// maxWindow caps a single fetch, maxWindows caps chunked catch-up within one
// run (the remaining gap is picked up by the next scheduled run), and
// callTimeout bounds each provider call.
func NewExtractor(client provider.Client, cursors CursorSource, lookback, maxWindow time.Duration, maxWindows int, callTimeout time.Duration) *Extractor {
	return &Extractor{
		client:      client,
		cursors:     cursors,
		lookback:    lookback,
		maxWindow:   maxWindow,
		maxWindows:  maxWindows,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Extraction is the outcome of one candle extraction.
type Extraction struct {
	Candles []provider.Candle
	// ProposedCursor is the open time of the last candle actually returned,
	// never the wall clock, so the trailing partially-closed candle is
	// re-fetched and corrected on the next run. Zero when nothing was seen.
	ProposedCursor time.Time
	// Windows is how many fetch windows were consumed.
	Windows int
	// CaughtUp reports whether extraction reached the current time before
	// exhausting the per-run window budget.
	CaughtUp bool
}

// ExtractCandles pulls candles for (asset, interval) from the cursor up to
// now, chunked into at most maxWindows windows of maxWindow each.
func (e *Extractor) ExtractCandles(ctx context.Context, asset string, interval provider.Interval) (Extraction, error) {
	var out Extraction

	start, found, err := e.cursors.GetCursor(ctx, asset, string(interval))
	if err != nil {
		return out, err
	}
	now := e.now().UTC()
	if !found {
		start = now.Add(-e.lookback)
	}

	for out.Windows < e.maxWindows {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := start.Add(e.maxWindow)
		if end.After(now) {
			end = now
		}
		if !end.After(start) {
			out.CaughtUp = true
			break
		}

		candles, err := e.fetchWindow(ctx, asset, interval, start, end)
		if err != nil {
			return out, fmt.Errorf("extract %s/%s [%s, %s): %w",
				asset, interval, start.Format(time.RFC3339), end.Format(time.RFC3339), err)
		}
		out.Windows++
		out.Candles = append(out.Candles, candles...)
		if len(candles) > 0 {
			out.ProposedCursor = candles[len(candles)-1].OpenTime
		}
		start = end
	}
	if !out.CaughtUp && !start.Before(now) {
		out.CaughtUp = true
	}

	if !out.CaughtUp {
		logx.WithContext(ctx).Infof("extractor: %s/%s window budget exhausted, %s behind; next run catches up",
			asset, interval, now.Sub(start))
	}
	return out, nil
}

func (e *Extractor) fetchWindow(ctx context.Context, asset string, interval provider.Interval, start, end time.Time) ([]provider.Candle, error) {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	return e.client.FetchCandles(ctx, asset, interval, start, end)
}
