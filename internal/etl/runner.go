package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"marketpipe/internal/model"
	"marketpipe/internal/store"
	"marketpipe/pkg/provider"
)

// Store is everything the runner needs from persistence.
type Store interface {
	CursorSource
	Sink
}

// Config holds the per-run pipeline settings.
type Config struct {
	Assets        []string
	Intervals     []provider.Interval
	QuoteCurrency string

	Lookback         time.Duration
	MaxWindow        time.Duration
	MaxWindowsPerRun int

	MaxAttempts    int
	Backoff        Backoff
	RequestTimeout time.Duration
}

// Runner composes extractor, transformer and loader per asset and reports a
// terminal RunResult. Each asset is processed independently, so one asset's
// failure never blocks the others; cancellation is checked between assets
// and between fetch windows, never inside a store transaction.
type Runner struct {
	client    provider.Client
	store     Store
	extractor *Extractor
	loader    *Loader
	cfg       Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner wires a runner.
func NewRunner(client provider.Client, st Store, cfg Config) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxWindowsPerRun <= 0 {
		cfg.MaxWindowsPerRun = 1
	}
	return &Runner{
		client:    client,
		store:     st,
		extractor: NewExtractor(client, st, cfg.Lookback, cfg.MaxWindow, cfg.MaxWindowsPerRun, cfg.RequestTimeout),
		loader:    NewLoader(st),
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Run executes one full pipeline pass over all configured assets.
func (r *Runner) Run(ctx context.Context) *RunResult {
	result := &RunResult{
		ID:        uuid.New(),
		StartedAt: r.now().UTC(),
	}

	for i, asset := range r.cfg.Assets {
		if err := ctx.Err(); err != nil {
			// Skipped assets count as failed so a cancelled run never
			// reports itself as complete to the orchestrator.
			for _, skipped := range r.cfg.Assets[i:] {
				result.recordError(AssetError{Asset: skipped, Stage: StageExtracting, Kind: kindFor(err), Err: err})
				result.assetFailed()
			}
			break
		}
		r.processAsset(ctx, asset, result)
	}
	result.finish(r.now().UTC())

	logx.WithContext(ctx).Infof("run %s finished: status=%s extracted=%d rejected=%d loaded=%d errors=%d",
		result.ID, result.Status, result.Extracted, result.Rejected, result.Loaded, len(result.Errors))
	return result
}

// processAsset walks one asset through the pipeline state machine:
// extracting -> transforming -> loading -> committed|failed.
func (r *Runner) processAsset(ctx context.Context, asset string, result *RunResult) {
	fail := func(interval provider.Interval, stage Stage, err error) {
		e := AssetError{Asset: asset, Interval: interval, Stage: stage, Kind: kindFor(err), Err: err}
		result.recordError(e)
		result.assetFailed()
		logx.WithContext(ctx).Errorf("run: asset failed: %v", e)
	}

	if err := r.registerAsset(ctx, asset); err != nil {
		fail("", StageLoading, err)
		return
	}

	if err := r.processSnapshot(ctx, asset, result); err != nil {
		fail("", stageFor(err), err)
		return
	}

	for _, interval := range r.cfg.Intervals {
		if err := ctx.Err(); err != nil {
			fail(interval, StageExtracting, err)
			return
		}
		if err := r.processCandles(ctx, asset, interval, result); err != nil {
			fail(interval, stageFor(err), err)
			return
		}
	}

	result.assetCommitted()
}

func (r *Runner) registerAsset(ctx context.Context, asset string) error {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	row := model.Asset{Symbol: asset, Name: asset, QuoteCurrency: r.cfg.QuoteCurrency}
	return r.store.UpsertAssets(opCtx, []model.Asset{row})
}

func (r *Runner) processSnapshot(ctx context.Context, asset string, result *RunResult) error {
	var quote provider.PriceQuote
	err := r.withRetry(ctx, "fetch_price", func(ctx context.Context) error {
		opCtx, cancel := r.opContext(ctx)
		defer cancel()
		var err error
		quote, err = r.client.FetchPrice(opCtx, asset)
		return err
	})
	if err != nil {
		return err
	}
	result.Extracted++

	row, err := NormalizeSnapshot(quote)
	if err != nil {
		// A rejected snapshot is recorded but does not fail the asset.
		result.Rejected++
		result.recordError(AssetError{Asset: asset, Stage: StageTransforming, Kind: provider.KindMalformed.String(), Err: err})
		return nil
	}

	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	written, err := r.loader.LoadSnapshots(opCtx, []model.PriceSnapshot{row})
	if err != nil {
		return err
	}
	result.Loaded += written
	return nil
}

func (r *Runner) processCandles(ctx context.Context, asset string, interval provider.Interval, result *RunResult) error {
	var extraction Extraction
	err := r.withRetry(ctx, "extract_candles", func(ctx context.Context) error {
		var err error
		extraction, err = r.extractor.ExtractCandles(ctx, asset, interval)
		return err
	})
	if err != nil {
		return err
	}
	result.Extracted += len(extraction.Candles)

	rows, rejects := NormalizeCandles(extraction.Candles)
	for _, reject := range rejects {
		result.Rejected++
		result.recordError(AssetError{
			Asset:    asset,
			Interval: interval,
			Stage:    StageTransforming,
			Kind:     provider.KindMalformed.String(),
			Err:      reject,
		})
	}

	loadCtx, cancel := r.opContext(ctx)
	defer cancel()
	written, err := r.loader.LoadCandles(loadCtx, rows)
	if err != nil {
		return err
	}
	result.Loaded += written

	// The cursor moves only after the batch committed; a crash before this
	// point just re-fetches an already-loaded window next run.
	if !extraction.ProposedCursor.IsZero() {
		curCtx, cancel := r.opContext(ctx)
		defer cancel()
		if err := r.store.AdvanceCursor(curCtx, asset, string(interval), extraction.ProposedCursor); err != nil {
			return err
		}
	}
	return nil
}

// withRetry runs fn up to MaxAttempts times, backing off between attempts.
// Only transient and rate-limited failures are retried; a rate-limit hint
// stretches the wait when it exceeds the backoff.
func (r *Runner) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := r.cfg.Backoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !retryable(err) || attempt >= r.cfg.MaxAttempts {
			return err
		}

		wait := backoff.Next(attempt)
		if hint := provider.RetryAfterOf(err); hint > wait {
			wait = hint
		}
		logx.WithContext(ctx).Infof("run: %s attempt %d/%d failed (%s), retrying in %s: %v",
			op, attempt, r.cfg.MaxAttempts, kindFor(err), wait, err)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *Runner) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.RequestTimeout)
}

// retryable treats an expired per-call deadline as transient; everything else
// follows the provider taxonomy.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return provider.Retryable(err)
}

func kindFor(err error) string {
	if kind := provider.KindOf(err); kind != 0 {
		return kind.String()
	}
	switch {
	case errors.Is(err, store.ErrStore):
		return "store_failure"
	case errors.Is(err, context.DeadlineExceeded):
		return provider.KindTransient.String()
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unclassified"
	}
}

// stageFor attributes a pipeline error to loading when it came out of the
// store, otherwise to extraction.
func stageFor(err error) Stage {
	if errors.Is(err, store.ErrStore) {
		return StageLoading
	}
	return StageExtracting
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
