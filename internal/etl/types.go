// Package etl implements the extraction, transformation and loading engine.
// One Run walks every configured asset independently, so a failing asset
// never blocks the others, and reports a single terminal RunResult to the
// caller.
package etl

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketpipe/pkg/provider"
)

// RunStatus is the terminal outcome of one run.
type RunStatus string

const (
	StatusSuccess        RunStatus = "success"
	StatusPartialFailure RunStatus = "partial_failure"
	StatusFailure        RunStatus = "failure"
)

// Stage names the pipeline step an error is attributed to.
type Stage string

const (
	StageExtracting   Stage = "extracting"
	StageTransforming Stage = "transforming"
	StageLoading      Stage = "loading"
)

// AssetError attributes one failure to an asset and a pipeline stage.
type AssetError struct {
	Asset    string
	Interval provider.Interval
	Stage    Stage
	Kind     string
	Err      error
}

func (e AssetError) Error() string {
	if e.Interval != "" {
		return fmt.Sprintf("%s/%s %s (%s): %v", e.Asset, e.Interval, e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Asset, e.Stage, e.Kind, e.Err)
}

// RunResult is the outcome of one runner invocation. It is never persisted.
type RunResult struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus

	Extracted int
	Rejected  int
	Loaded    int

	// Errors holds every recorded failure, including row-level validation
	// rejects for assets that still committed.
	Errors []AssetError

	committed int
	failed    int
}

func (r *RunResult) recordError(e AssetError) {
	r.Errors = append(r.Errors, e)
}

func (r *RunResult) assetCommitted() { r.committed++ }
func (r *RunResult) assetFailed()    { r.failed++ }

// finish derives the terminal status: success only when every asset
// committed, failure when none did.
func (r *RunResult) finish(now time.Time) {
	r.FinishedAt = now
	switch {
	case r.failed == 0:
		r.Status = StatusSuccess
	case r.committed == 0:
		r.Status = StatusFailure
	default:
		r.Status = StatusPartialFailure
	}
}

// ExitCode maps the run status to a process exit code for the orchestrator:
// 0 success, 2 partial_failure, 1 failure.
func (r *RunResult) ExitCode() int {
	switch r.Status {
	case StatusSuccess:
		return 0
	case StatusPartialFailure:
		return 2
	default:
		return 1
	}
}
