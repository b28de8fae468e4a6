package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpipe/internal/config"
	"marketpipe/internal/etl"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	providerLine := "Provider config: not configured"
	if strings.TrimSpace(cfg.Provider.File) != "" {
		providerLine = fmt.Sprintf("Provider config: %s", cfg.Provider.File)
	}
	defaultProvider := "none"
	if cfg.Provider.Value != nil {
		defaultProvider = cfg.Provider.Value.Default
	}

	return []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		providerLine,
		fmt.Sprintf("Default provider: %s", defaultProvider),
		fmt.Sprintf("Assets: %v", cfg.Pipeline.Assets),
		fmt.Sprintf("Intervals: %v", cfg.Pipeline.Intervals),
		fmt.Sprintf("Lookback: %dh, window: %dh x %d per run",
			cfg.Pipeline.LookbackHours, cfg.Pipeline.MaxWindowHours, cfg.Pipeline.MaxWindowsPerRun),
		fmt.Sprintf("Retry: %d attempts, backoff %dms..%dms",
			cfg.Retry.MaxAttempts, cfg.Retry.BaseBackoffMs, cfg.Retry.MaxBackoffMs),
	}
}

// LogRunResult emits the run outcome using logx.
func LogRunResult(result *etl.RunResult) {
	logx.Infof("run %s: status=%s extracted=%d rejected=%d loaded=%d elapsed=%s",
		result.ID, result.Status, result.Extracted, result.Rejected, result.Loaded,
		result.FinishedAt.Sub(result.StartedAt))
	for _, e := range result.Errors {
		logx.Errorf("run %s: %v", result.ID, e)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
