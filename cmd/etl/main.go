package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketpipe/internal/cli"
	"marketpipe/internal/config"
	"marketpipe/internal/etl"
	"marketpipe/internal/svc"
)

const schemaTimeout = 30 * time.Second

var (
	configFile = flag.String("f", "etc/marketpipe.yaml", "config file path")
	every      = flag.Duration("every", 0, "run on a ticker instead of once, e.g. 15m")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting marketpipe ETL...")

	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[main] Failed to load config: %v", err)
	}
	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(appCfg) {
		log.Printf("  - %s", line)
	}

	svcCtx := svc.NewServiceContext(appCfg)
	if svcCtx.Store == nil {
		log.Fatalf("[main] Postgres DSN is required")
	}
	if svcCtx.Client == nil {
		log.Fatalf("[main] A provider config with a default provider is required")
	}

	schemaCtx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	err = svcCtx.Store.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		log.Fatalf("[main] Failed to ensure schema: %v", err)
	}

	runner := etl.NewRunner(svcCtx.Client, svcCtx.Store, appCfg.RunnerConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *every <= 0 {
		os.Exit(runOnce(ctx, runner))
	}
	runLoop(ctx, runner, *every)
}

// runOnce executes a single run and maps its status to the process exit
// code the orchestrator alerts on: 0 success, 2 partial_failure, 1 failure.
func runOnce(ctx context.Context, runner *etl.Runner) int {
	result := runner.Run(ctx)
	cli.LogRunResult(result)
	return result.ExitCode()
}

// runLoop triggers an independent run per tick until a shutdown signal
// arrives; a run in flight finishes its current asset batch before stopping.
func runLoop(ctx context.Context, runner *etl.Runner, interval time.Duration) {
	log.Printf("[main] Running every %s. Press Ctrl+C to stop.", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, runner)
	for {
		select {
		case <-ctx.Done():
			log.Println("[main] Shutdown signal received, stopping")
			return
		case <-ticker.C:
			runOnce(ctx, runner)
		}
	}
}
