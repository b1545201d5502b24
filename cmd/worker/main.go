// Worker runs the background jobs: summaries, fetches and the periodic schedules.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"go.temporal.io/sdk/worker"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/digest/internal/app"
	digworker "github.com/jdholdren/digest/internal/worker"
)

type config struct {
	app.Config

	StaleAfter         time.Duration `env:"STALE_AFTER, default=30m"`
	ScheduleStateFile  string        `env:"SCHEDULE_STATE_FILE, default=fetchschedule-state.json"`
	NamespaceRetention time.Duration `env:"NAMESPACE_RETENTION, default=72h"`
}

func main() {
	ctx := context.Background()

	// Parse the config
	var cfg config
	if err := app.Load(ctx, &cfg); err != nil {
		log.Fatal(err)
	}
	cfg.SetupLogger()

	if err := runWorker(ctx, cfg); err != nil {
		slog.Error("error running", "err", err)
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, cfg config) error {
	dbx, repo, err := cfg.OpenRepo()
	if err != nil {
		return err
	}
	defer dbx.Close()

	temporalCli, err := cfg.DialTemporal(ctx)
	if err != nil {
		return err
	}
	defer temporalCli.Close()

	if err := digworker.EnsureNamespace(ctx, temporalCli.WorkflowService(), cfg.TemporalNamespace, cfg.NamespaceRetention); err != nil {
		return err
	}

	fetch, err := cfg.Fetcher(repo)
	if err != nil {
		return err
	}
	sum, err := cfg.Summarizer(repo, digworker.NewDispatcher(temporalCli))
	if err != nil {
		return err
	}

	w, err := digworker.NewWorker(ctx, temporalCli, fetch, sum, digworker.Config{
		StaleAfter: cfg.StaleAfter,
		StatePath:  cfg.ScheduleStateFile,
	})
	if err != nil {
		return err
	}

	slog.Info("worker starting", "task_queue", digworker.TaskQueue, "namespace", cfg.TemporalNamespace)
	return w.Run(worker.InterruptCh())
}
