// Api serves the digest's HTTP endpoints.
//
// Summaries requested through it are handed to the worker over Temporal.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/run"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/digest/internal/api"
	"github.com/jdholdren/digest/internal/app"
	"github.com/jdholdren/digest/internal/worker"
)

type config struct {
	app.Config

	Port           int           `env:"PORT, default=4444"`
	TokenHashKey   string        `env:"TOKEN_HASH_KEY, required"`
	TokenBlockKey  string        `env:"TOKEN_BLOCK_KEY"`
	TokenMaxAge    time.Duration `env:"TOKEN_MAX_AGE, default=720h"`
	AllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS, default=http://localhost:5173"`
}

func main() {
	ctx := context.Background()

	// Parse the config
	var cfg config
	if err := app.Load(ctx, &cfg); err != nil {
		log.Fatal(err)
	}
	cfg.SetupLogger()

	if err := runAPI(ctx, cfg); err != nil {
		slog.Error("error running", "err", err)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, cfg config) error {
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

	fetch, err := cfg.Fetcher(repo)
	if err != nil {
		return err
	}
	sum, err := cfg.Summarizer(repo, worker.NewDispatcher(temporalCli))
	if err != nil {
		return err
	}

	srvr := api.NewServer(api.ServerConfig{
		Port:           cfg.Port,
		TokenHashKey:   []byte(cfg.TokenHashKey),
		TokenBlockKey:  []byte(cfg.TokenBlockKey),
		TokenMaxAge:    cfg.TokenMaxAge,
		AllowedOrigins: strings.Split(cfg.AllowedOrigins, ","),
	}, repo, fetch, sum)

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		slog.Info("listening", "addr", srvr.Addr)
		if err := srvr.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvr.Shutdown(ctx); err != nil {
			slog.Error("error shutting down server", "err", err)
		}
	})

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		slog.Info("shutting down", "signal", sigErr.Signal)
		return nil
	}

	return err
}
