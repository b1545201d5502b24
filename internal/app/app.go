// Package app holds the configuration and wiring the binaries share: the record
// store, the fetch and summarization services, and the Temporal client.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/jdholdren/digest/internal/digest"
	"github.com/jdholdren/digest/internal/fetcher"
	"github.com/jdholdren/digest/internal/logger"
	"github.com/jdholdren/digest/internal/migrations"
	"github.com/jdholdren/digest/internal/sqlite"
	"github.com/jdholdren/digest/internal/summarizer"
)

// Config is the environment every binary reads.
type Config struct {
	Database string `env:"DATABASE, default=digest.db"`

	TemporalHostPort  string `env:"TEMPORAL_HOST_PORT, default=localhost:7233"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE, default=default"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	LogLevel     string `env:"LOG_LEVEL, default=info"`

	// Without a key the canned upstream is used
	FetchSourceConfig string `env:"FETCH_SOURCE_CONFIG"`
	FetchAPIKey       string `env:"FETCH_API_KEY"`
	RawDataDir        string `env:"RAW_DATA_DIR"`

	// Without a key summaries come from the template generator
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL"`
}

// Load reads an optional .env file, then the environment, into cfg.
func Load(ctx context.Context, cfg any) error {
	path := ".env"
	if p := os.Getenv("ENV_PATH"); p != "" {
		path = p
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading %s: %s", path, err)
	}

	if err := envconfig.Process(ctx, cfg); err != nil {
		return fmt.Errorf("error parsing config: %s", err)
	}

	return nil
}

// SetupLogger installs the default logger.
func (c Config) SetupLogger() {
	slog.SetDefault(logger.New(os.Stderr, c.LoggerFormat, c.LogLevel))
}

// OpenRepo opens and migrates the database.
func (c Config) OpenRepo() (*sqlx.DB, sqlite.Repo, error) {
	dbx, err := sqlite.Open(c.Database)
	if err != nil {
		return nil, sqlite.Repo{}, err
	}

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, sqlite.Repo{}, fmt.Errorf("error running migrations: %s", err)
	}

	return dbx, sqlite.New(dbx), nil
}

// DialTemporal retries until temporal is ready or ctx is done.
func (c Config) DialTemporal(ctx context.Context) (client.Client, error) {
	var temporalCli client.Client
	err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
		cli, err := client.Dial(client.Options{
			HostPort:  c.TemporalHostPort,
			Namespace: c.TemporalNamespace,
			Logger:    tlog.NewStructuredLogger(slog.Default()),
		})
		if err != nil {
			slog.WarnContext(ctx, "temporal not ready", "err", err)
			return retry.RetryableError(err)
		}
		temporalCli = cli

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create temporal client: %w", err)
	}

	return temporalCli, nil
}

// Fetcher builds the fetch service, against the configured source when there's an API key for it.
func (c Config) Fetcher(repo fetcher.Repo) (*fetcher.Service, error) {
	src, err := fetcher.LoadSourceConfig(c.FetchSourceConfig)
	if err != nil {
		return nil, err
	}

	var cli fetcher.Client = fetcher.Canned{}
	if c.FetchAPIKey != "" {
		httpCli, err := fetcher.NewHTTPClient(fetcher.HTTPConfig{
			BaseURL: src.BaseURL,
			APIKey:  c.FetchAPIKey,
			Hydrate: src.Hydrate,
		})
		if err != nil {
			return nil, err
		}
		cli = httpCli
		slog.Debug("fetching from upstream source", "name", src.Name, "url", src.BaseURL)
	}

	return fetcher.NewService(repo, cli, fetcher.Config{
		Defaults:   src.QueryParams,
		RawDataDir: c.RawDataDir,
	}), nil
}

// Summarizer builds the summarization service, backed by Claude when there's an API key.
func (c Config) Summarizer(repo summarizer.Repo, enqueuer digest.Enqueuer) (*summarizer.Service, error) {
	var gen summarizer.Generator = summarizer.Template{}
	if c.AnthropicAPIKey != "" {
		claude, err := summarizer.NewClaude(summarizer.ClaudeConfig{
			APIKey: c.AnthropicAPIKey,
			Model:  anthropic.Model(c.AnthropicModel),
		})
		if err != nil {
			return nil, err
		}
		gen = claude
	}

	return summarizer.NewService(repo, gen, enqueuer), nil
}
