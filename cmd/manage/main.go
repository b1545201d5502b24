// Manage is the operator's command line: creating users, running fetches, and
// checking on the background jobs.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/digest/internal/api"
	"github.com/jdholdren/digest/internal/app"
	"github.com/jdholdren/digest/internal/digest"
	"github.com/jdholdren/digest/internal/fetcher"
	"github.com/jdholdren/digest/internal/worker"
)

func main() {
	cliApp := &cli.App{
		Name:  "manage",
		Usage: "administer the digest",
		Commands: []*cli.Command{
			{
				Name:  "createuser",
				Usage: "create a user that can get an API token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.BoolFlag{Name: "admin", Usage: "allow the user to fetch and summarize"},
				},
				Action: createUser,
			},
			{
				Name:  "fetch",
				Usage: "fetch from the upstream source and save new articles",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "async", Usage: "start the fetch job on the worker instead of running inline"},
					&cli.StringFlag{Name: "source", Value: fetcher.DefaultSource},
				},
				Action: fetch,
			},
			{
				Name:   "check",
				Usage:  "report the worker pollers and the schedules",
				Action: check,
			},
			{
				Name:  "reap",
				Usage: "fail summaries and fetch logs that stopped making progress",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Value: worker.DefaultStaleAfter},
				},
				Action: reap,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// Loads the config and installs the logger for every command.
func setup(ctx context.Context) (app.Config, error) {
	var cfg app.Config
	if err := app.Load(ctx, &cfg); err != nil {
		return app.Config{}, err
	}
	cfg.SetupLogger()

	return cfg, nil
}

func createUser(c *cli.Context) error {
	cfg, err := setup(c.Context)
	if err != nil {
		return err
	}
	dbx, repo, err := cfg.OpenRepo()
	if err != nil {
		return err
	}
	defer dbx.Close()

	hash, err := api.HashPassword(c.String("password"))
	if err != nil {
		return err
	}
	usr, err := repo.InsertUser(c.Context, digest.User{
		Email:        c.String("email"),
		PasswordHash: hash,
		IsAdmin:      c.Bool("admin"),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "created user %s (%s), admin: %t\n", usr.Email, usr.ID, usr.IsAdmin)
	return nil
}

func fetch(c *cli.Context) error {
	cfg, err := setup(c.Context)
	if err != nil {
		return err
	}

	params := map[string]any{
		"source":   c.String("source"),
		"category": "example",
		"limit":    10,
	}

	if c.Bool("async") {
		temporalCli, err := cfg.DialTemporal(c.Context)
		if err != nil {
			return err
		}
		defer temporalCli.Close()

		id, err := worker.NewDispatcher(temporalCli).TriggerFetch(c.Context, worker.FetchArgs{
			QueryParams: params,
			Source:      c.String("source"),
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(c.App.Writer, "started fetch job %s\n", id)
		return nil
	}

	dbx, repo, err := cfg.OpenRepo()
	if err != nil {
		return err
	}
	defer dbx.Close()

	svc, err := cfg.Fetcher(repo)
	if err != nil {
		return err
	}
	res, err := svc.FetchAndSave(c.Context, params, c.String("source"))
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "fetch %s: %d processed, %d saved, %d duplicates skipped\n",
		res.FetchLogID, res.ItemsProcessed, res.ItemsSaved, res.DuplicatesSkipped)
	return nil
}

func check(c *cli.Context) error {
	cfg, err := setup(c.Context)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	temporalCli, err := cfg.DialTemporal(ctx)
	if err != nil {
		return err
	}
	defer temporalCli.Close()

	st, err := worker.Check(ctx, temporalCli)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "task queue %s: %d pollers\n", worker.TaskQueue, st.Pollers)
	for id, desc := range st.Schedules {
		if desc == nil {
			fmt.Fprintf(c.App.Writer, "schedule %s: missing\n", id)
			continue
		}

		var (
			next   string
			paused = desc.Schedule.State != nil && desc.Schedule.State.Paused
		)
		if len(desc.Info.NextActionTimes) > 0 {
			next = desc.Info.NextActionTimes[0].Format(time.RFC3339)
		}
		fmt.Fprintf(c.App.Writer, "schedule %s: paused=%t runs=%d next=%s\n",
			id, paused, desc.Info.NumActions, next)
	}

	return nil
}

func reap(c *cli.Context) error {
	cfg, err := setup(c.Context)
	if err != nil {
		return err
	}
	dbx, repo, err := cfg.OpenRepo()
	if err != nil {
		return err
	}
	defer dbx.Close()

	fetchSvc, err := cfg.Fetcher(repo)
	if err != nil {
		return err
	}
	sum, err := cfg.Summarizer(repo, nil)
	if err != nil {
		return err
	}

	olderThan := c.Duration("older-than")
	sums, err := sum.ReapStale(c.Context, olderThan)
	if err != nil {
		return err
	}
	logs, err := fetchSvc.ReapStale(c.Context, olderThan)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "reaped %d summaries and %d fetch logs\n", sums, logs)
	return nil
}
