// Package worker runs the background jobs on Temporal: summaries, fetches and the
// periodic schedules, plus the [Dispatcher] that starts them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/jdholdren/digest/internal/fetcher"
	"github.com/jdholdren/digest/internal/summarizer"
)

const TaskQueue = "digest"

// Schedules
const (
	PeriodicFetchScheduleID = "periodic_fetch"
	ReapStaleScheduleID     = "reap_stale"

	FetchInterval = time.Hour
	// A periodic fetch that couldn't start within this window is dropped rather than run late.
	FetchCatchupWindow = 50 * time.Minute
	ReapInterval       = 10 * time.Minute

	DefaultStaleAfter = 30 * time.Minute
)

type Config struct {
	// StaleAfter is how long a record may sit pending or in progress before it is reaped.
	StaleAfter time.Duration
	// StatePath locates the periodic fetch's state file.
	StatePath string
}

// NewWorker sets up the worker with registration of workflows, activities, and schedules.
func NewWorker(ctx context.Context, cli client.Client, fetch *fetcher.Service, sum *summarizer.Service, cfg Config) (worker.Worker, error) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	a := activities{
		fetcher:    fetch,
		summarizer: sum,
		state:      NewScheduleState(cfg.StatePath),
		staleAfter: cfg.StaleAfter,
	}

	w := worker.New(cli, TaskQueue, worker.Options{})

	if err := registerEverything(ctx, w, a, cli); err != nil {
		return nil, fmt.Errorf("error registering workflows and activities: %T, %v", err, err)
	}

	return w, nil
}

func registerEverything(ctx context.Context, w worker.Worker, a activities, cli client.Client) error {
	// Workflows
	wfs := workflows{}
	w.RegisterWorkflow(wfs.ProcessItem)
	w.RegisterWorkflow(wfs.FetchAndSave)
	w.RegisterWorkflow(wfs.ScheduledFetch)
	w.RegisterWorkflow(wfs.ReapStale)

	// Activities
	w.RegisterActivity(&a)

	// Schedules:
	// Periodic fetch, kicked off right away when it's been too long
	err := ensureSchedule(ctx, cli, client.ScheduleOptions{
		ID: PeriodicFetchScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: FetchInterval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        PeriodicFetchScheduleID,
			Workflow:  wfs.ScheduledFetch,
			TaskQueue: TaskQueue,
		},
		Overlap:            enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		CatchupWindow:      FetchCatchupWindow,
		TriggerImmediately: a.state.Due(time.Now(), FetchInterval),
	})
	if err != nil {
		return err
	}

	// Stale record reaper
	return ensureSchedule(ctx, cli, client.ScheduleOptions{
		ID: ReapStaleScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: ReapInterval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        ReapStaleScheduleID,
			Workflow:  wfs.ReapStale,
			TaskQueue: TaskQueue,
		},
		Overlap:       enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		CatchupWindow: ReapInterval,
	})
}

// ensureSchedule creates the schedule, or brings an existing one in line with opts.
func ensureSchedule(ctx context.Context, cli client.Client, opts client.ScheduleOptions) error {
	handle := cli.ScheduleClient().GetHandle(ctx, opts.ID)
	_, err := handle.Describe(ctx)
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		if _, err := cli.ScheduleClient().Create(ctx, opts); err != nil {
			return fmt.Errorf("error creating schedule %s: %w", opts.ID, err)
		}
		slog.InfoContext(ctx, "created schedule", "schedule_id", opts.ID, "triggered", opts.TriggerImmediately)
		return nil
	}
	if err != nil {
		return fmt.Errorf("error describing schedule %s: %w", opts.ID, err)
	}

	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			sched := input.Description.Schedule
			sched.Spec = &opts.Spec
			sched.Action = opts.Action
			sched.Policy = &client.SchedulePolicies{
				Overlap:       opts.Overlap,
				CatchupWindow: opts.CatchupWindow,
			}
			return &client.ScheduleUpdate{Schedule: &sched}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("error updating schedule %s: %w", opts.ID, err)
	}

	return nil
}

// Status describes the parts of the job system an operator checks on.
type Status struct {
	Pollers   int
	Schedules map[string]*client.ScheduleDescription
}

// Check reports the task queue's pollers and the state of each schedule.
func Check(ctx context.Context, cli client.Client) (Status, error) {
	resp, err := cli.DescribeTaskQueue(ctx, TaskQueue, enumspb.TASK_QUEUE_TYPE_WORKFLOW)
	if err != nil {
		return Status{}, fmt.Errorf("error describing task queue: %w", err)
	}

	st := Status{
		Pollers:   len(resp.GetPollers()),
		Schedules: make(map[string]*client.ScheduleDescription),
	}
	for _, id := range []string{PeriodicFetchScheduleID, ReapStaleScheduleID} {
		desc, err := cli.ScheduleClient().GetHandle(ctx, id).Describe(ctx)
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			st.Schedules[id] = nil
			continue
		}
		if err != nil {
			return Status{}, fmt.Errorf("error describing schedule %s: %w", id, err)
		}
		st.Schedules[id] = desc
	}

	return st, nil
}
