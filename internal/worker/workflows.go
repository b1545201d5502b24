package worker

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jdholdren/digest/internal/digest"
	"github.com/jdholdren/digest/internal/fetcher"
)

type workflows struct{}

// Job statuses reported in a [JobResult].
const (
	JobSucceeded = "success"
	JobFailed    = "failed"
)

// JobResult is what a job reports once it stops, whether or not it got its work done.
type JobResult struct {
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SummaryID  string    `json:"summary_id,omitempty"`
	FetchLogID string    `json:"fetch_log_id,omitempty"`
	ItemsCount int       `json:"items_count,omitempty"`
}

// Jobs retry three times in total, a minute apart.
var jobActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:        60 * time.Second,
		BackoffCoefficient:     1.0,
		MaximumInterval:        60 * time.Second,
		MaximumAttempts:        3,
		NonRetryableErrorTypes: nonRetryableErrTypes,
	},
}

func failed(ctx workflow.Context, err error) JobResult {
	return JobResult{
		Status:    JobFailed,
		Error:     err.Error(),
		Timestamp: workflow.Now(ctx),
	}
}

// ProcessItem fills in a pending summary.
func (workflows) ProcessItem(ctx workflow.Context, job digest.SummaryJob) (JobResult, error) {
	ctx = workflow.WithActivityOptions(ctx, jobActivityOptions)
	l := workflow.GetLogger(ctx)

	var sum digest.Summary
	if err := workflow.ExecuteActivity(ctx, acts.Summarize, job).Get(ctx, &sum); err != nil {
		l.Error("giving up on summary", "summary_id", job.SummaryID, "error_type", errType(err), "error", err)
		res := failed(ctx, err)
		res.SummaryID = job.SummaryID
		return res, nil
	}

	return JobResult{
		Status:    JobSucceeded,
		Timestamp: workflow.Now(ctx),
		SummaryID: sum.ID,
	}, nil
}

// FetchAndSave runs one fetch.
func (workflows) FetchAndSave(ctx workflow.Context, args FetchArgs) (JobResult, error) {
	ctx = workflow.WithActivityOptions(ctx, jobActivityOptions)
	l := workflow.GetLogger(ctx)

	var res fetcher.Result
	if err := workflow.ExecuteActivity(ctx, acts.Fetch, args).Get(ctx, &res); err != nil {
		l.Error("giving up on fetch", "error_type", errType(err), "error", err)
		return failed(ctx, err), nil
	}

	l.Info("fetch done", "fetch_log_id", res.FetchLogID, "items_saved", res.ItemsSaved)
	return JobResult{
		Status:     JobSucceeded,
		Timestamp:  workflow.Now(ctx),
		FetchLogID: res.FetchLogID,
		ItemsCount: res.TotalResults,
	}, nil
}

// ScheduledFetch is the periodic fetch: it notes the run, then fetches with the default query.
func (w workflows) ScheduledFetch(ctx workflow.Context) (JobResult, error) {
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
	if err := workflow.ExecuteActivity(actx, acts.RecordScheduledRun, workflow.Now(ctx)).Get(actx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("could not record scheduled run", "error", err)
	}

	return w.FetchAndSave(ctx, FetchArgs{})
}

// ReapStale fails records that stopped making progress.
func (workflows) ReapStale(ctx workflow.Context) (ReapResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})

	var res ReapResult
	if err := workflow.ExecuteActivity(ctx, acts.Reap).Get(ctx, &res); err != nil {
		return ReapResult{}, err
	}

	return res, nil
}
