package worker

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/jdholdren/digest/internal/digest"
	"github.com/jdholdren/digest/internal/fetcher"
	"github.com/jdholdren/digest/internal/summarizer"
)

type activities struct {
	fetcher    *fetcher.Service
	summarizer *summarizer.Service
	state      *ScheduleState
	staleAfter time.Duration
}

// Instance to make the workflow a bit more readable
var acts = activities{}

// FetchArgs are the inputs of a fetch job. Empty params mean the service defaults.
type FetchArgs struct {
	QueryParams map[string]any `json:"query_params"`
	Source      string         `json:"source"`
}

func (a activities) Fetch(ctx context.Context, args FetchArgs) (fetcher.Result, error) {
	l := activity.GetLogger(ctx)
	l.Info("fetching", "source", args.Source, "attempt", activity.GetInfo(ctx).Attempt)

	res, err := a.fetcher.FetchAndSave(ctx, args.QueryParams, args.Source)
	if err != nil {
		return fetcher.Result{}, appErr("fetch failed", err)
	}

	return res, nil
}

func (a activities) Summarize(ctx context.Context, job digest.SummaryJob) (digest.Summary, error) {
	l := activity.GetLogger(ctx)
	l.Info("summarizing", "summary_id", job.SummaryID, "attempt", activity.GetInfo(ctx).Attempt)

	sum, err := a.summarizer.ProcessItem(ctx, summarizer.ProcessArgs{
		ArticleID:   job.ArticleID,
		Model:       job.Model,
		RequestedBy: job.RequestedBy,
		MaxWords:    job.MaxWords,
	})
	if err != nil {
		return digest.Summary{}, appErr("summarize failed", err)
	}

	return sum, nil
}

// ReapResult counts the records the reaper gave up on.
type ReapResult struct {
	Summaries int64 `json:"summaries"`
	FetchLogs int64 `json:"fetch_logs"`
}

func (a activities) Reap(ctx context.Context) (ReapResult, error) {
	sums, err := a.summarizer.ReapStale(ctx, a.staleAfter)
	if err != nil {
		return ReapResult{}, appErr("error reaping summaries", err)
	}
	logs, err := a.fetcher.ReapStale(ctx, a.staleAfter)
	if err != nil {
		return ReapResult{}, appErr("error reaping fetch logs", err)
	}

	return ReapResult{Summaries: sums, FetchLogs: logs}, nil
}

// RecordScheduledRun notes when the periodic fetch last ran.
func (a activities) RecordScheduledRun(ctx context.Context, at time.Time) error {
	if a.state == nil {
		return nil
	}
	if err := a.state.Record(at); err != nil {
		return appErr("error recording scheduled run", err)
	}

	return nil
}
