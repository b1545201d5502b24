package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/jdholdren/digest/internal/digest"
)

// Ensure the dispatcher can be handed to the summarizer
var _ digest.Enqueuer = (*Dispatcher)(nil)

// Dispatcher starts jobs on the task queue without waiting for them.
type Dispatcher struct {
	cli client.Client
}

func NewDispatcher(cli client.Client) *Dispatcher {
	return &Dispatcher{cli: cli}
}

// SummaryWorkflowID is the workflow id of the job filling in the summary.
// One summary has at most one such job running.
func SummaryWorkflowID(summaryID string) string {
	return "summarize-" + summaryID
}

// EnqueueSummary starts the job for the summary. A job already running for it counts as enqueued.
func (d *Dispatcher) EnqueueSummary(ctx context.Context, job digest.SummaryJob) error {
	options := client.StartWorkflowOptions{
		ID:        SummaryWorkflowID(job.SummaryID),
		TaskQueue: TaskQueue,
		// Surface the conflict instead of silently handing back the running job
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	_, err := d.cli.ExecuteWorkflow(ctx, options, workflows{}.ProcessItem, job)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		slog.InfoContext(ctx, "summary job already running", "workflow_id", options.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to execute workflow: %w", err)
	}

	return nil
}

// TriggerFetch starts a fetch job and returns its workflow id.
func (d *Dispatcher) TriggerFetch(ctx context.Context, args FetchArgs) (string, error) {
	options := client.StartWorkflowOptions{
		ID:        "fetch-" + uuid.NewString(),
		TaskQueue: TaskQueue,
	}
	run, err := d.cli.ExecuteWorkflow(ctx, options, workflows{}.FetchAndSave, args)
	if err != nil {
		return "", fmt.Errorf("unable to execute workflow: %w", err)
	}

	return run.GetID(), nil
}
