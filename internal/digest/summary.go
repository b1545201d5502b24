package digest

import (
	"context"
	"time"
)

type SummaryStatus string

const (
	SummaryStatusPending    SummaryStatus = "pending"
	SummaryStatusInProgress SummaryStatus = "in_progress"
	SummaryStatusCompleted  SummaryStatus = "completed"
	SummaryStatusFailed     SummaryStatus = "failed"
)

const (
	DefaultModel    = "example-model-v1"
	DefaultMaxWords = 150
)

// Summary is the derived artifact for one (article, model) pair.
type Summary struct {
	ID              string        `db:"id"`
	ArticleID       string        `db:"article_id"`
	SummaryText     *string       `db:"summary_text"`
	ProcessingModel string        `db:"processing_model"`
	Status          SummaryStatus `db:"status"`
	WordCount       *int          `db:"word_count"`
	ProcessingCost  *float64      `db:"processing_cost"`
	ErrorMessage    *string       `db:"error_message"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
	CompletedAt     *time.Time    `db:"completed_at"`
	RequestedBy     *string       `db:"requested_by"`
}

// Holds the optional fields for updating a summary.
type UpdateSummaryArgs struct {
	Status         SummaryStatus
	SummaryText    *string
	WordCount      *int
	ProcessingCost *float64
	ErrorMessage   *string
	ClearError     bool
	CompletedAt    time.Time
}

type SummaryRepo interface {
	Summary(ctx context.Context, id string) (Summary, error)
	SummaryFor(ctx context.Context, articleID, model string) (Summary, error)
	ArticleSummaries(ctx context.Context, articleID string) ([]Summary, error)
	Summaries(ctx context.Context, ids []string) ([]Summary, error)
	// InsertSummary fails with [ErrConflict] when the (article, model) pair exists.
	InsertSummary(ctx context.Context, s Summary) (Summary, error)
	// EnsureSummary inserts the summary if its (article, model) pair is absent,
	// and otherwise returns the existing row. The bool is true only for the caller
	// whose insert won.
	EnsureSummary(ctx context.Context, s Summary) (Summary, bool, error)
	UpdateSummary(ctx context.Context, id string, args UpdateSummaryArgs) error
	// SetSummariesStatus updates the status of many summaries at once.
	SetSummariesStatus(ctx context.Context, ids []string, status SummaryStatus, clearError bool) (int64, error)
	// ReapSummaries fails pending and in-progress summaries whose last change is
	// older than the cutoff.
	ReapSummaries(ctx context.Context, idleSince time.Time, msg string) (int64, error)
}

// SummaryJob is the payload of a background summarization job.
type SummaryJob struct {
	SummaryID   string  `json:"summary_id"`
	ArticleID   string  `json:"article_id"`
	Model       string  `json:"model"`
	RequestedBy *string `json:"requested_by"`
	MaxWords    int     `json:"max_words"`
}

// Enqueuer hands summarization work to the job dispatcher without waiting on it.
type Enqueuer interface {
	EnqueueSummary(ctx context.Context, job SummaryJob) error
}
