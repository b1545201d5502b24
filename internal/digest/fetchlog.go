package digest

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type FetchStatus string

const (
	FetchStatusPending    FetchStatus = "PENDING"
	FetchStatusInProgress FetchStatus = "IN_PROGRESS"
	FetchStatusSuccess    FetchStatus = "SUCCESS"
	FetchStatusError      FetchStatus = "ERROR"
)

// Terminal reports whether no further transitions are allowed out of the status.
func (s FetchStatus) Terminal() bool {
	return s == FetchStatusSuccess || s == FetchStatusError
}

// CanTransition reports whether moving from s to next keeps the
// PENDING -> IN_PROGRESS -> {SUCCESS, ERROR} ordering.
func (s FetchStatus) CanTransition(next FetchStatus) bool {
	switch s {
	case FetchStatusPending:
		return next == FetchStatusInProgress || next.Terminal()
	case FetchStatusInProgress:
		return next.Terminal()
	default:
		return false
	}
}

// FetchLog is the audit record of one fetch attempt.
type FetchLog struct {
	ID           string      `db:"id"`
	Source       *string     `db:"source"`
	Status       FetchStatus `db:"status"`
	StartedAt    time.Time   `db:"started_at"`
	CompletedAt  *time.Time  `db:"completed_at"`
	ItemsFetched int         `db:"items_fetched"`
	ItemsSaved   int         `db:"items_saved"`
	ErrorMessage string      `db:"error_message"`
	QueryParams  JSONMap     `db:"query_params"`
	Metadata     JSONMap     `db:"metadata"`
	RawDataFile  string      `db:"raw_data_file"`
}

// Duration is how long the attempt took, or nil while it is still running.
func (l FetchLog) Duration() *time.Duration {
	if l.CompletedAt == nil {
		return nil
	}
	d := l.CompletedAt.Sub(l.StartedAt)
	return &d
}

// SuccessRate is the percentage of fetched items that were saved, to two decimals.
//
// Zero items fetched is a rate of zero.
func (l FetchLog) SuccessRate() float64 {
	if l.ItemsFetched <= 0 {
		return 0
	}
	rate := float64(l.ItemsSaved) / float64(l.ItemsFetched) * 100
	return math.Round(rate*100) / 100
}

// Holds the optional fields for updating a fetch log.
type UpdateFetchLogArgs struct {
	Status       FetchStatus
	ItemsFetched *int
	ItemsSaved   *int
	ErrorMessage *string
	Metadata     JSONMap
	RawDataFile  string
	CompletedAt  time.Time
}

type FetchLogRepo interface {
	FetchLog(ctx context.Context, id string) (FetchLog, error)
	FetchLogs(ctx context.Context, args ListArgs) ([]FetchLog, error)
	CountFetchLogs(ctx context.Context) (int, error)
	InsertFetchLog(ctx context.Context, l FetchLog) (FetchLog, error)
	// UpdateFetchLog refuses status changes on a terminal log with [ErrConflict].
	UpdateFetchLog(ctx context.Context, id string, args UpdateFetchLogArgs) error
	// ReapFetchLogs moves logs started before the cutoff and still running to ERROR.
	ReapFetchLogs(ctx context.Context, startedBefore time.Time, msg string) (int64, error)
}

// JSONMap is a free-form object persisted as a JSON text column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	byts, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshaling json column: %w", err)
	}

	return string(byts), nil
}

func (m *JSONMap) Scan(src any) error {
	var byts []byte
	switch src := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case string:
		byts = []byte(src)
	case []byte:
		byts = src
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}

	out := JSONMap{}
	if err := json.Unmarshal(byts, &out); err != nil {
		return fmt.Errorf("error unmarshaling json column: %w", err)
	}
	*m = out

	return nil
}
