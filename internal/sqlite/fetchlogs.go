package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jdholdren/digest/internal/digest"
)

const fetchLogNamespace = "-fl"

var terminalFetchStatuses = []string{
	string(digest.FetchStatusSuccess),
	string(digest.FetchStatusError),
}

func (r Repo) FetchLog(ctx context.Context, id string) (digest.FetchLog, error) {
	const q = `SELECT * FROM fetch_logs WHERE id = ?;`

	var l digest.FetchLog
	err := r.db.GetContext(ctx, &l, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return digest.FetchLog{}, digest.ErrNotFound
	}
	if err != nil {
		return digest.FetchLog{}, fmt.Errorf("error fetching fetch log: %s", err)
	}

	return l, nil
}

// FetchLogs lists logs, most recently started first.
func (r Repo) FetchLogs(ctx context.Context, args digest.ListArgs) ([]digest.FetchLog, error) {
	q := sq.Select("*").From("fetch_logs").OrderBy("started_at DESC")
	if args.Limit > 0 {
		q = q.Limit(args.Limit)
	}
	if args.Offset > 0 {
		q = q.Offset(args.Offset)
	}

	query, qArgs, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	logs := []digest.FetchLog{}
	if err := r.db.SelectContext(ctx, &logs, query, qArgs...); err != nil {
		return nil, fmt.Errorf("error selecting fetch logs: %s", err)
	}

	return logs, nil
}

func (r Repo) CountFetchLogs(ctx context.Context) (int, error) {
	const q = "SELECT COUNT(*) FROM fetch_logs;"

	var count int
	if err := r.db.GetContext(ctx, &count, q); err != nil {
		return 0, fmt.Errorf("error counting fetch logs: %s", err)
	}

	return count, nil
}

func (r Repo) InsertFetchLog(ctx context.Context, l digest.FetchLog) (digest.FetchLog, error) {
	const q = `INSERT INTO fetch_logs (
		id, source, status, started_at, items_fetched, items_saved, error_message, query_params, metadata, raw_data_file
	) VALUES (
		:id, :source, :status, :started_at, :items_fetched, :items_saved, :error_message, :query_params, :metadata, :raw_data_file
	);`

	l.ID = uuid.NewString() + fetchLogNamespace
	if l.Status == "" {
		l.Status = digest.FetchStatusPending
	}
	if l.StartedAt.IsZero() {
		l.StartedAt = r.now()
	}
	l.StartedAt = l.StartedAt.UTC()
	if _, err := r.db.NamedExecContext(ctx, q, l); err != nil {
		return digest.FetchLog{}, fmt.Errorf("error inserting fetch log: %s", err)
	}

	return r.FetchLog(ctx, l.ID)
}

// UpdateFetchLog applies the set fields of args.
//
// Moving to a terminal status stamps completed_at if the caller didn't.
// A log that already reached a terminal status keeps it: the update is refused with [digest.ErrConflict].
func (r Repo) UpdateFetchLog(ctx context.Context, id string, args digest.UpdateFetchLogArgs) error {
	q := sq.Update("fetch_logs").Where(sq.Eq{"id": id})
	if args.Status != "" {
		q = q.Set("status", args.Status).Where(sq.NotEq{"status": terminalFetchStatuses})
		if args.Status.Terminal() && args.CompletedAt.IsZero() {
			args.CompletedAt = r.now()
		}
	}
	if !args.CompletedAt.IsZero() {
		q = q.Set("completed_at", args.CompletedAt.UTC())
	}
	if args.ItemsFetched != nil {
		q = q.Set("items_fetched", *args.ItemsFetched)
	}
	if args.ItemsSaved != nil {
		q = q.Set("items_saved", *args.ItemsSaved)
	}
	if args.ErrorMessage != nil {
		q = q.Set("error_message", *args.ErrorMessage)
	}
	if args.Metadata != nil {
		q = q.Set("metadata", args.Metadata)
	}
	if args.RawDataFile != "" {
		q = q.Set("raw_data_file", args.RawDataFile)
	}

	query, qArgs, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}
	res, err := r.db.ExecContext(ctx, query, qArgs...)
	if err != nil {
		return fmt.Errorf("error executing fetch log update: %s", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Nothing changed: either the log is gone or it's already finished
	if _, err := r.FetchLog(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("fetch log %s is already complete: %w", id, digest.ErrConflict)
}

func (r Repo) ReapFetchLogs(ctx context.Context, startedBefore time.Time, msg string) (int64, error) {
	const q = `UPDATE fetch_logs
	SET status = ?, completed_at = ?, error_message = ?
	WHERE status IN (?, ?) AND started_at < ?;`

	res, err := r.db.ExecContext(ctx, q,
		digest.FetchStatusError,
		r.now(),
		msg,
		digest.FetchStatusPending,
		digest.FetchStatusInProgress,
		startedBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("error reaping fetch logs: %s", err)
	}

	return res.RowsAffected()
}
