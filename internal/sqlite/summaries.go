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

const summaryNamespace = "-sum"

func (r Repo) Summary(ctx context.Context, id string) (digest.Summary, error) {
	const q = `SELECT * FROM summaries WHERE id = ?;`

	var s digest.Summary
	err := r.db.GetContext(ctx, &s, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return digest.Summary{}, digest.ErrSummaryNotFound
	}
	if err != nil {
		return digest.Summary{}, fmt.Errorf("error fetching summary: %s", err)
	}

	return s, nil
}

func (r Repo) SummaryFor(ctx context.Context, articleID, model string) (digest.Summary, error) {
	const q = `SELECT * FROM summaries WHERE article_id = ? AND processing_model = ?;`

	var s digest.Summary
	err := r.db.GetContext(ctx, &s, q, articleID, model)
	if errors.Is(err, sql.ErrNoRows) {
		return digest.Summary{}, digest.ErrSummaryNotFound
	}
	if err != nil {
		return digest.Summary{}, fmt.Errorf("error fetching summary: %s", err)
	}

	return s, nil
}

func (r Repo) ArticleSummaries(ctx context.Context, articleID string) ([]digest.Summary, error) {
	const q = `SELECT * FROM summaries WHERE article_id = ? ORDER BY created_at DESC;`

	summaries := []digest.Summary{}
	if err := r.db.SelectContext(ctx, &summaries, q, articleID); err != nil {
		return nil, fmt.Errorf("error selecting article summaries: %s", err)
	}

	return summaries, nil
}

func (r Repo) Summaries(ctx context.Context, ids []string) ([]digest.Summary, error) {
	if len(ids) == 0 {
		return []digest.Summary{}, nil
	}

	query, args, err := sq.Select("*").From("summaries").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var summaries []digest.Summary
	if err := r.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting summaries: %s", err)
	}

	return summaries, nil
}

func (r Repo) prepSummary(s digest.Summary) digest.Summary {
	s.ID = uuid.NewString() + summaryNamespace
	s.CreatedAt = r.now()
	s.UpdatedAt = s.CreatedAt
	if s.Status == "" {
		s.Status = digest.SummaryStatusPending
	}
	if s.ProcessingModel == "" {
		s.ProcessingModel = digest.DefaultModel
	}

	return s
}

const insertSummaryQ = `INSERT INTO summaries (
	id, article_id, summary_text, processing_model, status, word_count, processing_cost, error_message, created_at, updated_at, completed_at, requested_by
) VALUES (
	:id, :article_id, :summary_text, :processing_model, :status, :word_count, :processing_cost, :error_message, :created_at, :updated_at, :completed_at, :requested_by
)`

func (r Repo) InsertSummary(ctx context.Context, s digest.Summary) (digest.Summary, error) {
	s = r.prepSummary(s)
	_, err := r.db.NamedExecContext(ctx, insertSummaryQ+";", s)
	switch sqliteCode(err) {
	case codeConstraintUnique:
		return digest.Summary{}, fmt.Errorf("summary for article %s with model %s: %w", s.ArticleID, s.ProcessingModel, digest.ErrConflict)
	case codeConstraintForeignKey:
		return digest.Summary{}, r.missingSummaryRef(ctx, s)
	}
	if err != nil {
		return digest.Summary{}, fmt.Errorf("error inserting summary: %s", err)
	}

	return r.Summary(ctx, s.ID)
}

func (r Repo) EnsureSummary(ctx context.Context, s digest.Summary) (digest.Summary, bool, error) {
	s = r.prepSummary(s)
	res, err := r.db.NamedExecContext(ctx, insertSummaryQ+"\nON CONFLICT (article_id, processing_model) DO NOTHING;", s)
	if sqliteCode(err) == codeConstraintForeignKey {
		return digest.Summary{}, false, r.missingSummaryRef(ctx, s)
	}
	if err != nil {
		return digest.Summary{}, false, fmt.Errorf("error ensuring summary: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return digest.Summary{}, false, fmt.Errorf("error reading affected rows: %s", err)
	}

	existing, err := r.SummaryFor(ctx, s.ArticleID, s.ProcessingModel)
	if err != nil {
		return digest.Summary{}, false, err
	}

	return existing, n == 1, nil
}

// missingSummaryRef works out which reference a summary insert tripped over.
func (r Repo) missingSummaryRef(ctx context.Context, s digest.Summary) error {
	if _, err := r.Article(ctx, s.ArticleID); err != nil {
		return err
	}
	if s.RequestedBy != nil {
		if _, err := r.User(ctx, *s.RequestedBy); err != nil {
			return err
		}
	}

	return fmt.Errorf("summary for article %s references a missing row", s.ArticleID)
}

func (r Repo) UpdateSummary(ctx context.Context, id string, args digest.UpdateSummaryArgs) error {
	q := sq.Update("summaries").Set("updated_at", r.now()).Where(sq.Eq{"id": id})
	if args.Status != "" {
		q = q.Set("status", args.Status)
	}
	if args.SummaryText != nil {
		q = q.Set("summary_text", *args.SummaryText)
	}
	if args.WordCount != nil {
		q = q.Set("word_count", *args.WordCount)
	}
	if args.ProcessingCost != nil {
		q = q.Set("processing_cost", *args.ProcessingCost)
	}
	if args.ErrorMessage != nil {
		q = q.Set("error_message", *args.ErrorMessage)
	} else if args.ClearError {
		q = q.Set("error_message", nil)
	}
	if !args.CompletedAt.IsZero() {
		q = q.Set("completed_at", args.CompletedAt.UTC())
	}

	query, qArgs, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}
	res, err := r.db.ExecContext(ctx, query, qArgs...)
	if err != nil {
		return fmt.Errorf("error executing summary update: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return digest.ErrSummaryNotFound
	}

	return nil
}

func (r Repo) SetSummariesStatus(ctx context.Context, ids []string, status digest.SummaryStatus, clearError bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	q := sq.Update("summaries").
		Set("status", status).
		Set("updated_at", r.now()).
		Where(sq.Eq{"id": ids})
	if clearError {
		q = q.Set("error_message", nil)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %s", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("error updating summary statuses: %s", err)
	}

	return res.RowsAffected()
}

func (r Repo) ReapSummaries(ctx context.Context, idleSince time.Time, msg string) (int64, error) {
	const q = `UPDATE summaries
	SET status = ?, error_message = ?, updated_at = ?
	WHERE status IN (?, ?) AND updated_at < ?;`

	res, err := r.db.ExecContext(ctx, q,
		digest.SummaryStatusFailed,
		msg,
		r.now(),
		digest.SummaryStatusPending,
		digest.SummaryStatusInProgress,
		idleSince.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("error reaping summaries: %s", err)
	}

	return res.RowsAffected()
}
