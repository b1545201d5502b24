// Package summarizer produces one summary per (article, model) pair, either
// inline or by handing a job to the dispatcher.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jdholdren/digest/internal/digest"
	"github.com/jdholdren/digest/internal/logger"
)

// Repo is the part of the record store the summarizer needs.
type Repo interface {
	digest.ArticleRepo
	digest.SummaryRepo
}

type Service struct {
	repo     Repo
	gen      Generator
	enqueuer digest.Enqueuer
	now      func() time.Time
}

// NewService builds the service. The enqueuer may be nil for callers that never
// use [Service.ProcessItemAsync].
func NewService(repo Repo, gen Generator, enqueuer digest.Enqueuer) *Service {
	return &Service{
		repo:     repo,
		gen:      gen,
		enqueuer: enqueuer,
		now:      time.Now,
	}
}

type ProcessArgs struct {
	ArticleID   string
	Model       string
	RequestedBy *string
	MaxWords    int
}

func (a ProcessArgs) withDefaults() ProcessArgs {
	if a.Model == "" {
		a.Model = digest.DefaultModel
	}
	if a.MaxWords <= 0 {
		a.MaxWords = digest.DefaultMaxWords
	}
	return a
}

// ProcessItem summarizes the article inline.
//
// An already completed summary for the pair is returned untouched. A failed
// generation is recorded on the summary before the error is returned.
func (s *Service) ProcessItem(ctx context.Context, args ProcessArgs) (digest.Summary, error) {
	args = args.withDefaults()
	ctx = logger.Ctx(ctx, slog.String("article_id", args.ArticleID), slog.String("model", args.Model))

	article, err := s.repo.Article(ctx, args.ArticleID)
	if err != nil {
		return digest.Summary{}, err
	}

	sum, done, err := s.completed(ctx, args)
	if err != nil || done {
		return sum, err
	}

	sum, _, err = s.repo.EnsureSummary(ctx, digest.Summary{
		ArticleID:       args.ArticleID,
		ProcessingModel: args.Model,
		Status:          digest.SummaryStatusPending,
		RequestedBy:     args.RequestedBy,
	})
	if err != nil {
		return digest.Summary{}, fmt.Errorf("error creating summary: %w", err)
	}
	if sum.Status == digest.SummaryStatusCompleted {
		return sum, nil
	}
	ctx = logger.Ctx(ctx, slog.String("summary_id", sum.ID))

	err = s.repo.UpdateSummary(ctx, sum.ID, digest.UpdateSummaryArgs{
		Status:     digest.SummaryStatusInProgress,
		ClearError: true,
	})
	if err != nil {
		return digest.Summary{}, fmt.Errorf("error starting summary: %w", err)
	}

	gen, err := s.gen.Generate(ctx, GenerateArgs{
		Title:    article.Title,
		Content:  article.Content,
		Model:    args.Model,
		MaxWords: args.MaxWords,
	})
	if err != nil {
		s.markFailed(ctx, sum.ID, err)
		return digest.Summary{}, err
	}

	var (
		text  = strings.TrimSpace(gen.Text)
		words = len(strings.Fields(text))
		cost  = roundCost(gen.Cost)
	)
	err = s.repo.UpdateSummary(ctx, sum.ID, digest.UpdateSummaryArgs{
		Status:         digest.SummaryStatusCompleted,
		SummaryText:    &text,
		WordCount:      &words,
		ProcessingCost: &cost,
		ClearError:     true,
		CompletedAt:    s.now(),
	})
	if err != nil {
		s.markFailed(ctx, sum.ID, err)
		return digest.Summary{}, fmt.Errorf("error saving summary: %w", err)
	}
	slog.InfoContext(ctx, "summary completed", "word_count", words, "cost", cost)

	return s.repo.Summary(ctx, sum.ID)
}

// ProcessItemAsync makes sure a summary row exists for the pair and enqueues the
// work to fill it in.
//
// Only the caller that created the row enqueues, so concurrent requests for the
// same pair share one row and one job. A failed row is reset to pending and
// enqueued again.
func (s *Service) ProcessItemAsync(ctx context.Context, args ProcessArgs) (digest.Summary, error) {
	args = args.withDefaults()
	ctx = logger.Ctx(ctx, slog.String("article_id", args.ArticleID), slog.String("model", args.Model))

	if _, err := s.repo.Article(ctx, args.ArticleID); err != nil {
		return digest.Summary{}, err
	}

	sum, done, err := s.completed(ctx, args)
	if err != nil || done {
		return sum, err
	}

	sum, created, err := s.repo.EnsureSummary(ctx, digest.Summary{
		ArticleID:       args.ArticleID,
		ProcessingModel: args.Model,
		Status:          digest.SummaryStatusPending,
		RequestedBy:     args.RequestedBy,
	})
	if err != nil {
		return digest.Summary{}, fmt.Errorf("error creating summary: %w", err)
	}
	ctx = logger.Ctx(ctx, slog.String("summary_id", sum.ID))

	if !created {
		if sum.Status != digest.SummaryStatusFailed {
			return sum, nil
		}

		if _, err := s.repo.SetSummariesStatus(ctx, []string{sum.ID}, digest.SummaryStatusPending, true); err != nil {
			return digest.Summary{}, fmt.Errorf("error resetting failed summary: %w", err)
		}
		sum.Status = digest.SummaryStatusPending
		sum.ErrorMessage = nil
		slog.InfoContext(ctx, "retrying failed summary")
	}

	if s.enqueuer == nil {
		err := fmt.Errorf("no job dispatcher configured: %w", digest.ErrConfiguration)
		s.markFailed(ctx, sum.ID, err)
		return digest.Summary{}, err
	}
	err = s.enqueuer.EnqueueSummary(ctx, digest.SummaryJob{
		SummaryID:   sum.ID,
		ArticleID:   args.ArticleID,
		Model:       args.Model,
		RequestedBy: args.RequestedBy,
		MaxWords:    args.MaxWords,
	})
	if err != nil {
		s.markFailed(ctx, sum.ID, err)
		return digest.Summary{}, fmt.Errorf("error enqueuing summary: %w", err)
	}
	slog.InfoContext(ctx, "summary enqueued")

	return sum, nil
}

// completed returns the pair's summary when it has already been produced.
func (s *Service) completed(ctx context.Context, args ProcessArgs) (digest.Summary, bool, error) {
	sum, err := s.repo.SummaryFor(ctx, args.ArticleID, args.Model)
	if errors.Is(err, digest.ErrSummaryNotFound) {
		return digest.Summary{}, false, nil
	}
	if err != nil {
		return digest.Summary{}, false, err
	}
	if sum.Status != digest.SummaryStatusCompleted {
		return digest.Summary{}, false, nil
	}

	slog.DebugContext(ctx, "summary already completed", "summary_id", sum.ID)
	return sum, true, nil
}

func (s *Service) markFailed(ctx context.Context, id string, cause error) {
	slog.ErrorContext(ctx, "summary failed", "err", cause)

	msg := cause.Error()
	err := s.repo.UpdateSummary(context.WithoutCancel(ctx), id, digest.UpdateSummaryArgs{
		Status:       digest.SummaryStatusFailed,
		ErrorMessage: &msg,
	})
	if err != nil {
		slog.ErrorContext(ctx, "error recording summary failure", "err", err)
	}
}

// ItemSummary returns the pair's summary in whatever state it is in.
//
// A missing article is [digest.ErrArticleNotFound]; an article without a summary
// for the model is [digest.ErrSummaryNotFound].
func (s *Service) ItemSummary(ctx context.Context, articleID, model string) (digest.Summary, error) {
	if model == "" {
		model = digest.DefaultModel
	}
	if _, err := s.repo.Article(ctx, articleID); err != nil {
		return digest.Summary{}, err
	}

	return s.repo.SummaryFor(ctx, articleID, model)
}

// ItemSummaries lists every summary of the article, newest first.
func (s *Service) ItemSummaries(ctx context.Context, articleID string) ([]digest.Summary, error) {
	if _, err := s.repo.Article(ctx, articleID); err != nil {
		return nil, err
	}

	return s.repo.ArticleSummaries(ctx, articleID)
}

func (s *Service) Summary(ctx context.Context, id string) (digest.Summary, error) {
	return s.repo.Summary(ctx, id)
}

// BulkAction is an administrative operation over many summaries.
type BulkAction string

const (
	ActionMarkPending     BulkAction = "mark_as_pending"
	ActionMarkFailed      BulkAction = "mark_as_failed"
	ActionRecalculateCost BulkAction = "recalculate_cost"
)

var ErrUnknownAction = errors.New("unknown bulk action")

// Bulk applies the action to the summaries with the given ids and reports how many changed.
func (s *Service) Bulk(ctx context.Context, action BulkAction, ids []string) (int64, error) {
	switch action {
	case ActionMarkPending:
		return s.repo.SetSummariesStatus(ctx, ids, digest.SummaryStatusPending, true)
	case ActionMarkFailed:
		return s.repo.SetSummariesStatus(ctx, ids, digest.SummaryStatusFailed, false)
	case ActionRecalculateCost:
		return s.recalculateCost(ctx, ids)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// recalculateCost reprices every summary with text at 0.001 per summary word.
func (s *Service) recalculateCost(ctx context.Context, ids []string) (int64, error) {
	summaries, err := s.repo.Summaries(ctx, ids)
	if err != nil {
		return 0, err
	}

	var updated int64
	for _, sum := range summaries {
		if sum.SummaryText == nil || *sum.SummaryText == "" {
			continue
		}

		cost := roundCost(0.001 * float64(len(strings.Fields(*sum.SummaryText))))
		if err := s.repo.UpdateSummary(ctx, sum.ID, digest.UpdateSummaryArgs{ProcessingCost: &cost}); err != nil {
			return updated, fmt.Errorf("error repricing summary %s: %w", sum.ID, err)
		}
		updated++
	}

	return updated, nil
}

// ReapStale fails summaries that have been pending or in progress for longer than olderThan.
func (s *Service) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.repo.ReapSummaries(ctx, s.now().Add(-olderThan), fmt.Sprintf("abandoned: no progress within %s", olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.WarnContext(ctx, "reaped stale summaries", "count", n)
	}

	return n, nil
}

// Costs are kept to four decimal places.
func roundCost(c float64) float64 {
	return math.Round(c*10_000) / 10_000
}
