// Package fetcher pulls items from the upstream source into the record store,
// keeping a fetch log of every attempt.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sym01/htmlsanitizer"

	"github.com/jdholdren/digest/internal/digest"
	"github.com/jdholdren/digest/internal/logger"
)

const (
	// DefaultSource names the fetch log source when the caller gives none.
	DefaultSource = "ExampleService"
	// OriginTag marks articles that came in through this service.
	OriginTag = "ExampleAPI"

	serviceClass = "fetcher.Service"
)

// Repo is the part of the record store the fetcher writes to.
type Repo interface {
	digest.ArticleRepo
	digest.FetchLogRepo
}

type Config struct {
	// Defaults are layered over the built-in query params when a fetch is given none.
	Defaults map[string]any
	// RawDataDir, when set, receives a JSON copy of every payload.
	RawDataDir string
}

type Service struct {
	repo       Repo
	client     Client
	defaults   map[string]any
	rawDataDir string
	now        func() time.Time

	stripPolicy *bluemonday.Policy
	sanitizer   *htmlsanitizer.HTMLSanitizer
}

func NewService(repo Repo, client Client, cfg Config) *Service {
	defaults := map[string]any{
		"language": "en",
		"category": "example",
	}
	maps.Copy(defaults, cfg.Defaults)

	return &Service{
		repo:        repo,
		client:      client,
		defaults:    defaults,
		rawDataDir:  cfg.RawDataDir,
		now:         time.Now,
		stripPolicy: bluemonday.StrictPolicy(),
		sanitizer:   htmlsanitizer.NewHTMLSanitizer(),
	}
}

// Result is the outcome of a successful fetch.
type Result struct {
	FetchLogID        string `json:"fetch_log_id"`
	Status            string `json:"status"`
	TotalResults      int    `json:"total_results"`
	Items             []Item `json:"items"`
	ItemsProcessed    int    `json:"items_processed"`
	ItemsSaved        int    `json:"items_saved"`
	DuplicatesSkipped int    `json:"duplicates_skipped"`
}

// DefaultQueryParams returns a copy of the params used when a fetch is given none.
func (s *Service) DefaultQueryParams() map[string]any {
	return maps.Clone(s.defaults)
}

// FetchAndSave pulls the upstream payload and saves every item whose URL is new.
//
// The attempt is recorded in a fetch log that ends in SUCCESS, or in ERROR with the
// returned error's message.
func (s *Service) FetchAndSave(ctx context.Context, params map[string]any, source string) (Result, error) {
	if len(params) == 0 {
		params = s.DefaultQueryParams()
	}
	if source == "" {
		source = DefaultSource
	}

	fl, err := s.repo.InsertFetchLog(ctx, digest.FetchLog{
		Source:      &source,
		Status:      digest.FetchStatusPending,
		QueryParams: params,
		Metadata:    digest.JSONMap{"service_class": serviceClass},
	})
	if err != nil {
		return Result{}, fmt.Errorf("error creating fetch log: %w", err)
	}
	ctx = logger.Ctx(ctx, slog.String("fetch_log_id", fl.ID), slog.String("source", source))

	res, err := s.run(ctx, fl.ID, params)
	if err != nil {
		slog.ErrorContext(ctx, "fetch failed", "err", err)

		msg := err.Error()
		uerr := s.repo.UpdateFetchLog(context.WithoutCancel(ctx), fl.ID, digest.UpdateFetchLogArgs{
			Status:       digest.FetchStatusError,
			ErrorMessage: &msg,
			Metadata: digest.JSONMap{
				"service_class": serviceClass,
				"error_type":    errorType(err),
			},
		})
		if uerr != nil {
			slog.ErrorContext(ctx, "error recording fetch failure", "err", uerr)
		}
		return Result{}, err
	}

	slog.InfoContext(ctx, "fetch complete",
		"items_processed", res.ItemsProcessed,
		"items_saved", res.ItemsSaved,
		"duplicates_skipped", res.DuplicatesSkipped,
	)
	return res, nil
}

func (s *Service) run(ctx context.Context, logID string, params map[string]any) (Result, error) {
	if err := s.repo.UpdateFetchLog(ctx, logID, digest.UpdateFetchLogArgs{Status: digest.FetchStatusInProgress}); err != nil {
		return Result{}, fmt.Errorf("error starting fetch log: %w", err)
	}

	resp, err := s.client.Fetch(ctx, maps.Clone(params))
	if err != nil {
		return Result{}, err
	}
	if resp == nil {
		return Result{}, &digest.ServiceError{Msg: "No data returned from external API"}
	}
	if resp.Items == nil {
		return Result{}, &digest.ServiceError{Msg: "Invalid response format from external API: 'items' key missing"}
	}
	if resp.Status == "" {
		resp.Status = "unknown"
	}

	fetched := len(resp.Items)
	args := digest.UpdateFetchLogArgs{ItemsFetched: &fetched}
	if path, err := s.writeRawData(logID, resp); err != nil {
		slog.WarnContext(ctx, "could not save raw data file", "err", err)
	} else {
		args.RawDataFile = path
	}
	if err := s.repo.UpdateFetchLog(ctx, logID, args); err != nil {
		return Result{}, fmt.Errorf("error recording fetched count: %w", err)
	}

	processed, saved := s.saveItems(ctx, resp.Items)
	res := Result{
		FetchLogID:        logID,
		Status:            resp.Status,
		TotalResults:      resp.TotalResults,
		Items:             resp.Items,
		ItemsProcessed:    processed,
		ItemsSaved:        saved,
		DuplicatesSkipped: processed - saved,
	}

	err = s.repo.UpdateFetchLog(ctx, logID, digest.UpdateFetchLogArgs{
		Status:     digest.FetchStatusSuccess,
		ItemsSaved: &saved,
		Metadata: digest.JSONMap{
			"service_class":      serviceClass,
			"api_status":         res.Status,
			"total_results":      res.TotalResults,
			"duplicates_skipped": res.DuplicatesSkipped,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("error completing fetch log: %w", err)
	}

	return res, nil
}

// saveItems inserts the items not already stored. Failures on one item are logged and skipped.
func (s *Service) saveItems(ctx context.Context, items []Item) (processed, saved int) {
	for _, item := range items {
		processed++

		exists, err := s.repo.ArticleExistsByURL(ctx, item.URL)
		if err != nil {
			slog.ErrorContext(ctx, "error checking for existing item", "url", item.URL, "err", err)
			continue
		}
		if exists {
			continue
		}

		a, err := s.article(item)
		if err != nil {
			slog.WarnContext(ctx, "skipping item", "url", item.URL, "err", err)
			continue
		}
		_, err = s.repo.InsertArticle(ctx, a)
		if errors.Is(err, digest.ErrConflict) {
			// Saved by a concurrent fetch
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "error saving item", "url", item.URL, "err", err)
			continue
		}
		saved++
	}

	return processed, saved
}

func (s *Service) article(item Item) (digest.Article, error) {
	if item.URL == "" {
		return digest.Article{}, errors.New("item has no url")
	}
	published, err := dateparse.ParseAny(item.PublishedAt)
	if err != nil {
		return digest.Article{}, fmt.Errorf("error parsing publishedAt %q: %s", item.PublishedAt, err)
	}

	source := item.Source.Name
	if source == "" {
		source = "Unknown"
	}

	a := digest.Article{
		Title:         s.strip(item.Title),
		Content:       s.strip(item.Content),
		URL:           item.URL,
		PublishedDate: published,
		Author:        item.Author,
		Source:        source,
		ImageURL:      item.URLToImage,
		ExampleSource: OriginTag,
	}
	if item.Description != nil {
		desc, err := s.sanitizer.SanitizeString(*item.Description)
		if err != nil {
			return digest.Article{}, fmt.Errorf("error sanitizing description: %s", err)
		}
		a.Description = &desc
	}

	return a, nil
}

// strip removes all markup, leaving plain text.
func (s *Service) strip(str string) string {
	return html.UnescapeString(s.stripPolicy.Sanitize(strings.TrimSpace(str)))
}

func (s *Service) writeRawData(logID string, resp *Response) (string, error) {
	if s.rawDataDir == "" {
		return "", nil
	}

	if err := os.MkdirAll(s.rawDataDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating raw data dir: %s", err)
	}
	byts, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error encoding raw data: %s", err)
	}

	path := filepath.Join(s.rawDataDir, fmt.Sprintf("raw_%s_%s.json", logID, s.now().UTC().Format("20060102_150405")))
	if err := os.WriteFile(path, byts, 0o644); err != nil {
		return "", fmt.Errorf("error writing raw data: %s", err)
	}

	return path, nil
}

func errorType(err error) string {
	var svcErr *digest.ServiceError
	switch {
	case errors.As(err, &svcErr):
		return "ServiceError"
	case errors.Is(err, digest.ErrConfiguration):
		return "ConfigurationError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	default:
		return "InternalError"
	}
}

// ReapStale errors out fetch logs that have been pending or in progress for longer than olderThan.
func (s *Service) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.repo.ReapFetchLogs(ctx, s.now().Add(-olderThan), fmt.Sprintf("abandoned: no progress within %s", olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.WarnContext(ctx, "reaped stale fetch logs", "count", n)
	}

	return n, nil
}
