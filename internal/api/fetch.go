package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"github.com/jdholdren/digest/internal/digest"
	digerrs "github.com/jdholdren/digest/internal/errors"
	"github.com/jdholdren/digest/internal/fetcher"
	"github.com/jdholdren/digest/internal/serverutil"
)

type FetchReq struct {
	QueryParams map[string]any `json:"query_params"`
}

type MessageResp struct {
	Message string `json:"message"`
}

// Runs a fetch inline. Any failure is reported generically, the details live on the fetch log.
func (s Server) postFetch(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	// The body is optional
	var req FetchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return digerrs.E(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.fetcher.FetchAndSave(ctx, req.QueryParams, fetcher.DefaultSource)
	if err != nil {
		slog.ErrorContext(ctx, "manual fetch failed", "err", err)
		return digerrs.E(http.StatusInternalServerError, "Internal server error.")
	}
	slog.InfoContext(ctx, "manual fetch completed", "fetch_log_id", res.FetchLogID, "items_saved", res.ItemsSaved)

	return serverutil.WriteJSON(w, http.StatusOK, MessageResp{Message: "Example fetch and save completed successfully."})
}

type FetchLogResp struct {
	ID           string         `json:"id"`
	Source       *string        `json:"source"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
	Duration     *float64       `json:"duration_seconds"`
	ItemsFetched int            `json:"items_fetched"`
	ItemsSaved   int            `json:"items_saved"`
	SuccessRate  float64        `json:"success_rate"`
	ErrorMessage string         `json:"error_message"`
	QueryParams  map[string]any `json:"query_params"`
	Metadata     map[string]any `json:"metadata"`
	RawDataFile  string         `json:"raw_data_file"`
}

func apiFetchLog(l digest.FetchLog) FetchLogResp {
	resp := FetchLogResp{
		ID:           l.ID,
		Source:       l.Source,
		Status:       string(l.Status),
		StartedAt:    l.StartedAt,
		CompletedAt:  l.CompletedAt,
		ItemsFetched: l.ItemsFetched,
		ItemsSaved:   l.ItemsSaved,
		SuccessRate:  l.SuccessRate(),
		ErrorMessage: l.ErrorMessage,
		QueryParams:  l.QueryParams,
		Metadata:     l.Metadata,
		RawDataFile:  l.RawDataFile,
	}
	if d := l.Duration(); d != nil {
		resp.Duration = lo.ToPtr(d.Seconds())
	}

	return resp
}

type FetchLogsResp struct {
	FetchLogs  []FetchLogResp `json:"fetch_logs"`
	Pagination paginationMeta `json:"pagination"`
}

func (s Server) getFetchLogs(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx  = r.Context()
		args = parsePagination(r)
	)

	logs, err := s.repo.FetchLogs(ctx, args)
	if err != nil {
		return err
	}
	total, err := s.repo.CountFetchLogs(ctx)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, FetchLogsResp{
		FetchLogs:  lo.Map(logs, func(l digest.FetchLog, _ int) FetchLogResp { return apiFetchLog(l) }),
		Pagination: pagination(args, total),
	})
}

func (s Server) getFetchLog(w http.ResponseWriter, r *http.Request) error {
	l, err := s.repo.FetchLog(r.Context(), mux.Vars(r)["fetchLogID"])
	if errors.Is(err, digest.ErrNotFound) {
		return digerrs.E(http.StatusNotFound, "Fetch log not found")
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, apiFetchLog(l))
}
