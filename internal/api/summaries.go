package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jdholdren/digest/internal/digest"
	digerrs "github.com/jdholdren/digest/internal/errors"
	"github.com/jdholdren/digest/internal/serverutil"
	"github.com/jdholdren/digest/internal/summarizer"
)

const maxSummaryWords = 1000

type SummaryResp struct {
	ID              string     `json:"id"`
	ProcessingModel string     `json:"processing_model"`
	Status          string     `json:"status"`
	SummaryText     *string    `json:"summary_text"`
	WordCount       *int       `json:"word_count"`
	ProcessingCost  *float64   `json:"processing_cost"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	ErrorMessage    *string    `json:"error_message"`
}

func apiSummary(sum digest.Summary) SummaryResp {
	return SummaryResp{
		ID:              sum.ID,
		ProcessingModel: sum.ProcessingModel,
		Status:          string(sum.Status),
		SummaryText:     sum.SummaryText,
		WordCount:       sum.WordCount,
		ProcessingCost:  sum.ProcessingCost,
		CreatedAt:       sum.CreatedAt,
		CompletedAt:     sum.CompletedAt,
		ErrorMessage:    sum.ErrorMessage,
	}
}

type ProcessReq struct {
	ItemID          string `json:"item_id"`
	ProcessingModel string `json:"processing_model"`
	MaxWords        *int   `json:"max_words"`
}

func (req ProcessReq) Validate() error {
	if strings.TrimSpace(req.ItemID) == "" {
		return digerrs.E(http.StatusBadRequest, "item_id is required")
	}

	var details []digerrs.Detail
	if req.ProcessingModel != "" && !summarizer.ValidModel(req.ProcessingModel) {
		details = append(details, digerrs.Detail{Field: "processing_model", Error: fmt.Sprintf("%q is not a known model.", req.ProcessingModel)})
	}
	if req.MaxWords != nil && (*req.MaxWords < 1 || *req.MaxWords > maxSummaryWords) {
		details = append(details, digerrs.Detail{Field: "max_words", Error: fmt.Sprintf("Ensure this value is between 1 and %d.", maxSummaryWords)})
	}
	if len(details) > 0 {
		return digerrs.E(http.StatusBadRequest, "Invalid input.", details)
	}

	return nil
}

type ProcessResp struct {
	Success bool        `json:"success"`
	Summary SummaryResp `json:"summary"`
	Message string      `json:"message,omitempty"`
}

// Hands the item to the dispatcher and reports where its summary stands.
func (s Server) postProcess(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	req, err := serverutil.DecodeValid[ProcessReq](r.Body)
	if err != nil {
		return err
	}

	args := summarizer.ProcessArgs{
		ArticleID: strings.TrimSpace(req.ItemID),
		Model:     req.ProcessingModel,
	}
	if req.MaxWords != nil {
		args.MaxWords = *req.MaxWords
	}
	if usr, ok := requestUser(ctx); ok {
		args.RequestedBy = &usr.ID
	}

	sum, err := s.summarizer.ProcessItemAsync(ctx, args)
	if errors.Is(err, digest.ErrArticleNotFound) {
		return errItemNotFound
	}
	if err != nil {
		return err
	}

	resp := ProcessResp{Summary: apiSummary(sum)}
	switch sum.Status {
	case digest.SummaryStatusCompleted:
		resp.Success = true
		return serverutil.WriteJSON(w, http.StatusOK, resp)
	case digest.SummaryStatusFailed:
		resp.Message = "Processing failed."
		return serverutil.WriteJSON(w, http.StatusInternalServerError, resp)
	default:
		resp.Success = true
		resp.Message = "Processing is in progress."
		return serverutil.WriteJSON(w, http.StatusAccepted, resp)
	}
}

type (
	StatusResp struct {
		Success bool          `json:"success"`
		Summary StatusSummary `json:"summary"`
	}

	StatusSummary struct {
		ID              string     `json:"id"`
		ItemID          string     `json:"item_id"`
		ItemTitle       string     `json:"item_title"`
		SummaryText     *string    `json:"summary_text"`
		ProcessingModel string     `json:"processing_model"`
		Status          string     `json:"status"`
		WordCount       *int       `json:"word_count"`
		ProcessingCost  *float64   `json:"processing_cost"`
		CreatedAt       time.Time  `json:"created_at"`
		CompletedAt     *time.Time `json:"completed_at"`
	}
)

// Reports the item's summary for ?processing_model=, telling a missing item apart from a missing summary.
func (s Server) getStatus(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		itemID = mux.Vars(r)["itemID"]
		model  = r.URL.Query().Get("processing_model")
	)

	sum, err := s.summarizer.ItemSummary(ctx, itemID, model)
	switch {
	case errors.Is(err, digest.ErrArticleNotFound):
		return errItemNotFound
	case errors.Is(err, digest.ErrSummaryNotFound):
		return digerrs.E(http.StatusNotFound, msgSummaryNotFound)
	case err != nil:
		return err
	}

	article, err := s.repo.Article(ctx, itemID)
	if err != nil {
		return articleErr(err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, StatusResp{
		Success: true,
		Summary: StatusSummary{
			ID:              sum.ID,
			ItemID:          article.ID,
			ItemTitle:       article.Title,
			SummaryText:     sum.SummaryText,
			ProcessingModel: sum.ProcessingModel,
			Status:          string(sum.Status),
			WordCount:       sum.WordCount,
			ProcessingCost:  sum.ProcessingCost,
			CreatedAt:       sum.CreatedAt,
			CompletedAt:     sum.CompletedAt,
		},
	})
}

type (
	SummaryStatusResp struct {
		Success bool          `json:"success"`
		Status  SummaryStatus `json:"status"`
	}

	SummaryStatus struct {
		ID           string     `json:"id"`
		Status       string     `json:"status"`
		CreatedAt    time.Time  `json:"created_at"`
		CompletedAt  *time.Time `json:"completed_at"`
		ErrorMessage *string    `json:"error_message"`
	}
)

func (s Server) getSummaryStatus(w http.ResponseWriter, r *http.Request) error {
	sum, err := s.summarizer.Summary(r.Context(), mux.Vars(r)["summaryID"])
	if errors.Is(err, digest.ErrSummaryNotFound) {
		return digerrs.E(http.StatusNotFound, msgSummaryNotFound)
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, SummaryStatusResp{
		Success: true,
		Status: SummaryStatus{
			ID:           sum.ID,
			Status:       string(sum.Status),
			CreatedAt:    sum.CreatedAt,
			CompletedAt:  sum.CompletedAt,
			ErrorMessage: sum.ErrorMessage,
		},
	})
}

type SummaryActionReq struct {
	Action summarizer.BulkAction `json:"action"`
	IDs    []string              `json:"ids"`
}

// What each action reports back, by its past tense.
var actionVerbs = map[summarizer.BulkAction]string{
	summarizer.ActionMarkPending:     "marked as pending",
	summarizer.ActionMarkFailed:      "marked as failed",
	summarizer.ActionRecalculateCost: "repriced",
}

func (req SummaryActionReq) Validate() error {
	var details []digerrs.Detail
	if _, ok := actionVerbs[req.Action]; !ok {
		details = append(details, digerrs.Detail{Field: "action", Error: fmt.Sprintf("%q is not a valid choice.", req.Action)})
	}
	if len(req.IDs) == 0 {
		details = append(details, digerrs.Detail{Field: "ids", Error: "This list may not be empty."})
	}
	if len(details) > 0 {
		return digerrs.E(http.StatusBadRequest, "Invalid input.", details)
	}

	return nil
}

type SummaryActionResp struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}

func (s Server) postSummaryAction(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[SummaryActionReq](r.Body)
	if err != nil {
		return err
	}

	n, err := s.summarizer.Bulk(r.Context(), req.Action, req.IDs)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, SummaryActionResp{
		Message: fmt.Sprintf("%d summaries %s.", n, actionVerbs[req.Action]),
		Updated: n,
	})
}
