package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/digest/internal/digest"
	digerrs "github.com/jdholdren/digest/internal/errors"
	"github.com/jdholdren/digest/internal/fetcher"
	"github.com/jdholdren/digest/internal/sqlite"
	"github.com/jdholdren/digest/internal/sqlite/sqlitetest"
	"github.com/jdholdren/digest/internal/summarizer"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueSummary(ctx context.Context, job digest.SummaryJob) error {
	return m.Called(ctx, job).Error(0)
}

type clientFunc func(ctx context.Context, params map[string]any) (*fetcher.Response, error)

func (f clientFunc) Fetch(ctx context.Context, params map[string]any) (*fetcher.Response, error) {
	return f(ctx, params)
}

type testServer struct {
	*Server
	repo     sqlite.Repo
	enqueuer *mockEnqueuer
	admin    string // Tokens for each kind of user
	reader   string
}

func newTestServer(t *testing.T, client fetcher.Client) testServer {
	t.Helper()

	var (
		repo = sqlitetest.NewRepo(t)
		enq  = &mockEnqueuer{}
		srvr = NewServer(ServerConfig{
			TokenHashKey:   []byte("test-hash-key-0123456789abcdefgh"),
			TokenBlockKey:  []byte("test-block-key-0123456789abcdefg"),
			AllowedOrigins: []string{"http://localhost:5173"},
		}, repo, fetcher.NewService(repo, client, fetcher.Config{}), summarizer.NewService(repo, summarizer.Template{}, enq))
	)
	t.Cleanup(func() { enq.AssertExpectations(t) })

	ts := testServer{Server: srvr, repo: repo, enqueuer: enq}
	ts.admin = ts.tokenFor(t, "admin@example.com", true)
	ts.reader = ts.tokenFor(t, "reader@example.com", false)

	return ts
}

func (ts testServer) tokenFor(t *testing.T, email string, admin bool) string {
	t.Helper()

	usr, err := ts.repo.InsertUser(context.Background(), digest.User{Email: email, PasswordHash: "x", IsAdmin: admin})
	require.NoError(t, err)
	tok, err := issueToken(ts.tokens, usr)
	require.NoError(t, err)

	return tok
}

func (ts testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)

	resp := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func seedArticle(t *testing.T, repo sqlite.Repo, url string) digest.Article {
	t.Helper()

	a, err := repo.InsertArticle(context.Background(), digest.Article{
		Title:         "Example Item",
		Content:       "Some example content about the news of the day.",
		URL:           url,
		PublishedDate: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		Source:        "Example Source",
	})
	require.NoError(t, err)

	return a
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, fetcher.Canned{})

	rec, body := ts.do(t, http.MethodGet, "/items/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication credentials were not provided.", body["error"])

	rec, _ = ts.do(t, http.MethodGet, "/items/", "not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/items/", ts.reader, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = ts.do(t, http.MethodPost, "/fetch/", ts.reader, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You do not have permission to perform this action.", body["error"])

	rec, _ = ts.do(t, http.MethodPost, "/fetch/", ts.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnmatchedRoutes(t *testing.T) {
	ts := newTestServer(t, fetcher.Canned{})

	rec, body := ts.do(t, http.MethodGet, "/nope/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found.", body["error"])

	rec, _ = ts.do(t, http.MethodGet, "/items/x/unknown/", ts.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = ts.do(t, http.MethodPatch, "/items/", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed.", body["error"])
}

func TestPostProcess_SameSummaryForRepeatRequests(t *testing.T) {
	var (
		ts      = newTestServer(t, fetcher.Canned{})
		article = seedArticle(t, ts.repo, "https://example.com/process")
	)
	ts.enqueuer.On("EnqueueSummary", mock.Anything, mock.MatchedBy(func(job digest.SummaryJob) bool {
		return job.ArticleID == article.ID && job.Model == "example-model-v1" && job.MaxWords == 150
	})).Return(nil).Once()

	rec, first := ts.do(t, http.MethodPost, "/process/", ts.admin, map[string]any{"item_id": article.ID})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, first["success"])
	assert.Equal(t, "Processing is in progress.", first["message"])

	rec, second := ts.do(t, http.MethodPost, "/process/", ts.admin, map[string]any{"item_id": article.ID})
	require.Equal(t, http.StatusAccepted, rec.Code)

	firstSum := first["summary"].(map[string]any)
	secondSum := second["summary"].(map[string]any)
	assert.Equal(t, firstSum["id"], secondSum["id"])
	assert.Equal(t, "pending", secondSum["status"])

	sums, err := ts.repo.ArticleSummaries(context.Background(), article.ID)
	require.NoError(t, err)
	assert.Len(t, sums, 1)
}

func TestPostProcess_Completed(t *testing.T) {
	var (
		ts      = newTestServer(t, fetcher.Canned{})
		article = seedArticle(t, ts.repo, "https://example.com/done")
	)
	_, err := ts.summarizer.ProcessItem(context.Background(), summarizer.ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)

	rec, body := ts.do(t, http.MethodPost, "/process/", ts.admin, map[string]any{"item_id": article.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Nil(t, body["message"])
	assert.Equal(t, "completed", body["summary"].(map[string]any)["status"])
}

func TestPostProcess_EnqueueFailure(t *testing.T) {
	var (
		ts      = newTestServer(t, fetcher.Canned{})
		article = seedArticle(t, ts.repo, "https://example.com/broken-queue")
	)
	ts.enqueuer.On("EnqueueSummary", mock.Anything, mock.Anything).Return(errors.New("queue unavailable")).Once()

	rec, body := ts.do(t, http.MethodPost, "/process/", ts.admin, map[string]any{"item_id": article.ID})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", body["error"])

	sum, err := ts.repo.SummaryFor(context.Background(), article.ID, digest.DefaultModel)
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusFailed, sum.Status)
}

func TestPostProcess_BadRequests(t *testing.T) {
	var (
		ts      = newTestServer(t, fetcher.Canned{})
		article = seedArticle(t, ts.repo, "https://example.com/bad")
	)

	rec, body := ts.do(t, http.MethodPost, "/process/", ts.admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "item_id is required", body["error"])

	rec, body = ts.do(t, http.MethodPost, "/process/", ts.admin, map[string]any{"item_id": "missing-art"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Example item not found", body["error"])

	rec, body = ts.do(t, http.MethodPost, "/process/", ts.admin, map[string]any{
		"item_id":          article.ID,
		"processing_model": "gpt-nothing",
		"max_words":        0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid input.", body["error"])
	assert.Len(t, body["details"], 2)
}

func TestGetStatus(t *testing.T) {
	var (
		ctx     = context.Background()
		ts      = newTestServer(t, fetcher.Canned{})
		article = seedArticle(t, ts.repo, "https://example.com/status")
	)

	rec, body := ts.do(t, http.MethodGet, "/status/missing-art/", ts.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Example item not found", body["error"])

	rec, body = ts.do(t, http.MethodGet, fmt.Sprintf("/status/%s/", article.ID), ts.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Processing summary not found", body["error"])

	sum, err := ts.summarizer.ProcessItem(ctx, summarizer.ProcessArgs{ArticleID: article.ID, Model: "example-model-pro"})
	require.NoError(t, err)

	// Default model still has nothing
	rec, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/status/%s/", article.ID), ts.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = ts.do(t, http.MethodGet, fmt.Sprintf("/status/%s/?processing_model=example-model-pro", article.ID), ts.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	got := body["summary"].(map[string]any)
	assert.Equal(t, sum.ID, got["id"])
	assert.Equal(t, article.ID, got["item_id"])
	assert.Equal(t, "Example Item", got["item_title"])
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, float64(*sum.WordCount), got["word_count"])
	assert.NotNil(t, got["completed_at"])
}

func TestGetSummaryStatus(t *testing.T) {
	var (
		ts      = newTestServer(t, fetcher.Canned{})
		article = seedArticle(t, ts.repo, "https://example.com/summary-status")
	)

	rec, body := ts.do(t, http.MethodGet, "/summary-status/nope-sum/", ts.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Processing summary not found", body["error"])

	sum, err := ts.repo.InsertSummary(context.Background(), digest.Summary{
		ArticleID:       article.ID,
		ProcessingModel: digest.DefaultModel,
		Status:          digest.SummaryStatusPending,
	})
	require.NoError(t, err)

	rec, body = ts.do(t, http.MethodGet, fmt.Sprintf("/summary-status/%s/", sum.ID), ts.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := body["status"].(map[string]any)
	assert.Equal(t, sum.ID, status["id"])
	assert.Equal(t, "pending", status["status"])
	assert.Nil(t, status["completed_at"])
	assert.Nil(t, status["error_message"])
}

func TestPostFetch(t *testing.T) {
	ts := newTestServer(t, fetcher.Canned{})

	rec, body := ts.do(t, http.MethodPost, "/fetch/", ts.admin, map[string]any{"query_params": map[string]any{"category": "tech"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Example fetch and save completed successfully.", body["message"])

	rec, body = ts.do(t, http.MethodGet, "/fetch-logs/", ts.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := body["fetch_logs"].([]any)
	require.Len(t, logs, 1)
	fl := logs[0].(map[string]any)
	assert.Equal(t, "SUCCESS", fl["status"])
	assert.Equal(t, float64(100), fl["success_rate"])
	assert.Equal(t, "tech", fl["query_params"].(map[string]any)["category"])

	rec, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/fetch-logs/%s/", fl["id"]), ts.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/fetch-logs/nope/", ts.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostFetch_Failure(t *testing.T) {
	ts := newTestServer(t, clientFunc(func(context.Context, map[string]any) (*fetcher.Response, error) {
		return nil, &digest.ServiceError{Msg: "API Error"}
	}))

	rec, body := ts.do(t, http.MethodPost, "/fetch/", ts.admin, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error.", body["error"])

	logs, err := ts.repo.FetchLogs(context.Background(), digest.ListArgs{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, digest.FetchStatusError, logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage, "API Error")

	count, err := ts.repo.CountArticles(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestItems_CRUD(t *testing.T) {
	ts := newTestServer(t, fetcher.Canned{})
	published := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	item := map[string]any{
		"title":          "  A Fine Headline  ",
		"content":        "Body text.",
		"url":            "https://example.com/fine",
		"published_date": published,
		"source":         "Example Source",
	}

	rec, created := ts.do(t, http.MethodPost, "/items/", ts.reader, item)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, created = ts.do(t, http.MethodPost, "/items/", ts.admin, item)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "A Fine Headline", created["title"])
	id := created["id"].(string)

	rec, body := ts.do(t, http.MethodPost, "/items/", ts.admin, item)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "url", body["details"].([]any)[0].(map[string]any)["field"])

	rec, body = ts.do(t, http.MethodGet, "/items/", ts.reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 1)
	assert.Equal(t, float64(1), body["pagination"].(map[string]any)["total"])

	item["title"] = "A Finer Headline"
	rec, body = ts.do(t, http.MethodPut, fmt.Sprintf("/items/%s/", id), ts.admin, item)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A Finer Headline", body["title"])

	rec, _ = ts.do(t, http.MethodPut, "/items/missing-art/", ts.admin, item)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = ts.do(t, http.MethodGet, fmt.Sprintf("/items/%s/summaries/", id), ts.reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["item_id"])
	assert.Empty(t, body["summaries"])

	rec, _ = ts.do(t, http.MethodDelete, fmt.Sprintf("/items/%s/", id), ts.admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = ts.do(t, http.MethodGet, fmt.Sprintf("/items/%s/", id), ts.reader, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Example item not found", body["error"])
}

func TestArticleReq_Validate(t *testing.T) {
	var (
		past   = time.Now().Add(-time.Hour)
		future = time.Now().Add(time.Hour)
		valid  = ArticleReq{
			Title:         "Valid title",
			Content:       "content",
			URL:           "https://example.com/a",
			PublishedDate: &past,
			Source:        "Source",
		}
	)

	tests := []struct {
		name   string
		mutate func(*ArticleReq)
		field  string
	}{
		{name: "short title", mutate: func(r *ArticleReq) { r.Title = "  ab  " }, field: "title"},
		{name: "profane title", mutate: func(r *ArticleReq) { r.Title = "This shit is news" }, field: "title"},
		{name: "future date", mutate: func(r *ArticleReq) { r.PublishedDate = &future }, field: "published_date"},
		{name: "missing date", mutate: func(r *ArticleReq) { r.PublishedDate = nil }, field: "published_date"},
		{name: "relative url", mutate: func(r *ArticleReq) { r.URL = "/a" }, field: "url"},
		{name: "ftp url", mutate: func(r *ArticleReq) { r.URL = "ftp://example.com/a" }, field: "url"},
		{name: "blank content", mutate: func(r *ArticleReq) { r.Content = " " }, field: "content"},
		{name: "blank source", mutate: func(r *ArticleReq) { r.Source = "" }, field: "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			err := req.Validate()
			require.Error(t, err)

			var derr *digerrs.Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, http.StatusBadRequest, derr.Status)
			require.Len(t, derr.Details, 1)
			assert.Equal(t, tt.field, derr.Details[0].Field)
		})
	}

	assert.NoError(t, valid.Validate())
}

func TestUsers(t *testing.T) {
	ts := newTestServer(t, fetcher.Canned{})
	creds := map[string]any{"email": "New@Example.com", "password": "correct-horse"}

	rec, body := ts.do(t, http.MethodPost, "/users/create/", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "new@example.com", body["email"])
	assert.Equal(t, false, body["is_admin"])
	assert.Nil(t, body["password"])

	rec, body = ts.do(t, http.MethodPost, "/users/create/", "", creds)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email", body["details"].([]any)[0].(map[string]any)["field"])

	rec, body = ts.do(t, http.MethodPost, "/users/create/", "", map[string]any{"email": "nope", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, body["details"], 2)

	rec, body = ts.do(t, http.MethodPost, "/users/token/", "", map[string]any{"email": "new@example.com", "password": "wrong-horse"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unable to log in with provided credentials.", body["error"])

	rec, body = ts.do(t, http.MethodPost, "/users/token/", "", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	tok := body["token"].(string)
	require.NotEmpty(t, tok)

	rec, body = ts.do(t, http.MethodGet, "/users/me/", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new@example.com", body["email"])
}

func TestPostSummaryAction(t *testing.T) {
	var (
		ctx     = context.Background()
		ts      = newTestServer(t, fetcher.Canned{})
		article = seedArticle(t, ts.repo, "https://example.com/actions")
	)
	sum, err := ts.summarizer.ProcessItem(ctx, summarizer.ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)

	rec, body := ts.do(t, http.MethodPost, "/summaries/actions/", ts.admin, map[string]any{"action": "mark_as_pending", "ids": []string{sum.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1 summaries marked as pending.", body["message"])
	assert.Equal(t, float64(1), body["updated"])

	got, err := ts.repo.Summary(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusPending, got.Status)

	rec, body = ts.do(t, http.MethodPost, "/summaries/actions/", ts.admin, map[string]any{"action": "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, body["details"], 2)
}

const readerPage = `<html><head><title>Reader</title></head><body>
<nav>menu menu menu</nav>
<article><h1>Reader</h1>
<p>%s</p>
<p>%s</p>
<script>alert("hi")</script>
</article></body></html>`

func TestGetItemReader(t *testing.T) {
	var (
		paragraph = strings.Repeat("The reader view keeps the main body of the article and drops the rest. ", 12)
		hits      atomic.Int32
		page      = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			fmt.Fprintf(w, readerPage, paragraph, paragraph)
		}))
	)
	defer page.Close()

	var (
		ts      = newTestServer(t, fetcher.Canned{})
		article = seedArticle(t, ts.repo, page.URL+"/story")
	)

	rec, body := ts.do(t, http.MethodGet, fmt.Sprintf("/items/%s/reader/", article.ID), ts.reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	content := body["reader_content"].(string)
	assert.Contains(t, content, "main body of the article")
	assert.NotContains(t, content, "<script")

	// Served from the cache the second time
	rec, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/items/%s/reader/", article.ID), ts.reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), hits.Load())

	rec, _ = ts.do(t, http.MethodGet, "/items/missing-art/reader/", ts.reader, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
