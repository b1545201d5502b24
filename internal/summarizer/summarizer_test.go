package summarizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/digest/internal/digest"
	"github.com/jdholdren/digest/internal/sqlite"
	"github.com/jdholdren/digest/internal/sqlite/sqlitetest"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueSummary(ctx context.Context, job digest.SummaryJob) error {
	return m.Called(ctx, job).Error(0)
}

type generatorFunc func(ctx context.Context, args GenerateArgs) (Generation, error)

func (f generatorFunc) Generate(ctx context.Context, args GenerateArgs) (Generation, error) {
	return f(ctx, args)
}

func seedArticle(t *testing.T, repo sqlite.Repo) digest.Article {
	t.Helper()

	a, err := repo.InsertArticle(context.Background(), digest.Article{
		Title:         "Test Article",
		Content:       "one two three four",
		URL:           "https://example.com/test",
		PublishedDate: time.Now().Add(-time.Hour),
		Source:        "Test Source",
	})
	require.NoError(t, err)

	return a
}

func TestProcessItem(t *testing.T) {
	var (
		ctx     = context.Background()
		repo    = sqlitetest.NewRepo(t)
		article = seedArticle(t, repo)
		svc     = NewService(repo, Template{}, nil)
	)

	sum, err := svc.ProcessItem(ctx, ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusCompleted, sum.Status)
	assert.Equal(t, digest.DefaultModel, sum.ProcessingModel)
	require.NotNil(t, sum.SummaryText)
	assert.Equal(t, "This is an example summary of 'Test Article' with approximately 150 words. The content has been processed using example-model-v1.", *sum.SummaryText)
	require.NotNil(t, sum.WordCount)
	assert.Equal(t, 19, *sum.WordCount)
	require.NotNil(t, sum.ProcessingCost)
	assert.InDelta(t, 0.004, *sum.ProcessingCost, 1e-9)
	assert.NotNil(t, sum.CompletedAt)

	again, err := svc.ProcessItem(ctx, ProcessArgs{ArticleID: article.ID, MaxWords: 10})
	require.NoError(t, err)
	assert.Equal(t, sum.ID, again.ID)
	assert.Equal(t, *sum.SummaryText, *again.SummaryText)

	// Another model is another summary
	other, err := svc.ProcessItem(ctx, ProcessArgs{ArticleID: article.ID, Model: "example-model-pro"})
	require.NoError(t, err)
	assert.NotEqual(t, sum.ID, other.ID)
}

func TestProcessItem_MissingArticle(t *testing.T) {
	svc := NewService(sqlitetest.NewRepo(t), Template{}, nil)

	_, err := svc.ProcessItem(context.Background(), ProcessArgs{ArticleID: "missing"})
	require.ErrorIs(t, err, digest.ErrArticleNotFound)
}

func TestProcessItem_GeneratorFailure(t *testing.T) {
	var (
		ctx     = context.Background()
		repo    = sqlitetest.NewRepo(t)
		article = seedArticle(t, repo)
		fail    = true
		gen     = generatorFunc(func(ctx context.Context, args GenerateArgs) (Generation, error) {
			if fail {
				return Generation{}, errors.New("model unavailable")
			}
			return Template{}.Generate(ctx, args)
		})
		svc = NewService(repo, gen, nil)
	)

	_, err := svc.ProcessItem(ctx, ProcessArgs{ArticleID: article.ID})
	require.EqualError(t, err, "model unavailable")

	sum, err := repo.SummaryFor(ctx, article.ID, digest.DefaultModel)
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusFailed, sum.Status)
	require.NotNil(t, sum.ErrorMessage)
	assert.Equal(t, "model unavailable", *sum.ErrorMessage)

	// The same row is reused once the generator recovers
	fail = false
	done, err := svc.ProcessItem(ctx, ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)
	assert.Equal(t, sum.ID, done.ID)
	assert.Equal(t, digest.SummaryStatusCompleted, done.Status)
	assert.Nil(t, done.ErrorMessage)
}

func TestProcessItemAsync_SameSummary(t *testing.T) {
	var (
		ctx     = context.Background()
		repo    = sqlitetest.NewRepo(t)
		article = seedArticle(t, repo)
		enq     = &mockEnqueuer{}
		svc     = NewService(repo, Template{}, enq)
	)
	enq.On("EnqueueSummary", mock.Anything, mock.MatchedBy(func(job digest.SummaryJob) bool {
		return job.ArticleID == article.ID && job.Model == digest.DefaultModel && job.MaxWords == 150
	})).Return(nil).Once()

	first, err := svc.ProcessItemAsync(ctx, ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusPending, first.Status)

	second, err := svc.ProcessItemAsync(ctx, ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	enq.AssertExpectations(t)
	enq.AssertNumberOfCalls(t, "EnqueueSummary", 1)

	summaries, err := repo.ArticleSummaries(ctx, article.ID)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestProcessItemAsync_Completed(t *testing.T) {
	var (
		ctx     = context.Background()
		repo    = sqlitetest.NewRepo(t)
		article = seedArticle(t, repo)
		enq     = &mockEnqueuer{}
		svc     = NewService(repo, Template{}, enq)
	)

	done, err := svc.ProcessItem(ctx, ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)

	got, err := svc.ProcessItemAsync(ctx, ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)
	assert.Equal(t, done.ID, got.ID)
	assert.Equal(t, digest.SummaryStatusCompleted, got.Status)
	enq.AssertNotCalled(t, "EnqueueSummary", mock.Anything, mock.Anything)
}

func TestProcessItemAsync_RetriesFailed(t *testing.T) {
	var (
		ctx     = context.Background()
		repo    = sqlitetest.NewRepo(t)
		article = seedArticle(t, repo)
		enq     = &mockEnqueuer{}
		svc     = NewService(repo, Template{}, enq)
		msg     = "earlier failure"
	)

	failed, err := repo.InsertSummary(ctx, digest.Summary{
		ArticleID:    article.ID,
		Status:       digest.SummaryStatusFailed,
		ErrorMessage: &msg,
	})
	require.NoError(t, err)
	enq.On("EnqueueSummary", mock.Anything, mock.MatchedBy(func(job digest.SummaryJob) bool {
		return job.SummaryID == failed.ID
	})).Return(nil).Once()

	got, err := svc.ProcessItemAsync(ctx, ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)
	assert.Equal(t, failed.ID, got.ID)
	assert.Equal(t, digest.SummaryStatusPending, got.Status)
	enq.AssertExpectations(t)

	stored, err := repo.Summary(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusPending, stored.Status)
	assert.Nil(t, stored.ErrorMessage)
}

func TestProcessItemAsync_EnqueueFailure(t *testing.T) {
	var (
		ctx     = context.Background()
		repo    = sqlitetest.NewRepo(t)
		article = seedArticle(t, repo)
		enq     = &mockEnqueuer{}
		svc     = NewService(repo, Template{}, enq)
	)
	enq.On("EnqueueSummary", mock.Anything, mock.Anything).Return(errors.New("queue down"))

	_, err := svc.ProcessItemAsync(ctx, ProcessArgs{ArticleID: article.ID})
	require.ErrorContains(t, err, "queue down")

	sum, err := repo.SummaryFor(ctx, article.ID, digest.DefaultModel)
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusFailed, sum.Status)
	require.NotNil(t, sum.ErrorMessage)
	assert.Contains(t, *sum.ErrorMessage, "queue down")
}

func TestItemSummary_NotFoundReasons(t *testing.T) {
	var (
		ctx     = context.Background()
		repo    = sqlitetest.NewRepo(t)
		article = seedArticle(t, repo)
		svc     = NewService(repo, Template{}, nil)
	)

	_, err := svc.ItemSummary(ctx, "missing", "")
	require.ErrorIs(t, err, digest.ErrArticleNotFound)

	_, err = svc.ItemSummary(ctx, article.ID, "")
	require.ErrorIs(t, err, digest.ErrSummaryNotFound)
	require.NotErrorIs(t, err, digest.ErrArticleNotFound)

	// Any status is reported
	pending, err := repo.InsertSummary(ctx, digest.Summary{ArticleID: article.ID})
	require.NoError(t, err)
	got, err := svc.ItemSummary(ctx, article.ID, "")
	require.NoError(t, err)
	assert.Equal(t, pending.ID, got.ID)
	assert.Equal(t, digest.SummaryStatusPending, got.Status)

	list, err := svc.ItemSummaries(ctx, article.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.ItemSummaries(ctx, "missing")
	require.ErrorIs(t, err, digest.ErrArticleNotFound)
}

func TestBulk(t *testing.T) {
	var (
		ctx     = context.Background()
		repo    = sqlitetest.NewRepo(t)
		article = seedArticle(t, repo)
		svc     = NewService(repo, Template{}, nil)
		msg     = "broken"
		text    = "five words in this text"
	)

	failed, err := repo.InsertSummary(ctx, digest.Summary{ArticleID: article.ID, Status: digest.SummaryStatusFailed, ErrorMessage: &msg})
	require.NoError(t, err)
	done, err := repo.InsertSummary(ctx, digest.Summary{ArticleID: article.ID, ProcessingModel: "example-model-v2", Status: digest.SummaryStatusCompleted, SummaryText: &text})
	require.NoError(t, err)

	n, err := svc.Bulk(ctx, ActionMarkPending, []string{failed.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	got, err := repo.Summary(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusPending, got.Status)
	assert.Nil(t, got.ErrorMessage)

	n, err = svc.Bulk(ctx, ActionRecalculateCost, []string{failed.ID, done.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	got, err = repo.Summary(ctx, done.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ProcessingCost)
	assert.InDelta(t, 0.005, *got.ProcessingCost, 1e-9)

	n, err = svc.Bulk(ctx, ActionMarkFailed, []string{failed.ID, done.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = svc.Bulk(ctx, "explode", []string{done.ID})
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestReapStale(t *testing.T) {
	var (
		ctx     = context.Background()
		repo    = sqlitetest.NewRepo(t)
		article = seedArticle(t, repo)
		svc     = NewService(repo, Template{}, nil)
	)

	stuck, err := repo.InsertSummary(ctx, digest.Summary{ArticleID: article.ID, Status: digest.SummaryStatusInProgress})
	require.NoError(t, err)

	n, err := svc.ReapStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = svc.ReapStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.Summary(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "1h0m0s")
}

func TestReapStale_SparesRequeuedSummary(t *testing.T) {
	var (
		ctx     = context.Background()
		dbx     = sqlitetest.NewDB(t)
		repo    = sqlite.New(dbx)
		article = seedArticle(t, repo)
		enq     = &mockEnqueuer{}
		svc     = NewService(repo, Template{}, enq)
		msg     = "earlier failure"
		longAgo = time.Now().UTC().Add(-2 * time.Hour)
	)

	failed, err := repo.InsertSummary(ctx, digest.Summary{
		ArticleID:    article.ID,
		Status:       digest.SummaryStatusFailed,
		ErrorMessage: &msg,
	})
	require.NoError(t, err)
	dbx.MustExec(`UPDATE summaries SET created_at = ?, updated_at = ? WHERE id = ?;`, longAgo, longAgo, failed.ID)
	enq.On("EnqueueSummary", mock.Anything, mock.Anything).Return(nil).Once()

	got, err := svc.ProcessItemAsync(ctx, ProcessArgs{ArticleID: article.ID})
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusPending, got.Status)

	n, err := svc.ReapStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := repo.Summary(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, digest.SummaryStatusPending, stored.Status)
	assert.True(t, stored.UpdatedAt.After(longAgo))
	assert.True(t, stored.CreatedAt.Before(stored.UpdatedAt))

	// Bulk requeues reset the clock too
	dbx.MustExec(`UPDATE summaries SET status = ?, updated_at = ? WHERE id = ?;`, digest.SummaryStatusFailed, longAgo, failed.ID)
	updated, err := svc.Bulk(ctx, ActionMarkPending, []string{failed.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	n, err = svc.ReapStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessItemAsync_Concurrent(t *testing.T) {
	const callers = 16

	var (
		ctx     = context.Background()
		repo    = sqlite.New(sqlitetest.NewFileDB(t))
		article = seedArticle(t, repo)
		enq     = &mockEnqueuer{}
		svc     = NewService(repo, Template{}, enq)
	)
	enq.On("EnqueueSummary", mock.Anything, mock.Anything).Return(nil)

	var (
		wg   sync.WaitGroup
		ids  = make([]string, callers)
		errs = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := svc.ProcessItemAsync(ctx, ProcessArgs{ArticleID: article.ID})
			ids[i], errs[i] = sum.ID, err
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	enq.AssertNumberOfCalls(t, "EnqueueSummary", 1)

	summaries, err := repo.ArticleSummaries(ctx, article.ID)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}
