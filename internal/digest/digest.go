// Package digest holds the domain types shared by the fetcher, the summarizer,
// the worker and the API, along with the storage and queue surfaces they depend on.
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")

	// The two not-found reasons a status lookup can report.
	ErrArticleNotFound = fmt.Errorf("article: %w", ErrNotFound)
	ErrSummaryNotFound = fmt.Errorf("summary: %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user: %w", ErrNotFound)

	// ErrConfiguration is returned by constructors missing a required credential.
	ErrConfiguration = errors.New("configuration error")
)

// ServiceError is a failure talking to, or understanding, an upstream service.
type ServiceError struct {
	Msg string
	Err error // The error this wraps, if any
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

type (
	// Repository is everything the services need from the record store.
	Repository interface {
		ArticleRepo
		FetchLogRepo
		SummaryRepo
		UserRepo
	}

	ArticleRepo interface {
		Article(ctx context.Context, id string) (Article, error)
		Articles(ctx context.Context, args ListArgs) ([]Article, error)
		CountArticles(ctx context.Context) (int, error)
		ArticleExistsByURL(ctx context.Context, url string) (bool, error)
		InsertArticle(ctx context.Context, a Article) (Article, error)
		UpdateArticle(ctx context.Context, a Article) (Article, error)
		DeleteArticle(ctx context.Context, id string) error
	}

	// ListArgs is offset pagination for the list queries.
	ListArgs struct {
		Limit  uint64
		Offset uint64
	}
)

// Article is a fetched content item. The URL is unique across all articles.
type Article struct {
	ID            string    `db:"id"`
	Title         string    `db:"title"`
	Content       string    `db:"content"`
	URL           string    `db:"url"`
	PublishedDate time.Time `db:"published_date"`
	Author        *string   `db:"author"`
	Source        string    `db:"source"`
	ImageURL      *string   `db:"image_url"`
	Description   *string   `db:"description"`
	ExampleSource string    `db:"example_source"`
	CreatedAt     time.Time `db:"created_at"`
}
