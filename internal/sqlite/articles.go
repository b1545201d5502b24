package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jdholdren/digest/internal/digest"
)

const articleNamespace = "-art"

func (r Repo) Article(ctx context.Context, id string) (digest.Article, error) {
	const q = `SELECT * FROM articles WHERE id = ?;`

	var a digest.Article
	err := r.db.GetContext(ctx, &a, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return digest.Article{}, digest.ErrArticleNotFound
	}
	if err != nil {
		return digest.Article{}, fmt.Errorf("error fetching article: %s", err)
	}

	return a, nil
}

// Articles lists articles, newest publication first.
func (r Repo) Articles(ctx context.Context, args digest.ListArgs) ([]digest.Article, error) {
	q := sq.Select("*").From("articles").OrderBy("published_date DESC", "created_at DESC")
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

	articles := []digest.Article{}
	if err := r.db.SelectContext(ctx, &articles, query, qArgs...); err != nil {
		return nil, fmt.Errorf("error selecting articles: %s", err)
	}

	return articles, nil
}

func (r Repo) CountArticles(ctx context.Context) (int, error) {
	const q = "SELECT COUNT(*) FROM articles;"

	var count int
	if err := r.db.GetContext(ctx, &count, q); err != nil {
		return 0, fmt.Errorf("error counting articles: %s", err)
	}

	return count, nil
}

func (r Repo) ArticleExistsByURL(ctx context.Context, url string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM articles WHERE url = ?);`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, q, url); err != nil {
		return false, fmt.Errorf("error checking article url: %s", err)
	}

	return exists, nil
}

func (r Repo) InsertArticle(ctx context.Context, a digest.Article) (digest.Article, error) {
	const q = `INSERT INTO articles (
		id, title, content, url, published_date, author, source, image_url, description, example_source, created_at
	) VALUES (
		:id, :title, :content, :url, :published_date, :author, :source, :image_url, :description, :example_source, :created_at
	);`

	a.ID = uuid.NewString() + articleNamespace
	a.CreatedAt = r.now()
	a.PublishedDate = a.PublishedDate.UTC()
	_, err := r.db.NamedExecContext(ctx, q, a)
	if sqliteCode(err) == codeConstraintUnique {
		return digest.Article{}, fmt.Errorf("article with url %q: %w", a.URL, digest.ErrConflict)
	}
	if err != nil {
		return digest.Article{}, fmt.Errorf("error inserting article: %s", err)
	}

	return r.Article(ctx, a.ID)
}

// UpdateArticle overwrites every editable field of the article with the given ID.
func (r Repo) UpdateArticle(ctx context.Context, a digest.Article) (digest.Article, error) {
	const q = `UPDATE articles SET
		title = :title,
		content = :content,
		url = :url,
		published_date = :published_date,
		author = :author,
		source = :source,
		image_url = :image_url,
		description = :description,
		example_source = :example_source
	WHERE id = :id;`

	a.PublishedDate = a.PublishedDate.UTC()
	res, err := r.db.NamedExecContext(ctx, q, a)
	if sqliteCode(err) == codeConstraintUnique {
		return digest.Article{}, fmt.Errorf("article with url %q: %w", a.URL, digest.ErrConflict)
	}
	if err != nil {
		return digest.Article{}, fmt.Errorf("error updating article: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return digest.Article{}, digest.ErrArticleNotFound
	}

	return r.Article(ctx, a.ID)
}

// DeleteArticle removes the article, and through the foreign key, its summaries.
func (r Repo) DeleteArticle(ctx context.Context, id string) error {
	const q = `DELETE FROM articles WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("error deleting article: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return digest.ErrArticleNotFound
	}

	return nil
}
