package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	goaway "github.com/TwiN/go-away"
	readability "github.com/go-shiori/go-readability"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/sym01/htmlsanitizer"

	"github.com/jdholdren/digest/internal/digest"
	digerrs "github.com/jdholdren/digest/internal/errors"
	"github.com/jdholdren/digest/internal/serverutil"
)

const (
	minTitleLength = 3

	msgItemNotFound    = "Example item not found"
	msgSummaryNotFound = "Processing summary not found"
)

var errItemNotFound = digerrs.E(http.StatusNotFound, msgItemNotFound)

type ArticleReq struct {
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	URL           string     `json:"url"`
	PublishedDate *time.Time `json:"published_date"`
	Author        *string    `json:"author"`
	Source        string     `json:"source"`
	ImageURL      *string    `json:"image_url"`
	Description   *string    `json:"description"`
	ExampleSource string     `json:"example_source"`
}

func (req ArticleReq) Validate() error {
	var details []digerrs.Detail
	detail := func(field, msg string) {
		details = append(details, digerrs.Detail{Field: field, Error: msg})
	}

	title := strings.TrimSpace(req.Title)
	switch {
	case len(title) < minTitleLength:
		detail("title", "Title must be at least 3 characters long.")
	case goaway.IsProfane(title):
		detail("title", "Title contains profanity.")
	}

	if req.PublishedDate == nil {
		detail("published_date", "This field is required.")
	} else if req.PublishedDate.After(time.Now()) {
		detail("published_date", "Published date cannot be in the future.")
	}

	if u, err := url.Parse(req.URL); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		detail("url", "Enter a valid URL.")
	}
	if req.ImageURL != nil && *req.ImageURL != "" {
		if u, err := url.Parse(*req.ImageURL); err != nil || !u.IsAbs() {
			detail("image_url", "Enter a valid URL.")
		}
	}
	if strings.TrimSpace(req.Content) == "" {
		detail("content", "This field may not be blank.")
	}
	if strings.TrimSpace(req.Source) == "" {
		detail("source", "This field may not be blank.")
	}

	if len(details) > 0 {
		return digerrs.E(http.StatusBadRequest, "Invalid input.", details)
	}

	return nil
}

func (req ArticleReq) article() digest.Article {
	return digest.Article{
		Title:         strings.TrimSpace(req.Title),
		Content:       req.Content,
		URL:           req.URL,
		PublishedDate: *req.PublishedDate,
		Author:        req.Author,
		Source:        strings.TrimSpace(req.Source),
		ImageURL:      req.ImageURL,
		Description:   req.Description,
		ExampleSource: req.ExampleSource,
	}
}

type ArticleResp struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	URL           string    `json:"url"`
	PublishedDate time.Time `json:"published_date"`
	Author        *string   `json:"author"`
	Source        string    `json:"source"`
	ImageURL      *string   `json:"image_url"`
	Description   *string   `json:"description"`
	ExampleSource string    `json:"example_source"`
	CreatedAt     time.Time `json:"created_at"`
}

func apiArticle(a digest.Article) ArticleResp {
	return ArticleResp{
		ID:            a.ID,
		Title:         a.Title,
		Content:       a.Content,
		URL:           a.URL,
		PublishedDate: a.PublishedDate,
		Author:        a.Author,
		Source:        a.Source,
		ImageURL:      a.ImageURL,
		Description:   a.Description,
		ExampleSource: a.ExampleSource,
		CreatedAt:     a.CreatedAt,
	}
}

// Maps the store errors every article route can hit.
func articleErr(err error) error {
	switch {
	case errors.Is(err, digest.ErrArticleNotFound):
		return errItemNotFound
	case errors.Is(err, digest.ErrConflict):
		return digerrs.E(http.StatusBadRequest, "Invalid input.", digerrs.Detail{Field: "url", Error: "article with this url already exists."})
	}
	return err
}

type ItemsResp struct {
	Items      []ArticleResp  `json:"items"`
	Pagination paginationMeta `json:"pagination"`
}

func (s Server) getItems(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx  = r.Context()
		args = parsePagination(r)
	)

	articles, err := s.repo.Articles(ctx, args)
	if err != nil {
		return err
	}
	total, err := s.repo.CountArticles(ctx)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, ItemsResp{
		Items:      lo.Map(articles, func(a digest.Article, _ int) ArticleResp { return apiArticle(a) }),
		Pagination: pagination(args, total),
	})
}

func (s Server) postItem(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[ArticleReq](r.Body)
	if err != nil {
		return err
	}

	a, err := s.repo.InsertArticle(r.Context(), req.article())
	if err != nil {
		return articleErr(err)
	}

	return serverutil.WriteJSON(w, http.StatusCreated, apiArticle(a))
}

func (s Server) getItem(w http.ResponseWriter, r *http.Request) error {
	a, err := s.repo.Article(r.Context(), mux.Vars(r)["itemID"])
	if err != nil {
		return articleErr(err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, apiArticle(a))
}

func (s Server) putItem(w http.ResponseWriter, r *http.Request) error {
	itemID := mux.Vars(r)["itemID"]
	if _, err := s.repo.Article(r.Context(), itemID); err != nil {
		return articleErr(err)
	}

	req, err := serverutil.DecodeValid[ArticleReq](r.Body)
	if err != nil {
		return err
	}

	update := req.article()
	update.ID = itemID
	a, err := s.repo.UpdateArticle(r.Context(), update)
	if err != nil {
		return articleErr(err)
	}
	s.readerRespCache.Remove(itemID)

	return serverutil.WriteJSON(w, http.StatusOK, apiArticle(a))
}

func (s Server) deleteItem(w http.ResponseWriter, r *http.Request) error {
	itemID := mux.Vars(r)["itemID"]
	if err := s.repo.DeleteArticle(r.Context(), itemID); err != nil {
		return articleErr(err)
	}
	s.readerRespCache.Remove(itemID)

	w.WriteHeader(http.StatusNoContent)
	return nil
}

type ItemSummariesResp struct {
	ItemID    string        `json:"item_id"`
	Summaries []SummaryResp `json:"summaries"`
}

func (s Server) getItemSummaries(w http.ResponseWriter, r *http.Request) error {
	itemID := mux.Vars(r)["itemID"]
	sums, err := s.summarizer.ItemSummaries(r.Context(), itemID)
	if err != nil {
		return articleErr(err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, ItemSummariesResp{
		ItemID:    itemID,
		Summaries: lo.Map(sums, func(sum digest.Summary, _ int) SummaryResp { return apiSummary(sum) }),
	})
}

type ReaderResp struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	PublishedDate time.Time `json:"published_date"`
	ReaderContent string    `json:"reader_content"`
}

// Fetches the article's page and returns its main content, stripped down and sanitized.
func (s Server) getItemReader(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		itemID = mux.Vars(r)["itemID"]
	)

	a, err := s.repo.Article(ctx, itemID)
	if err != nil {
		return articleErr(err)
	}

	// Cache results for less processing and prevent refetches
	if resp, ok := s.readerRespCache.Get(itemID); ok {
		return serverutil.WriteJSON(w, http.StatusOK, resp)
	}

	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("error with the article's url: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return err
	}
	resp, err := s.fetchClient.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching article page: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("article page returned status %d", resp.StatusCode)
	}

	parser := readability.NewParser()
	parsed, err := parser.Parse(resp.Body, u)
	if err != nil {
		return fmt.Errorf("error parsing article page: %s", err)
	}

	contents, err := htmlsanitizer.NewHTMLSanitizer().SanitizeString(parsed.Content)
	if err != nil {
		return err
	}

	ret := ReaderResp{
		ID:            a.ID,
		URL:           a.URL,
		Title:         a.Title,
		PublishedDate: a.PublishedDate,
		ReaderContent: contents,
	}
	s.readerRespCache.Add(a.ID, ret)

	return serverutil.WriteJSON(w, http.StatusOK, ret)
}
