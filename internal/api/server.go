// Package api serves the article, fetch and summary endpoints over HTTP.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdholdren/digest/internal/digest"
	"github.com/jdholdren/digest/internal/fetcher"
	"github.com/jdholdren/digest/internal/serverutil"
	"github.com/jdholdren/digest/internal/summarizer"
)

type (
	// Server is the HTTP face of the record store and the two services.
	Server struct {
		*http.Server

		fetchClient     *http.Client
		readerRespCache *lru.Cache[string, ReaderResp]

		repo       digest.Repository
		fetcher    *fetcher.Service
		summarizer *summarizer.Service

		tokens *securecookie.SecureCookie
		now    func() time.Time
	}

	ServerConfig struct {
		Port           int
		TokenHashKey   []byte
		TokenBlockKey  []byte
		TokenMaxAge    time.Duration
		AllowedOrigins []string
	}
)

func NewServer(config ServerConfig, repo digest.Repository, fetch *fetcher.Service, sum *summarizer.Service) *Server {
	var (
		r        = serverutil.ErrRouter{Router: mux.NewRouter()}
		cache, _ = lru.New[string, ReaderResp](1024)
	)

	tokens := securecookie.New(config.TokenHashKey, config.TokenBlockKey)
	if config.TokenMaxAge > 0 {
		tokens.MaxAge(int(config.TokenMaxAge.Seconds()))
	}

	srvr := Server{
		fetchClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		readerRespCache: cache,
		repo:            repo,
		fetcher:         fetch,
		summarizer:      sum,
		tokens:          tokens,
		now:             time.Now,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second, // Inline fetches talk to the upstream
			Handler: handlers.CORS(
				handlers.AllowedOrigins(config.AllowedOrigins),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type", "authorization"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything

	// Unmatched requests never reach the auth middleware
	r.NotFoundHandler = serverutil.HandlerFuncE(func(http.ResponseWriter, *http.Request) error {
		return errRouteNotFound
	})
	r.MethodNotAllowedHandler = serverutil.HandlerFuncE(func(http.ResponseWriter, *http.Request) error {
		return errMethodNotAllowed
	})

	// Accounts
	r.HandleFuncE("/users/create/", srvr.postUser).Methods(http.MethodPost)
	r.HandleFuncE("/users/token/", srvr.postToken).Methods(http.MethodPost)

	authed := serverutil.ErrRouter{Router: r.NewRoute().Subrouter()}
	authed.Use(requireUserMiddleware(srvr.tokens, repo))
	authed.HandleFuncE("/users/me/", srvr.getMe).Methods(http.MethodGet)

	// Articles
	authed.HandleFuncE("/items/", srvr.getItems).Methods(http.MethodGet)
	authed.HandleFuncE("/items/{itemID}/", srvr.getItem).Methods(http.MethodGet)
	authed.HandleFuncE("/items/{itemID}/summaries/", srvr.getItemSummaries).Methods(http.MethodGet)
	authed.HandleFuncE("/items/{itemID}/reader/", srvr.getItemReader).Methods(http.MethodGet)

	authed.HandleFuncE("/items/", adminOnly(srvr.postItem)).Methods(http.MethodPost)
	authed.HandleFuncE("/items/{itemID}/", adminOnly(srvr.putItem)).Methods(http.MethodPut)
	authed.HandleFuncE("/items/{itemID}/", adminOnly(srvr.deleteItem)).Methods(http.MethodDelete)

	// Fetching
	authed.HandleFuncE("/fetch/", adminOnly(srvr.postFetch)).Methods(http.MethodPost)
	authed.HandleFuncE("/fetch-logs/", adminOnly(srvr.getFetchLogs)).Methods(http.MethodGet)
	authed.HandleFuncE("/fetch-logs/{fetchLogID}/", adminOnly(srvr.getFetchLog)).Methods(http.MethodGet)

	// Summaries
	authed.HandleFuncE("/process/", adminOnly(srvr.postProcess)).Methods(http.MethodPost)
	authed.HandleFuncE("/status/{itemID}/", adminOnly(srvr.getStatus)).Methods(http.MethodGet)
	authed.HandleFuncE("/summary-status/{summaryID}/", adminOnly(srvr.getSummaryStatus)).Methods(http.MethodGet)
	authed.HandleFuncE("/summaries/actions/", adminOnly(srvr.postSummaryAction)).Methods(http.MethodPost)

	slog.Debug("configured api server", "port", config.Port)

	return &srvr
}
