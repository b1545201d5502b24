package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"

	"github.com/jdholdren/digest/internal/digest"
	digerrs "github.com/jdholdren/digest/internal/errors"
	"github.com/jdholdren/digest/internal/logger"
	"github.com/jdholdren/digest/internal/serverutil"
)

const tokenName = "digest_token"

// Describes what's persisted inside a user's token.
type tokenState struct {
	UserID string
}

type userCtxKey struct{}

// Encodes a token for the user.
func issueToken(sc *securecookie.SecureCookie, usr digest.User) (string, error) {
	return sc.Encode(tokenName, tokenState{UserID: usr.ID})
}

// Fetches the token state tied to the request, the zero value if there's none or it doesn't decode.
func token(r *http.Request, sc *securecookie.SecureCookie) tokenState {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Token") || value == "" {
		return tokenState{}
	}

	state := tokenState{}
	if err := sc.Decode(tokenName, strings.TrimSpace(value), &state); err != nil {
		slog.DebugContext(r.Context(), "error decoding token", "err", err)
		return tokenState{}
	}

	return state
}

// Gets the user that requireUserMiddleware attached.
func requestUser(ctx context.Context) (digest.User, bool) {
	usr, ok := ctx.Value(userCtxKey{}).(digest.User)
	return usr, ok
}

func writeErr(w http.ResponseWriter, r *http.Request, err *digerrs.Error) {
	if err := serverutil.WriteJSON(w, err.Status, err); err != nil {
		slog.ErrorContext(r.Context(), "error writing response", "err", err)
	}
}

var (
	errUnauthenticated = digerrs.E(http.StatusUnauthorized, "Authentication credentials were not provided.")
	errForbidden       = digerrs.E(http.StatusForbidden, "You do not have permission to perform this action.")

	errRouteNotFound    = digerrs.E(http.StatusNotFound, "Not found.")
	errMethodNotAllowed = digerrs.E(http.StatusMethodNotAllowed, "Method not allowed.")
)

func requireUserMiddleware(sc *securecookie.SecureCookie, users digest.UserRepo) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := token(r, sc)
			if state.UserID == "" {
				writeErr(w, r, errUnauthenticated)
				return
			}

			usr, err := users.User(r.Context(), state.UserID)
			if errors.Is(err, digest.ErrNotFound) {
				writeErr(w, r, errUnauthenticated)
				return
			}
			if err != nil {
				slog.ErrorContext(r.Context(), "error loading token user", "err", err)
				writeErr(w, r, digerrs.E(http.StatusInternalServerError, "Internal server error"))
				return
			}

			ctx := logger.Ctx(r.Context(), slog.String("user_id", usr.ID))
			ctx = context.WithValue(ctx, userCtxKey{}, usr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// adminOnly guards a handler that sits behind requireUserMiddleware.
func adminOnly(next serverutil.HandlerFuncE) serverutil.HandlerFuncE {
	return func(w http.ResponseWriter, r *http.Request) error {
		usr, ok := requestUser(r.Context())
		if !ok {
			return errUnauthenticated
		}
		if !usr.IsAdmin {
			return errForbidden
		}

		return next(w, r)
	}
}
