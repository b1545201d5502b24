package worker

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/jdholdren/digest/internal/digest"
	"github.com/jdholdren/digest/internal/summarizer"
)

// Error types
//
// These are error types in the temporal sense, not the general "go" error types sense.
// They are used since between activities error types are marshaled and type information is lost.
const (
	errTypeInternal  = "internal"
	errTypeRateLimit = "rateLimit"
	errTypeNotFound  = "notFound"
	errTypeConfig    = "config"
	errTypeUpstream  = "upstream"
)

// Never worth another attempt.
var nonRetryableErrTypes = []string{errTypeNotFound, errTypeConfig}

// appErr classifies err for the retry policy. Not-found and configuration errors
// stop retries; everything else may be attempted again.
func appErr(msg string, err error) error {
	if err == nil {
		return nil
	}

	var svcErr *digest.ServiceError
	switch {
	case errors.Is(err, digest.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(msg, errTypeNotFound, err)
	case errors.Is(err, digest.ErrConfiguration):
		return temporal.NewNonRetryableApplicationError(msg, errTypeConfig, err)
	case errors.Is(err, summarizer.ErrRateLimited):
		return temporal.NewApplicationError(msg, errTypeRateLimit, err)
	case errors.As(err, &svcErr):
		return temporal.NewApplicationError(msg, errTypeUpstream, err)
	default:
		return temporal.NewApplicationError(msg, errTypeInternal, err)
	}
}

// errType returns the temporal error type carried by err, if any.
func errType(err error) string {
	var ae *temporal.ApplicationError
	if !errors.As(err, &ae) {
		return ""
	}
	return ae.Type()
}
