// Package errors is the structured error the HTTP layer turns into a response body.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error carries the status and the client-facing message of a failed request.
type Error struct {
	Status  int
	Err     error // The error this wraps
	Details []Detail
}

// Detail points at a single offending request field.
type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%d: %s", e.Status, e.Err)
	}
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type body struct {
	Error   string   `json:"error"`
	Details []Detail `json:"details,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	msg := http.StatusText(e.Status)
	if e.Err != nil {
		msg = e.Err.Error()
	}

	return json.Marshal(body{
		Error:   msg,
		Details: e.Details,
	})
}

func (e *Error) UnmarshalJSON(byts []byte) error {
	b := body{}
	if err := json.Unmarshal(byts, &b); err != nil {
		return err
	}

	e.Err = errors.New(b.Error)
	e.Details = b.Details
	return nil
}

// E builds an [*Error] from its arguments by type: a string or error is the
// message, an int the status, and Details are appended. Status defaults to 500.
func E(args ...any) *Error {
	ret := &Error{
		Status: http.StatusInternalServerError,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}
