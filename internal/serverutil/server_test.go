package serverutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	digerrs "github.com/jdholdren/digest/internal/errors"
)

type nameReq struct {
	Name string `json:"name"`
}

func (r nameReq) Validate() error {
	if r.Name == "" {
		return digerrs.E(http.StatusBadRequest, "invalid request", digerrs.Detail{Field: "name", Error: "required"})
	}
	return nil
}

func TestDecodeValid(t *testing.T) {
	req, err := DecodeValid[nameReq](strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", req.Name)

	_, err = DecodeValid[nameReq](strings.NewReader(`{}`))
	sErr := &digerrs.Error{}
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, http.StatusBadRequest, sErr.Status)

	_, err = DecodeValid[nameReq](strings.NewReader(`not json`))
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, http.StatusBadRequest, sErr.Status)
}

func TestHandlerFuncE(t *testing.T) {
	tcs := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "structured",
			err:        digerrs.E(http.StatusNotFound, "Example item not found"),
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"Example item not found"}`,
		},
		{
			name:       "unstructured",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Internal server error"}`,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			h := HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
				return tc.err
			})

			rec := httptest.NewRecorder()
			AccessLogMiddleware(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.JSONEq(t, tc.wantBody, rec.Body.String())
		})
	}
}
