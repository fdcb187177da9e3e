package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubtguoyi/writing/internal/domain"
)

func Test_writeError_Mapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid", domain.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"notfound", fmt.Errorf("op=records.get: %w", domain.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", domain.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"rate", domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"upstream_to", domain.ErrUpstreamTimeout, http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"},
		{"upstream_rl", domain.ErrUpstreamRateLimit, http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMIT"},
		{"external", domain.ErrExternalCall, http.StatusBadGateway, "EXTERNAL_CALL"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			rw := httptest.NewRecorder()
			writeError(rw, httptest.NewRequest(http.MethodGet, "/", nil), c.err, map[string]string{"k": "v"})
			assert.Equal(t, c.wantStatus, rw.Code)
			var env errorEnvelope
			require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &env))
			assert.Equal(t, c.wantCode, env.Error.Code)
			assert.Equal(t, c.err.Error(), env.Error.Message)
			assert.Equal(t, map[string]any{"k": "v"}, env.Error.Details)
		})
	}
}

func TestRecoverer(t *testing.T) {
	t.Parallel()
	h := Recoverer()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	t.Parallel()
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(requestIDHeader)
	}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, seen, 26)
	assert.Equal(t, seen, rw.Header().Get(requestIDHeader))
	assert.NotEqual(t, seen, newReqID())
}

func TestValidationDetails(t *testing.T) {
	t.Parallel()
	err := getValidator().Struct(submitForm{})
	require.Error(t, err)
	d := validationDetails(err)
	assert.Equal(t, "required", d["title"])
	assert.Equal(t, "required", d["grade"])
	assert.Equal(t, "gte", d["images"])
	assert.Empty(t, validationDetails(errors.New("other")))
}
