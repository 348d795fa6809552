package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isxlicense/internal/shared/testutil"
)

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"api error", ErrValidation("days", "bad"), http.StatusBadRequest, TypeValidation},
		{"license sentinel", ErrNoLicense, http.StatusNotFound, TypeLicenseNotFound},
		{"outcome problem", NewOutcomeProblem(OutcomeExpired, "", "t"), http.StatusForbidden, TypeLicenseExpired},
		{"generic", fmt.Errorf("boom"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			handler := NewErrorHandler(logger, false)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/license/status", nil)
			handler.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body["type"])
			_, hasStack := body["stack"]
			assert.False(t, hasStack)
			assert.True(t, logs.ContainsMessage("request failed"))
		})
	}

	t.Run("nil error writes nothing", func(t *testing.T) {
		logger, _ := testutil.NewTestLogger(t)
		rec := httptest.NewRecorder()
		NewErrorHandler(logger, false).HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
		assert.Equal(t, 0, rec.Body.Len())
	})
}

// TestErrorHandler_Routes tests the router fallbacks
func TestErrorHandler_Routes(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, true)

	r := chi.NewRouter()
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)
	r.Get("/resource", func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/resource", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "POST")
}
