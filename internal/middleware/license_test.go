package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isxlicense/internal/license"
	"isxlicense/internal/shared/testutil"
)

type fakeChecker struct {
	res   *license.StatusResult
	err   error
	calls int
}

func (f *fakeChecker) Status(context.Context) (*license.StatusResult, error) {
	f.calls++
	return f.res, f.err
}

type unavailableErr struct{}

func (unavailableErr) Error() string   { return "keyring timed out" }
func (unavailableErr) Retryable() bool { return true }

// TestLicenseGuard tests admission and rejection per license state
func TestLicenseGuard(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		res        *license.StatusResult
		err        error
		wantStatus int
		wantType   string
		wantCalls  int
	}{
		{
			name:       "health is excluded",
			path:       "/healthz",
			wantStatus: http.StatusOK,
		},
		{
			name:       "license api is excluded",
			path:       "/api/license/activate",
			wantStatus: http.StatusOK,
		},
		{
			name:       "custom excluded prefix",
			path:       "/public/logo.png",
			wantStatus: http.StatusOK,
		},
		{
			name:       "active license admitted",
			path:       "/api/reports",
			res:        &license.StatusResult{State: license.StateActive, Outcome: license.OutcomeActive},
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "no license",
			path:       "/api/reports",
			res:        &license.StatusResult{State: license.StateNone},
			wantStatus: http.StatusPreconditionRequired,
			wantType:   "/errors/license/not-active",
			wantCalls:  1,
		},
		{
			name:       "expired license",
			path:       "/api/reports",
			res:        &license.StatusResult{State: license.StateExpired, Outcome: license.OutcomeExpired, Reason: "expired"},
			wantStatus: http.StatusForbidden,
			wantType:   "/errors/license/expired",
			wantCalls:  1,
		},
		{
			name:       "tampered license",
			path:       "/api/reports",
			res:        &license.StatusResult{State: license.StateNone, Outcome: license.OutcomeTampered},
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   "/errors/license/tampered",
			wantCalls:  1,
		},
		{
			name:       "store unavailable",
			path:       "/api/reports",
			err:        unavailableErr{},
			wantStatus: http.StatusServiceUnavailable,
			wantType:   "/errors/service-unavailable",
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			checker := &fakeChecker{res: tt.res, err: tt.err}
			guard := NewLicenseGuard(checker, logger, WithExcludedPrefixes("/public/"))

			rec := httptest.NewRecorder()
			guard.Handler(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalls, checker.calls)
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, decodeProblem(t, rec)["type"])
			}
		})
	}
}

// TestLicenseGuardNoCaching tests that every request re-checks the license
func TestLicenseGuardNoCaching(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	checker := &fakeChecker{res: &license.StatusResult{State: license.StateActive, Outcome: license.OutcomeActive}}
	h := NewLicenseGuard(checker, logger).Handler(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	checker.res = &license.StatusResult{State: license.StateRevoked, Outcome: license.OutcomeRevoked}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 2, checker.calls)

	checker.err = errors.New("disk on fire")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// TestRequireFeature tests feature gating behind the guard
func TestRequireFeature(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	checker := &fakeChecker{res: &license.StatusResult{
		State:    license.StateActive,
		Outcome:  license.OutcomeActive,
		Features: []license.Feature{license.FeatureDailyReports},
	}}
	guard := NewLicenseGuard(checker, logger)

	tests := []struct {
		name       string
		feature    license.Feature
		wantStatus int
	}{
		{name: "licensed feature", feature: license.FeatureDailyReports, wantStatus: http.StatusOK},
		{name: "missing feature", feature: license.FeatureAPIAccess, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := guard.Handler(RequireFeature(tt.feature)(http.HandlerFunc(okHandler)))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	RequireFeature(license.FeatureDailyReports)(http.HandlerFunc(okHandler)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code, "without the guard nothing is admitted")
}
