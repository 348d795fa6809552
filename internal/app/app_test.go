package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isxlicense/internal/config"
	"isxlicense/internal/license"
	"isxlicense/internal/shared/testutil"
	"isxlicense/internal/store"
)

var fixtures = testutil.NewLicenseTestFixtures("testdata")

// testConfig returns a file-backed configuration rooted in a temp dir with
// in-memory secure stores.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogsDir = filepath.Join(dir, "logs")
	cfg.Store.Backend = "memory"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Keys.HMACSecret = base64.StdEncoding.EncodeToString(fixtures.HMACSecret())
	cfg.Keys.IssuerSecret = base64.StdEncoding.EncodeToString(fixtures.IssuerSecret())
	return cfg
}

func newTestApplication(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)

	application, err := NewApplication(context.Background(), cfg, WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Stop(context.Background()) })
	return application
}

func issueToken(t *testing.T, email string) string {
	t.Helper()
	expires := time.Now().Add(30 * 24 * time.Hour)
	token, err := license.Encode(license.Payload{
		OwnerEmail:     email,
		Tier:           license.TierProfessional,
		Features:       []license.Feature{license.FeatureDailyReports, license.FeatureDataExport},
		IssuedAt:       time.Now().Add(-time.Hour),
		ExpiresAt:      &expires,
		MaxActivations: 2,
	}, license.HMACSigningKey(fixtures.HMACSecret()))
	require.NoError(t, err)
	return token
}

func serve(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	decoded := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

// TestNewApplication tests that the application wires every component
func TestNewApplication(t *testing.T) {
	application := newTestApplication(t, testConfig(t))

	assert.NotNil(t, application.Router)
	assert.NotNil(t, application.Server)
	assert.Equal(t, ":0", application.Server.Addr)
	require.NotNil(t, application.Core)
	assert.NotNil(t, application.Core.Manager)
	assert.NotNil(t, application.WebSocketHub)
	require.NotNil(t, application.Services)
	assert.Same(t, application.Core.Manager, application.Services.License)

	backend, degraded := application.Core.Manager.StoreBackend()
	assert.Equal(t, store.BackendMemory, backend)
	assert.False(t, degraded)
}

// TestNewApplication_InitializationFailures tests configuration errors surfacing from NewApplication
func TestNewApplication_InitializationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{
			name:   "short hmac secret",
			mutate: func(cfg *config.Config) { cfg.Keys.HMACSecret = base64.StdEncoding.EncodeToString([]byte("short")) },
		},
		{
			name:   "unknown store backend",
			mutate: func(cfg *config.Config) { cfg.Store.Backend = "floppy" },
		},
		{
			name:   "unknown metric exporter",
			mutate: func(cfg *config.Config) { cfg.Telemetry.MetricExporter = "statsd" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			logger, _ := testutil.NewTestLogger(t)

			_, err := NewApplication(context.Background(), cfg, WithLogger(logger))
			assert.Error(t, err)
		})
	}
}

// TestApplication_setupRouter tests routing, exclusions and the license guard
func TestApplication_setupRouter(t *testing.T) {
	tests := []struct {
		name           string
		admin          bool
		method         string
		path           string
		expectedStatus int
	}{
		{"root version", false, http.MethodGet, "/", http.StatusOK},
		{"healthz", false, http.MethodGet, "/healthz", http.StatusOK},
		{"liveness", false, http.MethodGet, "/api/health/live", http.StatusOK},
		{"readiness", false, http.MethodGet, "/api/health/ready", http.StatusOK},
		{"version", false, http.MethodGet, "/api/version", http.StatusOK},
		{"status without license", false, http.MethodGet, "/api/license/status", http.StatusOK},
		{"guarded without license", false, http.MethodGet, "/api/entitlements", http.StatusPreconditionRequired},
		{"unknown route", false, http.MethodGet, "/nope", http.StatusNotFound},
		{"unknown api route is gated", false, http.MethodGet, "/api/nope", http.StatusPreconditionRequired},
		{"wrong method", false, http.MethodDelete, "/api/license/status", http.StatusMethodNotAllowed},
		{"audit hidden", false, http.MethodGet, "/api/audit/", http.StatusNotFound},
		{"revoke hidden", false, http.MethodPost, "/api/license/revoke", http.StatusNotFound},
		{"audit for admins", true, http.MethodGet, "/api/audit/", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Server.Admin = tt.admin
			application := newTestApplication(t, cfg)

			rec, _ := serve(t, application.Router, tt.method, tt.path, nil)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

// TestApplication_LicenseFlow tests activation, gated access, revocation and the audit trail over HTTP
func TestApplication_LicenseFlow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Admin = true
	application := newTestApplication(t, cfg)
	router := application.Router
	email := fixtures.GetTestEmails()["valid"]

	rec, body := serve(t, router, http.MethodPost, "/api/license/activate", map[string]string{
		"license_key": issueToken(t, email),
		"email":       email,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	licenseID, _ := body["license_id"].(string)
	require.NotEmpty(t, licenseID)

	rec, body = serve(t, router, http.MethodGet, "/api/entitlements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, licenseID, body["license_id"])
	assert.Equal(t, "PROFESSIONAL", body["tier"])
	assert.ElementsMatch(t, []any{"daily_reports", "data_export"}, body["features"])

	rec, _ = serve(t, router, http.MethodGet, "/api/entitlements/daily_reports", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body = serve(t, router, http.MethodGet, "/api/entitlements/api_access", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "api_access", body["feature"])

	rec, _ = serve(t, router, http.MethodPost, "/api/license/revoke", map[string]any{
		"license_id": licenseID,
		"reason":     "chargeback",
		"permanent":  true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body = serve(t, router, http.MethodGet, "/api/entitlements", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "REVOKED", body["error_code"])

	rec, body = serve(t, router, http.MethodGet, "/api/audit/?license_id="+licenseID+"&type=activate,revoke", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
}

// TestApplication_Trial tests locally generated trials verify against the issuer secret
func TestApplication_Trial(t *testing.T) {
	application := newTestApplication(t, testConfig(t))
	email := fixtures.GetTestEmails()["valid"]

	rec, body := serve(t, application.Router, http.MethodPost, "/api/license/trial", map[string]any{
		"email": email,
		"days":  7,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])

	rec, body = serve(t, application.Router, http.MethodPost, "/api/license/trial", map[string]any{
		"email": email,
		"days":  7,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "LICENSE_ALREADY_INSTALLED", body["error_code"])

	rec, _ = serve(t, application.Router, http.MethodPost, "/api/license/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = serve(t, application.Router, http.MethodPost, "/api/license/trial", map[string]any{
		"email": email,
		"days":  7,
	})
	assert.Equal(t, http.StatusConflict, rec.Code, "one trial per machine")
	assert.Equal(t, "TRIAL_ALREADY_USED", body["error_code"])
}

// TestApplication_Metrics tests that the Prometheus endpoint is mounted outside the guard
func TestApplication_Metrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.MetricExporter = "prometheus"
	application := newTestApplication(t, cfg)

	serve(t, application.Router, http.MethodPost, "/api/license/validate", map[string]string{
		"license_key": issueToken(t, fixtures.GetTestEmails()["valid"]),
	})
	rec, _ := serve(t, application.Router, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "license_validations_total")
}

// TestApplication_Run tests that Run returns once its context is cancelled
func TestApplication_Run(t *testing.T) {
	application := newTestApplication(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// TestApplication_Stop tests stopping an application that never served
func TestApplication_Stop(t *testing.T) {
	application := newTestApplication(t, testConfig(t))

	assert.NoError(t, application.Stop(context.Background()))
	assert.Equal(t, 0, application.WebSocketHub.ClientCount())
}
