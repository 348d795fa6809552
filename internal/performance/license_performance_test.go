package performance

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isxlicense/internal/app"
	"isxlicense/internal/config"
	"isxlicense/internal/infrastructure"
	"isxlicense/internal/license"
	"isxlicense/internal/shared/testutil"
)

// Performance test configuration
const (
	MaxP95Latency   = 100 * time.Millisecond
	RequestsPerTest = 200
)

var ConcurrencyLevels = []int{1, 10, 50}

var fixtures = testutil.NewLicenseTestFixtures("testdata")

func samplePayload() license.Payload {
	now := testutil.ReferenceTime
	expires := now.Add(365 * 24 * time.Hour)
	return license.Payload{
		OwnerEmail:     fixtures.GetTestEmails()["valid"],
		Tier:           license.TierEnterprise,
		Features:       license.TierDefaults(license.TierEnterprise),
		IssuedAt:       now,
		ExpiresAt:      &expires,
		MaxActivations: 3,
	}
}

func BenchmarkEncode(b *testing.B) {
	_, priv := fixtures.Ed25519KeyPair()
	keys := map[string]license.SigningKey{
		"hs256":   license.HMACSigningKey(fixtures.HMACSecret()),
		"ed25519": license.Ed25519SigningKey(priv),
	}
	payload := samplePayload()

	for name, key := range keys {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := license.Encode(payload, key); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkDecode(b *testing.B) {
	pub, priv := fixtures.Ed25519KeyPair()
	verify := license.VerificationKeys{
		HMACSecrets: [][]byte{fixtures.HMACSecret()},
		PublicKey:   pub,
	}

	for name, key := range map[string]license.SigningKey{
		"hs256":   license.HMACSigningKey(fixtures.HMACSecret()),
		"ed25519": license.Ed25519SigningKey(priv),
	} {
		token, err := license.Encode(samplePayload(), key)
		require.NoError(b, err)

		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := license.Decode(token, verify); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func newRouter(tb testing.TB) http.Handler {
	tb.Helper()
	dir := tb.TempDir()

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.RateLimitRPS = 0
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogsDir = filepath.Join(dir, "logs")
	cfg.Store.Backend = "memory"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Keys.HMACSecret = base64.StdEncoding.EncodeToString(fixtures.HMACSecret())

	logger := infrastructure.NewLogger(io.Discard, "error")
	application, err := app.NewApplication(context.Background(), cfg, app.WithLogger(logger))
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = application.Stop(context.Background()) })
	return application.Router
}

func validateBody(tb testing.TB) []byte {
	tb.Helper()
	expires := time.Now().Add(30 * 24 * time.Hour)
	p := samplePayload()
	p.IssuedAt = time.Now().Add(-time.Hour)
	p.ExpiresAt = &expires

	token, err := license.Encode(p, license.HMACSigningKey(fixtures.HMACSecret()))
	require.NoError(tb, err)
	body, err := json.Marshal(map[string]string{"license_key": token})
	require.NoError(tb, err)
	return body
}

func BenchmarkValidateEndpoint(b *testing.B) {
	router := newRouter(b)
	body := validateBody(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/license/validate", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rec.Code)
		}
	}
}

// TestValidateLatencyUnderLoad tests p95 latency of concurrent validations
func TestValidateLatencyUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("load test")
	}
	router := newRouter(t)
	body := validateBody(t)

	for _, workers := range ConcurrencyLevels {
		t.Run(fmt.Sprintf("workers_%d", workers), func(t *testing.T) {
			var (
				mu        sync.Mutex
				latencies = make([]time.Duration, 0, RequestsPerTest)
				failures  int
				wg        sync.WaitGroup
			)
			jobs := make(chan struct{})

			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range jobs {
						req := httptest.NewRequest(http.MethodPost, "/api/license/validate", bytes.NewReader(body))
						req.Header.Set("Content-Type", "application/json")
						rec := httptest.NewRecorder()

						start := time.Now()
						router.ServeHTTP(rec, req)
						elapsed := time.Since(start)

						mu.Lock()
						latencies = append(latencies, elapsed)
						if rec.Code != http.StatusOK {
							failures++
						}
						mu.Unlock()
					}
				}()
			}
			for i := 0; i < RequestsPerTest; i++ {
				jobs <- struct{}{}
			}
			close(jobs)
			wg.Wait()

			require.Len(t, latencies, RequestsPerTest)
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			p95 := latencies[len(latencies)*95/100]

			assert.Zero(t, failures)
			assert.Less(t, p95, MaxP95Latency*time.Duration(workers))
			t.Logf("workers=%d p50=%v p95=%v", workers, latencies[len(latencies)/2], p95)
		})
	}
}
