package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"isxlicense/internal/infrastructure"
	"isxlicense/internal/license"
	"isxlicense/pkg/contracts"
)

// LicenseHealthChecker is implemented by *license.Manager
type LicenseHealthChecker interface {
	HealthCheck(ctx context.Context) *license.HealthCheckResult
}

// HubMetrics is implemented by the websocket hub
type HubMetrics interface {
	GetHubMetrics() map[string]interface{}
}

// HealthService provides health check functionality
type HealthService struct {
	license   LicenseHealthChecker
	events    HubMetrics
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                     `json:"status"`
	Timestamp time.Time                  `json:"timestamp"`
	Version   string                     `json:"version"`
	Runtime   map[string]interface{}     `json:"runtime,omitempty"`
	License   *license.HealthCheckResult `json:"license,omitempty"`
}

// NewHealthService creates a health service. events may be nil when the
// event stream is disabled.
func NewHealthService(checker LicenseHealthChecker, events HubMetrics, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &HealthService{
		license:   checker,
		events:    events,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// LivenessCheck reports that the process is serving requests
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Version:   contracts.Version,
		Runtime:   hs.runtimeInfo(),
	}
}

// ReadinessCheck runs the license component checks. A degraded secure
// store still counts as ready.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	result := hs.license.HealthCheck(ctx)

	status := "ready"
	if result.OverallStatus == license.HealthStatusUnhealthy {
		status = "not_ready"
	}

	hs.logger.DebugContext(ctx, "readiness check completed",
		slog.String("status", status),
		slog.String("license_status", string(result.OverallStatus)),
		slog.String("duration", result.Duration))

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   contracts.Version,
		Runtime:   hs.runtimeInfo(),
		License:   result,
	}
}

// Version returns version information
func (hs *HealthService) Version() contracts.VersionInfo {
	return contracts.GetVersionInfo()
}

func (hs *HealthService) runtimeInfo() map[string]interface{} {
	info := map[string]interface{}{
		"uptime_seconds": time.Since(hs.startTime).Seconds(),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
	}
	if hs.events != nil {
		info["websocket"] = hs.events.GetHubMetrics()
	}
	return info
}
