package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"isxlicense/internal/infrastructure"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health of a specific component
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// WritableChecker is implemented by audit logs that can report whether
// they accept writes without writing an event.
type WritableChecker interface {
	Writable(ctx context.Context) error
}

// HealthCheckResult contains the health of every license component
type HealthCheckResult struct {
	OverallStatus HealthStatus                `json:"status"`
	Message       string                      `json:"message"`
	Timestamp     time.Time                   `json:"timestamp"`
	Duration      string                      `json:"duration"`
	TraceID       string                      `json:"trace_id,omitempty"`
	Components    map[string]*ComponentHealth `json:"components"`
}

// DefaultHealthTimeout bounds each component check
const DefaultHealthTimeout = 5 * time.Second

// HealthCheck probes the store, registry, audit log and fingerprint source
// concurrently. It does not take the manager lock and writes nothing.
func (m *Manager) HealthCheck(ctx context.Context) *HealthCheckResult {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license.health_check",
		trace.WithAttributes(attribute.String("component", "license_health")),
	)
	defer span.End()

	start := time.Now()
	result := &HealthCheckResult{
		Timestamp:  start.UTC(),
		Components: make(map[string]*ComponentHealth),
		TraceID:    infrastructure.TraceIDFromContext(ctx),
	}

	checks := map[string]func(context.Context) *ComponentHealth{
		"secure_store":           m.checkStore,
		"revocation_registry":    m.checkRegistry,
		"audit_log":              m.checkAudit,
		"fingerprint_generation": m.checkFingerprint,
	}

	type checkResult struct {
		name   string
		health *ComponentHealth
	}
	results := make(chan checkResult, len(checks))

	for name, check := range checks {
		go func(n string, fn func(context.Context) *ComponentHealth) {
			checkCtx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
			defer cancel()
			results <- checkResult{name: n, health: fn(checkCtx)}
		}(name, check)
	}

	for range checks {
		res := <-results
		result.Components[res.name] = res.health
	}

	result.Components["license_state"] = &ComponentHealth{
		Status:    HealthStatusHealthy,
		Message:   string(m.CurrentState()),
		Timestamp: time.Now().UTC(),
	}

	result.OverallStatus = overallStatus(result.Components)
	result.Duration = time.Since(start).String()
	result.Message = statusMessage(result.OverallStatus, result.Components)

	span.SetAttributes(
		attribute.String("health.overall_status", string(result.OverallStatus)),
		attribute.Int("health.total_components", len(result.Components)),
	)
	return result
}

func (m *Manager) checkStore(ctx context.Context) *ComponentHealth {
	start := time.Now()
	health := newComponentHealth(start)
	health.Metadata["backend"] = string(m.store.Backend())
	health.Metadata["degraded"] = m.store.Degraded()

	_, found, err := m.store.Load(ctx)
	health.Duration = time.Since(start).String()
	health.Metadata["license_stored"] = found

	switch {
	case err != nil:
		health.Status = HealthStatusUnhealthy
		health.Message = "Secure store unavailable"
		health.Error = err.Error()
	case m.store.Degraded():
		health.Status = HealthStatusDegraded
		health.Message = "Using encrypted file fallback instead of the OS keyring"
	default:
		health.Status = HealthStatusHealthy
		health.Message = "Secure store reachable"
	}
	return health
}

func (m *Manager) checkRegistry(ctx context.Context) *ComponentHealth {
	start := time.Now()
	health := newComponentHealth(start)

	snapshot, err := m.registry.Snapshot(ctx)
	health.Duration = time.Since(start).String()
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = "Revocation registry unreadable"
		health.Error = err.Error()
		return health
	}
	health.Status = HealthStatusHealthy
	health.Message = "Revocation registry readable"
	health.Metadata["entries"] = snapshot.Len()
	return health
}

func (m *Manager) checkAudit(ctx context.Context) *ComponentHealth {
	start := time.Now()
	health := newComponentHealth(start)

	checker, ok := m.audit.(WritableChecker)
	if !ok {
		health.Status = HealthStatusHealthy
		health.Message = "Audit log does not report writability"
		return health
	}
	err := checker.Writable(ctx)
	health.Duration = time.Since(start).String()
	if err != nil {
		// activations still succeed without the audit log
		health.Status = HealthStatusDegraded
		health.Message = "Audit log not writable"
		health.Error = err.Error()
		return health
	}
	health.Status = HealthStatusHealthy
	health.Message = "Audit log writable"
	return health
}

func (m *Manager) checkFingerprint(_ context.Context) *ComponentHealth {
	start := time.Now()
	health := newComponentHealth(start)

	fp := m.fingerprints.Compute()
	health.Duration = time.Since(start).String()
	if !fp.Valid() {
		health.Status = HealthStatusUnhealthy
		health.Message = "Fingerprint generation produced an invalid digest"
		return health
	}
	health.Status = HealthStatusHealthy
	health.Message = "Fingerprint generation working"
	health.Metadata["fingerprint"] = fp.Short()
	return health
}

func newComponentHealth(start time.Time) *ComponentHealth {
	return &ComponentHealth{
		Timestamp: start.UTC(),
		Metadata:  make(map[string]interface{}),
	}
}

func overallStatus(components map[string]*ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, c := range components {
		switch c.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

func statusMessage(status HealthStatus, components map[string]*ComponentHealth) string {
	bad := 0
	for _, c := range components {
		if c.Status != HealthStatusHealthy {
			bad++
		}
	}
	switch status {
	case HealthStatusHealthy:
		return "All license components healthy"
	case HealthStatusDegraded:
		return fmt.Sprintf("%d of %d license components degraded", bad, len(components))
	default:
		return fmt.Sprintf("%d of %d license components failing", bad, len(components))
	}
}
