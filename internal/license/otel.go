package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"isxlicense/internal/infrastructure"
)

const TracerName = "license-manager"

// LicenseMetrics holds all license-specific OpenTelemetry metrics
type LicenseMetrics struct {
	Activations        metric.Int64Counter
	Deactivations      metric.Int64Counter
	Validations        metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	Trials             metric.Int64Counter
	Revocations        metric.Int64Counter
	TamperDetected     metric.Int64Counter
	AuditWriteFailures metric.Int64Counter
	StoreErrors        metric.Int64Counter
	RateLimitHits      metric.Int64Counter
}

// NewLicenseMetrics creates the license instruments on meter. A nil meter
// uses the global meter provider.
func NewLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(infrastructure.MeterName)
	}
	m := &LicenseMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.Activations, "license_activations_total", "License activation attempts by outcome"},
		{&m.Deactivations, "license_deactivations_total", "License deactivations"},
		{&m.Validations, "license_validations_total", "License validations by operation and outcome"},
		{&m.Trials, "license_trials_total", "Trial generation attempts by result"},
		{&m.Revocations, "license_revocations_total", "Revocations appended to the registry"},
		{&m.TamperDetected, "license_tamper_detected_total", "Tokens rejected by the integrity check"},
		{&m.AuditWriteFailures, "license_audit_write_failures_total", "Audit events that could not be written"},
		{&m.StoreErrors, "license_store_errors_total", "Secure store failures by operation and backend"},
		{&m.RateLimitHits, "license_rate_limit_hits_total", "Attempts rejected by the attempt guard"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	return m, nil
}

func (lm *LicenseMetrics) recordActivation(ctx context.Context, outcome OutcomeKind) {
	if lm == nil {
		return
	}
	lm.Activations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	if outcome == OutcomeTampered {
		lm.TamperDetected.Add(ctx, 1)
	}
}

func (lm *LicenseMetrics) recordValidation(ctx context.Context, operation string, outcome OutcomeKind, duration time.Duration) {
	if lm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", string(outcome)),
	)
	lm.Validations.Add(ctx, 1, attrs)
	lm.ValidationDuration.Record(ctx, duration.Seconds(), attrs)
	if outcome == OutcomeTampered {
		lm.TamperDetected.Add(ctx, 1)
	}
}

func (lm *LicenseMetrics) recordDeactivation(ctx context.Context) {
	if lm == nil {
		return
	}
	lm.Deactivations.Add(ctx, 1)
}

func (lm *LicenseMetrics) recordTrial(ctx context.Context, result string) {
	if lm == nil {
		return
	}
	lm.Trials.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (lm *LicenseMetrics) recordRevocation(ctx context.Context, permanent bool) {
	if lm == nil {
		return
	}
	lm.Revocations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("permanent", permanent)))
}

func (lm *LicenseMetrics) recordAuditFailure(ctx context.Context, eventType string) {
	if lm == nil {
		return
	}
	lm.AuditWriteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (lm *LicenseMetrics) recordStoreError(ctx context.Context, op, backend string) {
	if lm == nil {
		return
	}
	lm.StoreErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("backend", backend),
	))
}

func (lm *LicenseMetrics) recordRateLimit(ctx context.Context, operation string) {
	if lm == nil {
		return
	}
	lm.RateLimitHits.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// startSpan opens a span for a manager operation
func startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "license."+operation,
		trace.WithAttributes(
			attribute.String("license.operation", operation),
			attribute.String("component", "license_manager"),
		),
	)
}

// endSpan records the result of a manager operation on its span
func endSpan(span trace.Span, outcome OutcomeKind, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String("license.outcome", string(outcome)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
