package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "isxlicense/internal/errors"
	"isxlicense/internal/license"
	"isxlicense/internal/middleware"
	"isxlicense/internal/services"
	"isxlicense/pkg/contracts/domain"
)

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service   services.LicenseService
	validator *middleware.RequestValidator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:   service,
		validator: middleware.NewRequestValidator(),
		errors:    errorHandler,
		logger:    logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the facade endpoints mounted at /api/license
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/validate", h.Validate)
	r.Post("/trial", h.GenerateTrial)
	return r
}

func (h *LicenseHandler) span(r *http.Request, operation string) (*http.Request, trace.Span) {
	ctx, span := otel.Tracer("isxlicense.http").Start(r.Context(), "license_handler."+operation,
		trace.WithAttributes(
			attribute.String("component", "license_handler"),
			attribute.String("operation", operation),
			attribute.String("request_id", middleware.GetRequestID(r.Context())),
		),
	)
	return r.WithContext(ctx), span
}

// fail renders err and marks the span
func (h *LicenseHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	if errors.Is(err, services.ErrInvalidInput) {
		err = apierrors.InvalidRequestWithError(err)
	}
	h.errors.HandleError(w, r, err)
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "get_status")
	defer span.End()

	resp, err := h.service.GetStatus(r.Context())
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.status", string(resp.LicenseStatus)),
		attribute.Int("license.days_left", resp.DaysLeft),
	)
	render.JSON(w, r, resp)
}

// Activate handles POST /api/license/activate. A non-active outcome is a
// 422 carrying the activation response; infrastructure and input errors
// are problem details.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "activate")
	defer span.End()

	var req domain.LicenseActivationRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.fail(w, r, span, err)
		return
	}

	span.SetAttributes(attribute.String("license.key", license.MaskLicenseID(req.LicenseKey)))

	resp, err := h.service.Activate(r.Context(), req)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.outcome", resp.Outcome),
		attribute.Bool("license.success", resp.Success),
	)

	if !resp.Success {
		h.logger.InfoContext(r.Context(), "license activation rejected",
			slog.String("outcome", resp.Outcome),
			slog.String("trace_id", resp.TraceID))
		render.Status(r, http.StatusUnprocessableEntity)
	}
	render.JSON(w, r, resp)
}

// Deactivate handles POST /api/license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "deactivate")
	defer span.End()

	resp, err := h.service.Deactivate(r.Context())
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, resp)
}

// Validate handles POST /api/license/validate. Every outcome is a 200; the
// body says whether the license is valid.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "validate")
	defer span.End()

	var req domain.LicenseValidationRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.fail(w, r, span, err)
		return
	}

	resp, err := h.service.Validate(r.Context(), req)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	span.SetAttributes(attribute.String("license.outcome", resp.Outcome))
	render.JSON(w, r, resp)
}

// GenerateTrial handles POST /api/license/trial
func (h *LicenseHandler) GenerateTrial(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "generate_trial")
	defer span.End()

	var req domain.TrialRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.fail(w, r, span, err)
		return
	}

	resp, err := h.service.GenerateTrial(r.Context(), req)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// Revoke handles POST /api/license/revoke. It is only mounted when admin
// endpoints are enabled.
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "revoke")
	defer span.End()

	var req domain.RevocationRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.fail(w, r, span, err)
		return
	}

	resp, err := h.service.Revoke(r.Context(), req)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	h.logger.WarnContext(r.Context(), "license revoked over http",
		slog.String("license_id", license.MaskLicenseID(resp.LicenseID)),
		slog.Bool("permanent", resp.Permanent),
		slog.String("trace_id", resp.TraceID))
	render.JSON(w, r, resp)
}
