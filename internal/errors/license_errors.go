package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// License-specific sentinel errors
var (
	ErrNoLicense          = errors.New("no license installed")
	ErrLicenseNotActive   = errors.New("license not active")
	ErrInvalidLicenseKey  = errors.New("invalid license key format")
	ErrUnknownLicenseKey  = errors.New("license key not found in catalog")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrOwnerMismatch      = errors.New("email does not match license owner")
	ErrRateLimited        = errors.New("rate limited")
	ErrTrialAlreadyUsed   = errors.New("trial already used on this machine")
	ErrLicenseInstalled   = errors.New("a license is already installed")
	ErrInvalidTrialDays   = errors.New("invalid trial duration")
	ErrIssuerKeyMissing   = errors.New("no local issuer key configured")
	ErrIllegalTransition  = errors.New("illegal license state transition")
	ErrLicenseIDRequired  = errors.New("license id is required")
)

// Outcome kinds as rendered on the wire
const (
	OutcomeActive             = "ACTIVE"
	OutcomeExpired            = "EXPIRED"
	OutcomeRevoked            = "REVOKED"
	OutcomeHardwareMismatch   = "HARDWARE_MISMATCH"
	OutcomeTampered           = "TAMPERED"
	OutcomeMalformed          = "MALFORMED"
	OutcomeUnsupportedVersion = "UNSUPPORTED_VERSION"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Error lets a problem travel as an error value
func (pd *ProblemDetails) Error() string {
	return fmt.Sprintf("%s: %s", pd.Title, pd.Detail)
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top-level object
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))

	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// NewOutcomeProblem renders a non-active validation outcome
func NewOutcomeProblem(kind, reason, traceID string) *ProblemDetails {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	var problem *ProblemDetails
	switch kind {
	case OutcomeExpired:
		problem = NewProblemDetails(http.StatusForbidden, TypeLicenseExpired,
			"License Expired", "Your license has expired. Please renew to continue.", instance)
	case OutcomeRevoked:
		problem = NewProblemDetails(http.StatusForbidden, TypeLicenseRevoked,
			"License Revoked", "This license has been revoked.", instance)
	case OutcomeHardwareMismatch:
		problem = NewProblemDetails(http.StatusForbidden, TypeLicenseMismatch,
			"License Machine Mismatch", "This license has reached its activation limit on other machines.", instance)
	case OutcomeTampered:
		problem = NewProblemDetails(http.StatusUnprocessableEntity, TypeLicenseTampered,
			"License Tampered", "The license integrity check failed.", instance)
	case OutcomeMalformed:
		problem = NewProblemDetails(http.StatusUnprocessableEntity, TypeLicenseMalformed,
			"License Malformed", "The license could not be parsed.", instance)
	case OutcomeUnsupportedVersion:
		problem = NewProblemDetails(http.StatusUnprocessableEntity, TypeLicenseVersion,
			"Unsupported License Version", "The license uses a format this build does not understand.", instance)
	default:
		problem = NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", "Unexpected license outcome.", instance)
	}

	problem.WithExtension("trace_id", traceID).
		WithExtension("error_code", kind)
	if reason != "" {
		problem.WithExtension("reason", reason)
	}
	return problem
}

// retryable is implemented by storage errors that may succeed on retry
type retryable interface {
	Retryable() bool
}

// MapLicenseError maps domain errors to HTTP problem details
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	var problem *ProblemDetails
	if errors.As(err, &problem) {
		return problem
	}

	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, ErrNoLicense):
		code = "LICENSE_NOT_FOUND"
		problem = NewProblemDetails(http.StatusNotFound, TypeLicenseNotFound,
			"License Not Found", "No license is installed. Please activate a license.", instance)
	case errors.Is(err, ErrLicenseNotActive):
		code = "LICENSE_NOT_ACTIVE"
		problem = NewProblemDetails(http.StatusPreconditionRequired, TypeLicenseNotActive,
			"License Not Active", "A valid license is required to continue.", instance)
	case errors.Is(err, ErrInvalidLicenseKey):
		code = "INVALID_LICENSE_KEY"
		problem = NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Invalid License Key", "License key must be in format: ISX-XXXX-XXXX-XXXX-XXXX", instance).
			WithExtension("expected_format", "ISX-XXXX-XXXX-XXXX-XXXX")
	case errors.Is(err, ErrUnknownLicenseKey):
		code = "UNKNOWN_LICENSE_KEY"
		problem = NewProblemDetails(http.StatusNotFound, TypeNotFound,
			"Unknown License Key", "No license token has been imported for this key.", instance)
	case errors.Is(err, ErrInvalidEmail):
		code = "INVALID_EMAIL"
		problem = NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Invalid Email", "A valid email address is required.", instance)
	case errors.Is(err, ErrOwnerMismatch):
		code = "OWNER_MISMATCH"
		problem = NewProblemDetails(http.StatusForbidden, TypeForbidden,
			"Owner Mismatch", "The email does not match the license owner.", instance)
	case errors.Is(err, ErrRateLimited):
		code = "RATE_LIMITED"
		problem = NewProblemDetails(http.StatusTooManyRequests, TypeRateLimit,
			"Too Many Requests", "Too many activation attempts. Please try again later.", instance).
			WithExtension("retry_after", 900)
	case errors.Is(err, ErrTrialAlreadyUsed):
		code = "TRIAL_ALREADY_USED"
		problem = NewProblemDetails(http.StatusConflict, TypeConflict,
			"Trial Already Used", "A trial license has already been issued on this machine.", instance)
	case errors.Is(err, ErrLicenseInstalled):
		code = "LICENSE_ALREADY_INSTALLED"
		problem = NewProblemDetails(http.StatusConflict, TypeConflict,
			"License Already Installed", "Deactivate the installed license before starting a trial.", instance)
	case errors.Is(err, ErrInvalidTrialDays):
		code = "INVALID_TRIAL_DAYS"
		problem = NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Invalid Trial Duration", err.Error(), instance)
	case errors.Is(err, ErrIssuerKeyMissing):
		code = "ISSUER_KEY_MISSING"
		problem = NewProblemDetails(http.StatusServiceUnavailable, TypeServiceDown,
			"Trials Unavailable", "This installation cannot issue trial licenses.", instance)
	default:
		var r retryable
		if errors.As(err, &r) && r.Retryable() {
			code = "STORE_UNAVAILABLE"
			problem = NewProblemDetails(http.StatusServiceUnavailable, TypeServiceDown,
				"Secure Store Unavailable", "The credential store did not respond. Please try again.", instance).
				WithExtension("retryable", true)
			break
		}
		problem = NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", "An unexpected error occurred while processing your request.", instance)
	}

	return problem.WithExtension("trace_id", traceID).
		WithExtension("error_code", code)
}
