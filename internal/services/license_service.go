package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"isxlicense/internal/infrastructure"
	"isxlicense/internal/license"
	"isxlicense/internal/revocation"
	"isxlicense/pkg/contracts/domain"
)

// Expiry thresholds in days
const (
	criticalDays = 7
	warningDays  = 30
	planningDays = 90
)

// LicenseManager is the part of *license.Manager the service needs
type LicenseManager interface {
	Activate(ctx context.Context, keyOrToken, ownerEmail string) (*license.ActivationResult, error)
	Status(ctx context.Context) (*license.StatusResult, error)
	Deactivate(ctx context.Context) (*license.DeactivationResult, error)
	Validate(ctx context.Context, keyOrToken string) (*license.ValidateResult, error)
	GenerateTrial(ctx context.Context, ownerEmail string, days int) (*license.TrialResult, error)
	Revoke(ctx context.Context, licenseID, reason string, permanent bool, opts ...revocation.RevokeOption) (*license.RevokeResult, error)
	Now() time.Time
}

// LicenseService provides the license facade to transports
type LicenseService interface {
	Activate(ctx context.Context, req domain.LicenseActivationRequest) (*domain.LicenseActivationResponse, error)
	GetStatus(ctx context.Context) (*domain.LicenseStatusResponse, error)
	Deactivate(ctx context.Context) (*domain.LicenseDeactivationResponse, error)
	Validate(ctx context.Context, req domain.LicenseValidationRequest) (*domain.LicenseValidationResponse, error)
	GenerateTrial(ctx context.Context, req domain.TrialRequest) (*domain.TrialResponse, error)
	Revoke(ctx context.Context, req domain.RevocationRequest) (*domain.RevocationResponse, error)
}

type licenseService struct {
	manager LicenseManager
	logger  *slog.Logger
}

// NewLicenseService creates a license service
func NewLicenseService(manager LicenseManager, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &licenseService{
		manager: manager,
		logger:  logger.With(slog.String("component", "license_service")),
	}
}

// traceID prefers the chi request id and falls back to the context trace id
func traceID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return infrastructure.GetTraceID(ctx)
}

// Activate activates a license key or token for the given owner
func (s *licenseService) Activate(ctx context.Context, req domain.LicenseActivationRequest) (*domain.LicenseActivationResponse, error) {
	tid := traceID(ctx)
	start := time.Now()

	res, err := s.manager.Activate(ctx, req.LicenseKey, req.Email)
	if err != nil {
		s.logger.WarnContext(ctx, "license activation failed",
			slog.String("trace_id", tid),
			slog.String("operation", "activate"),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "license activation completed",
		slog.String("trace_id", tid),
		slog.String("operation", "activate"),
		slog.String("outcome", string(res.Outcome)),
		slog.Bool("success", res.Success),
		slog.Duration("duration", time.Since(start)),
	)

	resp := &domain.LicenseActivationResponse{
		Success:     res.Success,
		Outcome:     string(res.Outcome),
		State:       string(res.State),
		LicenseID:   res.LicenseID,
		LicenseType: string(res.Tier),
		Features:    featureNames(res.Features),
		ExpiresAt:   res.ExpiresAt,
		NewBinding:  res.NewBinding,
		TraceID:     tid,
	}
	if res.Success {
		resp.Message = "License activated successfully"
	} else {
		resp.Message = activationFailureMessage(res.Outcome)
		resp.Error = errorCodeFor(res.Outcome)
	}
	return resp, nil
}

// GetStatus reports the stored license
func (s *licenseService) GetStatus(ctx context.Context) (*domain.LicenseStatusResponse, error) {
	tid := traceID(ctx)

	res, err := s.manager.Status(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get license status",
			slog.String("trace_id", tid),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	now := s.manager.Now()
	daysLeft := res.DaysLeft(now)
	status := determineLicenseStatus(res, daysLeft)

	resp := &domain.LicenseStatusResponse{
		LicenseStatus:  status,
		State:          string(res.State),
		Outcome:        string(res.Outcome),
		LicenseID:      res.LicenseID,
		OwnerEmail:     res.OwnerEmail,
		LicenseType:    string(res.Tier),
		Features:       featureNames(res.Features),
		IssuedAt:       res.IssuedAt,
		ExpiresAt:      res.ExpiresAt,
		DaysLeft:       daysLeft,
		MaxActivations: res.MaxActivations,
		Activations:    res.Activations,
		Message:        generateStatusMessage(status, daysLeft),
		Reason:         res.Reason,
		StoreBackend:   string(res.StoreBackend),
		StoreDegraded:  res.StoreDegraded,
		TraceID:        tid,
		Timestamp:      now.UTC(),
	}
	if res.ExpiresAt != nil && res.LicenseID != "" {
		resp.RenewalInfo = buildRenewalInfo(daysLeft)
	}

	s.logger.DebugContext(ctx, "license status determined",
		slog.String("trace_id", tid),
		slog.String("state", string(res.State)),
		slog.String("license_status", string(status)),
		slog.Int("days_left", daysLeft),
	)
	return resp, nil
}

// Deactivate removes the stored license
func (s *licenseService) Deactivate(ctx context.Context) (*domain.LicenseDeactivationResponse, error) {
	res, err := s.manager.Deactivate(ctx)
	if err != nil {
		return nil, err
	}

	msg := "License deactivated"
	if !res.WasStored {
		msg = "No license was active"
	}
	return &domain.LicenseDeactivationResponse{
		Success:   res.Success,
		LicenseID: res.LicenseID,
		WasStored: res.WasStored,
		Message:   msg,
		TraceID:   traceID(ctx),
	}, nil
}

// Validate checks a key or token without changing local state
func (s *licenseService) Validate(ctx context.Context, req domain.LicenseValidationRequest) (*domain.LicenseValidationResponse, error) {
	res, err := s.manager.Validate(ctx, req.LicenseKey)
	if err != nil {
		return nil, err
	}

	return &domain.LicenseValidationResponse{
		Valid:       res.Valid,
		Outcome:     string(res.Outcome),
		Reason:      res.Reason,
		LicenseID:   res.LicenseID,
		LicenseType: string(res.Tier),
		Features:    featureNames(res.Features),
		ExpiresAt:   res.ExpiresAt,
		TraceID:     traceID(ctx),
		CheckedAt:   s.manager.Now().UTC(),
	}, nil
}

// GenerateTrial issues and activates a local trial
func (s *licenseService) GenerateTrial(ctx context.Context, req domain.TrialRequest) (*domain.TrialResponse, error) {
	res, err := s.manager.GenerateTrial(ctx, req.Email, req.Days)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Trial license active until %s", res.ExpiresAt.UTC().Format("2006-01-02"))
	if !res.Success {
		msg = "Trial license was issued but could not be activated"
		if res.Activation != nil {
			msg = activationFailureMessage(res.Activation.Outcome)
		}
	}
	return &domain.TrialResponse{
		Success:   res.Success,
		LicenseID: res.LicenseID,
		ExpiresAt: res.ExpiresAt,
		Message:   msg,
		TraceID:   traceID(ctx),
	}, nil
}

// Revoke records a revocation
func (s *licenseService) Revoke(ctx context.Context, req domain.RevocationRequest) (*domain.RevocationResponse, error) {
	var opts []revocation.RevokeOption
	if req.ReinstateAt != nil {
		if req.Permanent {
			return nil, fmt.Errorf("%w: a permanent revocation cannot have a reinstate time", ErrInvalidInput)
		}
		opts = append(opts, revocation.WithReinstateAt(req.ReinstateAt.UTC()))
	}

	res, err := s.manager.Revoke(ctx, req.LicenseID, req.Reason, req.Permanent, opts...)
	if err != nil {
		return nil, err
	}

	kind := "temporarily"
	if res.Permanent {
		kind = "permanently"
	}
	return &domain.RevocationResponse{
		LicenseID: res.LicenseID,
		Permanent: res.Permanent,
		Message:   fmt.Sprintf("License %s revoked", kind),
		TraceID:   traceID(ctx),
	}, nil
}

// determineLicenseStatus classifies a status result for display
func determineLicenseStatus(res *license.StatusResult, daysLeft int) domain.LicenseStatus {
	switch res.Outcome {
	case license.OutcomeTampered, license.OutcomeMalformed, license.OutcomeUnsupportedVersion:
		return domain.LicenseStatusInvalid
	}

	switch res.State {
	case license.StateActive:
		switch {
		case daysLeft < 0:
			return domain.LicenseStatusActive
		case daysLeft <= criticalDays:
			return domain.LicenseStatusCritical
		case daysLeft <= warningDays:
			return domain.LicenseStatusWarning
		default:
			return domain.LicenseStatusActive
		}
	case license.StateExpired:
		return domain.LicenseStatusExpired
	case license.StateRevoked:
		return domain.LicenseStatusRevoked
	case license.StateHardwareMismatch:
		return domain.LicenseStatusInvalid
	case license.StatePendingActivation:
		return domain.LicenseStatusPending
	default:
		return domain.LicenseStatusNotActivated
	}
}

// generateStatusMessage generates a user-friendly message based on the license status
func generateStatusMessage(status domain.LicenseStatus, daysLeft int) string {
	switch status {
	case domain.LicenseStatusActive:
		if daysLeft < 0 {
			return "License is active and does not expire."
		}
		return fmt.Sprintf("License is active. %d days remaining until expiration.", daysLeft)
	case domain.LicenseStatusWarning:
		return fmt.Sprintf("Your license expires in %d days. Consider renewing to ensure continued access.", daysLeft)
	case domain.LicenseStatusCritical:
		return fmt.Sprintf("Your license expires in %d days. Please renew soon to avoid interruption.", daysLeft)
	case domain.LicenseStatusExpired:
		return "Your license has expired. Please renew to continue using the application."
	case domain.LicenseStatusRevoked:
		return "This license has been revoked. Please contact your license provider."
	case domain.LicenseStatusInvalid:
		return "The stored license is not valid on this machine."
	case domain.LicenseStatusPending:
		return "License activation is in progress."
	default:
		return "No license activated. Please activate a license to continue."
	}
}

// buildRenewalInfo creates renewal hints from the days remaining
func buildRenewalInfo(daysLeft int) *domain.RenewalInfo {
	renewal := &domain.RenewalInfo{DaysUntilExpiry: daysLeft}

	switch {
	case daysLeft <= 0:
		renewal.NeedsRenewal = true
		renewal.IsExpired = true
		renewal.RenewalUrgency = "critical"
		renewal.RenewalMessage = "License has expired. Immediate renewal required to restore full functionality."
	case daysLeft <= criticalDays:
		renewal.NeedsRenewal = true
		renewal.RenewalUrgency = "critical"
		renewal.RenewalMessage = fmt.Sprintf("License expires in %d days! Urgent renewal needed.", daysLeft)
	case daysLeft <= warningDays:
		renewal.NeedsRenewal = true
		renewal.RenewalUrgency = "high"
		renewal.RenewalMessage = fmt.Sprintf("License expires in %d days. Please renew soon.", daysLeft)
	case daysLeft <= planningDays:
		renewal.RenewalUrgency = "medium"
		renewal.RenewalMessage = fmt.Sprintf("License expires in %d days. Consider renewal planning.", daysLeft)
	default:
		renewal.RenewalUrgency = "low"
		renewal.RenewalMessage = fmt.Sprintf("License is active with %d days remaining.", daysLeft)
	}
	return renewal
}

func activationFailureMessage(kind license.OutcomeKind) string {
	switch kind {
	case license.OutcomeExpired:
		return "This license has expired."
	case license.OutcomeRevoked:
		return "This license has been revoked."
	case license.OutcomeHardwareMismatch:
		return "This license has reached its activation limit on other machines."
	case license.OutcomeTampered:
		return "The license failed its integrity check."
	case license.OutcomeMalformed:
		return "The license could not be read."
	case license.OutcomeUnsupportedVersion:
		return "The license format is not supported by this version."
	default:
		return "License activation failed."
	}
}

func errorCodeFor(kind license.OutcomeKind) string {
	switch kind {
	case license.OutcomeExpired:
		return domain.ErrCodeExpiredLicense
	case license.OutcomeRevoked:
		return domain.ErrCodeRevokedLicense
	case license.OutcomeHardwareMismatch:
		return domain.ErrCodeHardwareMismatch
	case license.OutcomeTampered:
		return domain.ErrCodeTamperedLicense
	case license.OutcomeMalformed, license.OutcomeUnsupportedVersion:
		return domain.ErrCodeInvalidFormat
	default:
		return domain.ErrCodeActivationFailed
	}
}

func featureNames(features []license.Feature) []string {
	if len(features) == 0 {
		return nil
	}
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = string(f)
	}
	return out
}
