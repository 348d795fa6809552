package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "isxlicense/internal/errors"
	"isxlicense/internal/license"
	"isxlicense/internal/revocation"
	"isxlicense/internal/shared/testutil"
	"isxlicense/internal/store"
	"isxlicense/pkg/contracts/domain"
)

// fakeManager records calls and returns canned results
type fakeManager struct {
	activation *license.ActivationResult
	status     *license.StatusResult
	validate   *license.ValidateResult
	trial      *license.TrialResult
	err        error

	revokeOpts int
	permanent  bool
	now        time.Time
}

func (f *fakeManager) Activate(context.Context, string, string) (*license.ActivationResult, error) {
	return f.activation, f.err
}

func (f *fakeManager) Status(context.Context) (*license.StatusResult, error) {
	return f.status, f.err
}

func (f *fakeManager) Deactivate(context.Context) (*license.DeactivationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &license.DeactivationResult{Success: true, WasStored: false}, nil
}

func (f *fakeManager) Validate(context.Context, string) (*license.ValidateResult, error) {
	return f.validate, f.err
}

func (f *fakeManager) GenerateTrial(context.Context, string, int) (*license.TrialResult, error) {
	return f.trial, f.err
}

func (f *fakeManager) Revoke(_ context.Context, id, _ string, permanent bool, opts ...revocation.RevokeOption) (*license.RevokeResult, error) {
	f.revokeOpts = len(opts)
	f.permanent = permanent
	if f.err != nil {
		return nil, f.err
	}
	return &license.RevokeResult{LicenseID: id, Permanent: permanent}, nil
}

func (f *fakeManager) Now() time.Time { return f.now }

func newService(t *testing.T, m *fakeManager) LicenseService {
	t.Helper()
	if m.now.IsZero() {
		m.now = testutil.ReferenceTime
	}
	logger, _ := testutil.NewTestLogger(t)
	return NewLicenseService(m, logger)
}

func ptr(t time.Time) *time.Time { return &t }

// TestLicenseServiceActivate tests activation responses
func TestLicenseServiceActivate(t *testing.T) {
	req := domain.LicenseActivationRequest{LicenseKey: "ISX-AAAA-BBBB-CCCC-DDDD", Email: "owner@example.com"}

	t.Run("success carries request id", func(t *testing.T) {
		svc := newService(t, &fakeManager{activation: &license.ActivationResult{
			Success:   true,
			Outcome:   license.OutcomeActive,
			State:     license.StateActive,
			LicenseID: "ISX-AAAA-BBBB-CCCC-DDDD",
			Tier:      license.TierProfessional,
			Features:  []license.Feature{license.FeatureDataExport},
		}})
		ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")

		resp, err := svc.Activate(ctx, req)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "ACTIVE", resp.State)
		assert.Equal(t, "PROFESSIONAL", resp.LicenseType)
		assert.Equal(t, []string{"data_export"}, resp.Features)
		assert.Equal(t, "req-1", resp.TraceID)
		assert.Empty(t, resp.Error)
	})

	t.Run("verdict is not an error", func(t *testing.T) {
		svc := newService(t, &fakeManager{activation: &license.ActivationResult{
			Outcome: license.OutcomeRevoked,
			State:   license.StateRevoked,
		}})
		resp, err := svc.Activate(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, domain.ErrCodeRevokedLicense, resp.Error)
		assert.Equal(t, "This license has been revoked.", resp.Message)
	})

	t.Run("manager error is returned", func(t *testing.T) {
		svc := newService(t, &fakeManager{err: licenseErrors.ErrOwnerMismatch})
		_, err := svc.Activate(context.Background(), req)
		assert.ErrorIs(t, err, licenseErrors.ErrOwnerMismatch)
	})
}

// TestLicenseServiceGetStatus tests status classification and renewal hints
func TestLicenseServiceGetStatus(t *testing.T) {
	now := testutil.ReferenceTime

	tests := []struct {
		name        string
		status      *license.StatusResult
		want        domain.LicenseStatus
		wantDays    int
		wantRenewal string
	}{
		{
			name:     "no license",
			status:   &license.StatusResult{State: license.StateNone, StoreBackend: store.BackendMemory},
			want:     domain.LicenseStatusNotActivated,
			wantDays: -1,
		},
		{
			name: "perpetual",
			status: &license.StatusResult{
				State: license.StateActive, Outcome: license.OutcomeActive, LicenseID: "ISX-1",
			},
			want:     domain.LicenseStatusActive,
			wantDays: -1,
		},
		{
			name: "five days left",
			status: &license.StatusResult{
				State: license.StateActive, Outcome: license.OutcomeActive, LicenseID: "ISX-1",
				ExpiresAt: ptr(now.Add(5*24*time.Hour + time.Hour)),
			},
			want:        domain.LicenseStatusCritical,
			wantDays:    5,
			wantRenewal: "critical",
		},
		{
			name: "twenty days left",
			status: &license.StatusResult{
				State: license.StateActive, Outcome: license.OutcomeActive, LicenseID: "ISX-1",
				ExpiresAt: ptr(now.Add(20*24*time.Hour + time.Hour)),
			},
			want:        domain.LicenseStatusWarning,
			wantDays:    20,
			wantRenewal: "high",
		},
		{
			name: "expired",
			status: &license.StatusResult{
				State: license.StateExpired, Outcome: license.OutcomeExpired, LicenseID: "ISX-1",
				ExpiresAt: ptr(now.Add(-time.Hour)),
			},
			want:        domain.LicenseStatusExpired,
			wantDays:    0,
			wantRenewal: "critical",
		},
		{
			name:     "tampered store",
			status:   &license.StatusResult{State: license.StateNone, Outcome: license.OutcomeTampered},
			want:     domain.LicenseStatusInvalid,
			wantDays: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, &fakeManager{status: tt.status, now: now})
			resp, err := svc.GetStatus(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.LicenseStatus)
			assert.Equal(t, tt.wantDays, resp.DaysLeft)
			assert.NotEmpty(t, resp.Message)
			if tt.wantRenewal == "" {
				assert.Nil(t, resp.RenewalInfo)
				return
			}
			require.NotNil(t, resp.RenewalInfo)
			assert.Equal(t, tt.wantRenewal, resp.RenewalInfo.RenewalUrgency)
		})
	}
}

// TestLicenseServiceRevoke tests request checks before reaching the manager
func TestLicenseServiceRevoke(t *testing.T) {
	reinstate := testutil.ReferenceTime.Add(24 * time.Hour)

	m := &fakeManager{}
	svc := newService(t, m)

	_, err := svc.Revoke(context.Background(), domain.RevocationRequest{
		LicenseID: "ISX-AAAA-BBBB-CCCC-DDDD", Permanent: true, ReinstateAt: &reinstate,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	resp, err := svc.Revoke(context.Background(), domain.RevocationRequest{
		LicenseID: "ISX-AAAA-BBBB-CCCC-DDDD", Reason: "chargeback", ReinstateAt: &reinstate,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.revokeOpts)
	assert.False(t, resp.Permanent)
	assert.Equal(t, "License temporarily revoked", resp.Message)
}

// TestLicenseServiceTrialAndValidate tests the remaining facade calls
func TestLicenseServiceTrialAndValidate(t *testing.T) {
	expires := testutil.ReferenceTime.Add(14 * 24 * time.Hour)
	m := &fakeManager{
		trial:    &license.TrialResult{Success: true, LicenseID: "ISX-T", ExpiresAt: expires},
		validate: &license.ValidateResult{Outcome: license.OutcomeExpired, Reason: "expired"},
	}
	svc := newService(t, m)

	trial, err := svc.GenerateTrial(context.Background(), domain.TrialRequest{Email: "a@example.com", Days: 14})
	require.NoError(t, err)
	assert.True(t, trial.Success)
	assert.Equal(t, "Trial license active until 2025-03-15", trial.Message)

	v, err := svc.Validate(context.Background(), domain.LicenseValidationRequest{LicenseKey: "isxlic.v1.x"})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "EXPIRED", v.Outcome)
	assert.Equal(t, testutil.ReferenceTime, v.CheckedAt)

	deact, err := svc.Deactivate(context.Background())
	require.NoError(t, err)
	assert.False(t, deact.WasStored)
	assert.Equal(t, "No license was active", deact.Message)

	m.err = errors.New("boom")
	_, err = svc.Deactivate(context.Background())
	assert.Error(t, err)
}

// TestBuildRenewalInfo tests urgency bands
func TestBuildRenewalInfo(t *testing.T) {
	tests := []struct {
		days    int
		urgency string
		needs   bool
	}{
		{days: 0, urgency: "critical", needs: true},
		{days: 7, urgency: "critical", needs: true},
		{days: 8, urgency: "high", needs: true},
		{days: 60, urgency: "medium", needs: false},
		{days: 365, urgency: "low", needs: false},
	}
	for _, tt := range tests {
		r := buildRenewalInfo(tt.days)
		assert.Equal(t, tt.urgency, r.RenewalUrgency, "days=%d", tt.days)
		assert.Equal(t, tt.needs, r.NeedsRenewal, "days=%d", tt.days)
		assert.Equal(t, tt.days == 0, r.IsExpired)
	}
}
