package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"isxlicense/internal/audit"
	licenseErrors "isxlicense/internal/errors"
	"isxlicense/internal/infrastructure"
	"isxlicense/internal/revocation"
	"isxlicense/internal/security"
	"isxlicense/internal/store"
)

// FingerprintSource computes the current machine fingerprint.
// *security.FingerprintManager implements it.
type FingerprintSource interface {
	Compute() security.FingerprintDigest
}

// OutcomeNoLicense is audited when status finds nothing stored
const OutcomeNoLicense = "NO_LICENSE"

// DefaultMaxTrialDays bounds GenerateTrial when no limit is configured
const DefaultMaxTrialDays = 30

// Dependencies wires a Manager. Store, TrialStore, Registry, Audit and
// Fingerprints are required.
type Dependencies struct {
	Store        store.Adapter
	TrialStore   store.Adapter
	Registry     revocation.Registry
	Audit        audit.Log
	Catalog      KeyCatalog
	Fingerprints FingerprintSource
	Keys         VerificationKeys
	// Issuer signs locally generated trials. Nil disables GenerateTrial.
	Issuer       *SigningKey
	Guard        *AttemptGuard
	Metrics      *LicenseMetrics
	Publisher    EventPublisher
	Clock        func() time.Time
	MaxTrialDays int
	Logger       *slog.Logger
}

// Manager is the only entry point for license operations. Its methods are
// serialised; each one re-reads the store and the registry rather than
// trusting anything cached.
type Manager struct {
	mu           sync.Mutex
	store        store.Adapter
	ledger       *TrialLedger
	registry     revocation.Registry
	audit        audit.Log
	catalog      KeyCatalog
	fingerprints FingerprintSource
	validator    *Validator
	issuer       *SigningKey
	guard        *AttemptGuard
	metrics      *LicenseMetrics
	publisher    EventPublisher
	lifecycle    *Lifecycle
	inputs       *security.InputValidator
	now          func() time.Time
	maxTrialDays int
	logger       *slog.Logger
}

// NewManager validates deps and builds a Manager
func NewManager(deps Dependencies) (*Manager, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("license manager requires a secure store")
	case deps.TrialStore == nil:
		return nil, errors.New("license manager requires a trial ledger store")
	case deps.Registry == nil:
		return nil, errors.New("license manager requires a revocation registry")
	case deps.Audit == nil:
		return nil, errors.New("license manager requires an audit log")
	case deps.Fingerprints == nil:
		return nil, errors.New("license manager requires a fingerprint source")
	}

	m := &Manager{
		store:        deps.Store,
		ledger:       NewTrialLedger(deps.TrialStore),
		registry:     deps.Registry,
		audit:        deps.Audit,
		catalog:      deps.Catalog,
		fingerprints: deps.Fingerprints,
		validator:    NewValidator(deps.Keys),
		issuer:       deps.Issuer,
		guard:        deps.Guard,
		metrics:      deps.Metrics,
		publisher:    deps.Publisher,
		lifecycle:    NewLifecycle(),
		now:          deps.Clock,
		maxTrialDays: deps.MaxTrialDays,
	}

	m.logger = infrastructure.WithComponent(deps.Logger, "license_manager")
	if m.now == nil {
		m.now = time.Now
	}
	if m.publisher == nil {
		m.publisher = nopPublisher{}
	}
	if m.maxTrialDays <= 0 {
		m.maxTrialDays = DefaultMaxTrialDays
	}
	if m.guard == nil {
		m.guard = NewAttemptGuard(DefaultGuardConfig(), m.now, m.logger)
	}
	m.inputs = security.NewInputValidator(nil)
	m.inputs.SetLogger(m.logger)

	return m, nil
}

// ActivationResult is returned by Activate
type ActivationResult struct {
	Success    bool
	Outcome    OutcomeKind
	State      State
	LicenseID  string
	Tier       Tier
	Features   []Feature
	ExpiresAt  *time.Time
	NewBinding bool
	Reason     string
	// AuditErr is set when the outcome could not be audited. It never
	// changes the outcome.
	AuditErr error
}

// StatusResult is returned by Status
type StatusResult struct {
	State          State
	Outcome        OutcomeKind
	LicenseID      string
	OwnerEmail     string
	Tier           Tier
	Features       []Feature
	IssuedAt       *time.Time
	ExpiresAt      *time.Time
	MaxActivations int
	Activations    int
	Reason         string
	StoreBackend   store.Backend
	StoreDegraded  bool
	AuditErr       error
}

// DaysLeft returns whole days until expiry, or -1 for perpetual licenses
func (s *StatusResult) DaysLeft(now time.Time) int {
	if s.ExpiresAt == nil {
		return -1
	}
	d := s.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// DeactivationResult is returned by Deactivate
type DeactivationResult struct {
	Success   bool
	LicenseID string
	// WasStored is false when there was nothing to deactivate.
	WasStored bool
	AuditErr  error
}

// ValidateResult is returned by Validate
type ValidateResult struct {
	Valid     bool
	Outcome   OutcomeKind
	LicenseID string
	Tier      Tier
	Features  []Feature
	ExpiresAt *time.Time
	Reason    string
	AuditErr  error
}

// TrialResult is returned by GenerateTrial
type TrialResult struct {
	Success    bool
	LicenseID  string
	ExpiresAt  time.Time
	Activation *ActivationResult
}

// RevokeResult is returned by Revoke
type RevokeResult struct {
	LicenseID string
	Permanent bool
	AuditErr  error
}

// CurrentState returns the lifecycle state without touching storage
func (m *Manager) CurrentState() State {
	s, _ := m.lifecycle.Current()
	return s
}

// Now returns the manager clock
func (m *Manager) Now() time.Time {
	return m.now()
}

// StoreBackend reports the secure store in use
func (m *Manager) StoreBackend() (store.Backend, bool) {
	return m.store.Backend(), m.store.Degraded()
}

// Activate binds a license to this machine. keyOrToken is either a token
// blob or a license key known to the catalog; ownerEmail must match the
// token's owner. Only infrastructure failures and rejected input are
// returned as errors; validation verdicts are in the result.
func (m *Manager) Activate(ctx context.Context, keyOrToken, ownerEmail string) (res *ActivationResult, err error) {
	ctx, span := startSpan(ctx, "activate")
	defer func() {
		var outcome OutcomeKind
		if res != nil {
			outcome = res.Outcome
		}
		endSpan(span, outcome, err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	input, email, err := m.checkInputs(ctx, keyOrToken, ownerEmail)
	if err != nil {
		return nil, err
	}

	fp := m.fingerprints.Compute()
	if err := m.guard.Allow(fp.String()); err != nil {
		m.metrics.recordRateLimit(ctx, "activate")
		m.logWarn(ctx, "activation_rate_limited", "Activation attempt rejected by attempt guard", fingerprintAttr(fp))
		return nil, err
	}

	token, err := m.resolveToken(ctx, input)
	if err != nil {
		if isUserError(err) {
			m.guard.RecordResult(fp.String(), false)
		}
		return nil, err
	}

	return m.activateToken(ctx, token, email, fp)
}

// activateToken runs the activation once input is resolved. m.mu must be held.
func (m *Manager) activateToken(ctx context.Context, token, email string, fp security.FingerprintDigest) (*ActivationResult, error) {
	start := time.Now()
	now := m.now()

	if err := m.moveTo(ctx, StatePendingActivation); err != nil {
		return nil, err
	}

	snapshot, err := m.registry.Snapshot(ctx)
	if err != nil {
		m.abortActivation(ctx)
		return nil, fmt.Errorf("failed to read revocation registry: %w", err)
	}

	stored, err := m.loadStored(ctx)
	if err != nil {
		m.abortActivation(ctx)
		return nil, err
	}

	var outcome Outcome
	tok, decodeErr := m.validator.Decode(token)
	if decodeErr != nil {
		outcome = outcomeForDecodeError(decodeErr)
	} else {
		if !strings.EqualFold(tok.OwnerEmail, email) {
			m.abortActivation(ctx)
			m.guard.RecordResult(fp.String(), false)
			m.logWarn(ctx, "activation_owner_mismatch", "E-mail does not match the license owner",
				licenseAttr(tok.LicenseID), emailAttr(email))
			auditErr := m.recordAudit(ctx, audit.Event{
				Type:           audit.EventActivate,
				LicenseID:      tok.LicenseID,
				Outcome:        "OWNER_MISMATCH",
				Fingerprint:    fp.String(),
				ProcessingTime: time.Since(start),
				Error:          licenseErrors.ErrOwnerMismatch.Error(),
			})
			return nil, errors.Join(licenseErrors.ErrOwnerMismatch, auditErr)
		}
		outcome = m.validator.ValidateToken(tok, fp, stored.ActivationsFor(tok.LicenseID), snapshot, now)
	}

	var replaceErr error
	if outcome.Active() {
		next := &StoredLicense{
			Token:       token,
			Activations: stored.ActivationsFor(tok.LicenseID),
			StoredAt:    now.UTC().Truncate(time.Second),
		}
		if outcome.NewBinding {
			next.Activations = append(next.Activations, *outcome.Activation)
		}
		if err := m.saveStored(ctx, next); err != nil {
			m.abortActivation(ctx)
			return nil, err
		}
		replaceErr = m.retireReplaced(ctx, stored, tok.LicenseID)
		m.updateCatalog(ctx, tok.LicenseID, ActivationUpdate{
			Fingerprint: fp.String(),
			Activations: len(next.Activations),
			Active:      true,
		})
	}

	auditErr := errors.Join(replaceErr, m.auditOutcome(ctx, audit.EventActivate, outcome, fp, time.Since(start), nil))
	m.guard.RecordResult(fp.String(), outcome.Active())
	m.metrics.recordActivation(ctx, outcome.Kind)

	state := StateForOutcome(outcome.Kind)
	if err := m.moveTo(ctx, state); err != nil {
		return nil, err
	}

	res := &ActivationResult{
		Success:    outcome.Active(),
		Outcome:    outcome.Kind,
		State:      state,
		LicenseID:  outcome.LicenseID(),
		NewBinding: outcome.NewBinding,
		Reason:     outcome.Reason,
		AuditErr:   auditErr,
	}
	if outcome.Token != nil {
		res.Tier = outcome.Token.Tier
		res.Features = outcome.Token.Features
		res.ExpiresAt = outcome.Token.ExpiresAt
	}
	infrastructure.SetSpanAttributes(ctx, map[string]interface{}{
		"license.tier":        string(res.Tier),
		"license.new_binding": res.NewBinding,
	})

	eventType := EventActivated
	if !res.Success {
		eventType = EventActivationFailed
	}
	m.publish(eventType, res.LicenseID, state, outcome.Kind, nil)

	if res.Success {
		m.logInfo(ctx, "license_activation", "License activated",
			licenseAttr(res.LicenseID),
			slog.String("tier", string(res.Tier)),
			slog.Bool("new_binding", res.NewBinding),
			fingerprintAttr(fp),
		)
	} else {
		m.logWarn(ctx, "license_activation", "License activation rejected",
			licenseAttr(res.LicenseID),
			slog.String("outcome", string(outcome.Kind)),
			slog.String("reason", outcome.Reason),
		)
	}

	return res, nil
}

// Status re-validates the stored license against the current time,
// fingerprint and registry.
func (m *Manager) Status(ctx context.Context) (res *StatusResult, err error) {
	ctx, span := startSpan(ctx, "status")
	defer func() {
		var outcome OutcomeKind
		if res != nil {
			outcome = res.Outcome
		}
		endSpan(span, outcome, err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	now := m.now()
	backend, degraded := m.StoreBackend()

	stored, err := m.loadStored(ctx)
	if err != nil {
		return nil, err
	}

	if stored == nil {
		auditErr := m.recordAudit(ctx, audit.Event{
			Type:           audit.EventValidate,
			Outcome:        OutcomeNoLicense,
			ProcessingTime: time.Since(start),
			Context:        map[string]string{"operation": "status"},
		})
		if err := m.moveTo(ctx, StateNone); err != nil {
			return nil, err
		}
		return &StatusResult{
			State:         StateNone,
			Reason:        "no license stored",
			StoreBackend:  backend,
			StoreDegraded: degraded,
			AuditErr:      auditErr,
		}, nil
	}

	snapshot, err := m.registry.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read revocation registry: %w", err)
	}

	fp := m.fingerprints.Compute()
	outcome := m.validator.Validate(stored.Token, fp, stored.Activations, snapshot, now)

	if outcome.Active() && outcome.NewBinding {
		stored.Activations = append(stored.ActivationsFor(outcome.LicenseID()), *outcome.Activation)
		if err := m.saveStored(ctx, stored); err != nil {
			return nil, err
		}
		m.updateCatalog(ctx, outcome.LicenseID(), ActivationUpdate{
			Fingerprint: fp.String(),
			Activations: len(stored.Activations),
			Active:      true,
		})
		m.logInfo(ctx, "license_rebound", "Stored license bound to this machine",
			licenseAttr(outcome.LicenseID()), fingerprintAttr(fp))
	}

	auditErr := m.auditOutcome(ctx, audit.EventValidate, outcome, fp, time.Since(start),
		map[string]string{"operation": "status"})
	m.metrics.recordValidation(ctx, "status", outcome.Kind, time.Since(start))

	previous := m.CurrentState()
	state := StateForOutcome(outcome.Kind)
	if err := m.moveTo(ctx, state); err != nil {
		return nil, err
	}
	if previous != state {
		m.publish(EventStatusChanged, outcome.LicenseID(), state, outcome.Kind, map[string]any{"previous": string(previous)})
	}

	res = &StatusResult{
		State:         state,
		Outcome:       outcome.Kind,
		LicenseID:     outcome.LicenseID(),
		Reason:        outcome.Reason,
		StoreBackend:  backend,
		StoreDegraded: degraded,
		AuditErr:      auditErr,
	}
	if tok := outcome.Token; tok != nil {
		issued := tok.IssuedAt
		res.OwnerEmail = tok.OwnerEmail
		res.Tier = tok.Tier
		res.Features = tok.Features
		res.IssuedAt = &issued
		res.ExpiresAt = tok.ExpiresAt
		res.MaxActivations = tok.MaxActivations
		res.Activations = len(stored.ActivationsFor(tok.LicenseID))
	}
	return res, nil
}

// Deactivate clears the stored license. Calling it with nothing stored
// succeeds.
func (m *Manager) Deactivate(ctx context.Context) (res *DeactivationResult, err error) {
	ctx, span := startSpan(ctx, "deactivate")
	defer func() { endSpan(span, "", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()

	var licenseID string
	stored, loadErr := m.loadStored(ctx)
	if loadErr != nil {
		// still clear: a corrupt entry must be removable
		m.logWarn(ctx, "license_deactivation", "Stored license unreadable, clearing anyway",
			slog.String("error", loadErr.Error()))
	} else if stored != nil {
		if tok, err := m.validator.Decode(stored.Token); err == nil {
			licenseID = tok.LicenseID
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		m.noteStoreError(ctx, "clear", err)
		return nil, err
	}

	if licenseID != "" {
		m.updateCatalog(ctx, licenseID, ActivationUpdate{Active: false})
	}

	auditErr := m.recordAudit(ctx, audit.Event{
		Type:           audit.EventDeactivate,
		LicenseID:      licenseID,
		Outcome:        "DEACTIVATED",
		ProcessingTime: time.Since(start),
	})
	m.metrics.recordDeactivation(ctx)

	if err := m.moveTo(ctx, StateNone); err != nil {
		return nil, err
	}
	m.publish(EventDeactivated, licenseID, StateNone, "", nil)
	m.logInfo(ctx, "license_deactivation", "License deactivated", licenseAttr(licenseID))

	return &DeactivationResult{
		Success:   true,
		LicenseID: licenseID,
		WasStored: stored != nil,
		AuditErr:  auditErr,
	}, nil
}

// Validate checks a key or token without changing anything but the audit
// log. Activations already stored for the same license are taken into
// account.
func (m *Manager) Validate(ctx context.Context, keyOrToken string) (res *ValidateResult, err error) {
	ctx, span := startSpan(ctx, "validate")
	defer func() {
		var outcome OutcomeKind
		if res != nil {
			outcome = res.Outcome
		}
		endSpan(span, outcome, err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()

	check := m.inputs.ValidateLicenseInput(ctx, keyOrToken)
	if !check.IsValid {
		return nil, fmt.Errorf("%w: %v", licenseErrors.ErrInvalidLicenseKey, check.Err())
	}

	token, err := m.resolveToken(ctx, check.SanitizedValue)
	if err != nil {
		return nil, err
	}

	snapshot, err := m.registry.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read revocation registry: %w", err)
	}

	stored, err := m.loadStored(ctx)
	if err != nil {
		m.logWarn(ctx, "license_validation", "Stored activations unavailable, validating without them",
			slog.String("error", err.Error()))
		stored = nil
	}

	fp := m.fingerprints.Compute()
	outcome := m.validator.Validate(token, fp, stored.ActivationsFor(m.decodedID(token)), snapshot, m.now())

	auditErr := m.auditOutcome(ctx, audit.EventValidate, outcome, fp, time.Since(start),
		map[string]string{"operation": "validate"})
	m.metrics.recordValidation(ctx, "validate", outcome.Kind, time.Since(start))

	res = &ValidateResult{
		Valid:     outcome.Active(),
		Outcome:   outcome.Kind,
		LicenseID: outcome.LicenseID(),
		Reason:    outcome.Reason,
		AuditErr:  auditErr,
	}
	if tok := outcome.Token; tok != nil {
		res.Tier = tok.Tier
		res.Features = tok.Features
		res.ExpiresAt = tok.ExpiresAt
	}
	return res, nil
}

// GenerateTrial issues and activates a TRIAL license signed with the local
// issuer key. Each machine fingerprint gets one trial and none is issued
// over an installed license. The ledger entry is
// written before activation so a crash cannot grant a second one.
func (m *Manager) GenerateTrial(ctx context.Context, ownerEmail string, days int) (res *TrialResult, err error) {
	ctx, span := startSpan(ctx, "generate_trial")
	defer func() { endSpan(span, "", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if days < 1 || days > m.maxTrialDays {
		return nil, fmt.Errorf("%w: %d (allowed 1-%d)", licenseErrors.ErrInvalidTrialDays, days, m.maxTrialDays)
	}
	emailCheck := m.inputs.ValidateEmail(ctx, ownerEmail)
	if !emailCheck.IsValid {
		return nil, licenseErrors.ErrInvalidEmail
	}
	email := emailCheck.SanitizedValue
	if m.issuer == nil {
		return nil, licenseErrors.ErrIssuerKeyMissing
	}

	fp := m.fingerprints.Compute()
	if err := m.guard.Allow(fp.String()); err != nil {
		m.metrics.recordRateLimit(ctx, "trial")
		return nil, err
	}

	stored, err := m.loadStored(ctx)
	if err != nil {
		return nil, err
	}
	if stored != nil && m.decodedID(stored.Token) != "" {
		m.logWarn(ctx, "trial_generation", "Trial refused while a license is installed",
			licenseAttr(m.decodedID(stored.Token)))
		return nil, licenseErrors.ErrLicenseInstalled
	}

	id, err := GenerateLicenseKey()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC().Truncate(time.Second)
	expires := now.Add(time.Duration(days) * 24 * time.Hour)

	token, err := Encode(Payload{
		LicenseID:      id.String(),
		OwnerEmail:     email,
		Tier:           TierTrial,
		Features:       TierDefaults(TierTrial),
		IssuedAt:       now,
		ExpiresAt:      &expires,
		MaxActivations: 1,
	}, *m.issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to sign trial license: %w", err)
	}

	err = m.ledger.Reserve(ctx, TrialEntry{
		Fingerprint: fp.String(),
		EmailHash:   HashEmail(email),
		LicenseID:   id.String(),
		IssuedAt:    now,
		ExpiresAt:   expires,
	})
	if errors.Is(err, licenseErrors.ErrTrialAlreadyUsed) {
		m.guard.RecordResult(fp.String(), false)
		m.metrics.recordTrial(ctx, "rejected")
		m.logWarn(ctx, "trial_generation", "Trial already issued on this machine",
			emailAttr(email), fingerprintAttr(fp))
		return nil, err
	}
	if err != nil {
		m.noteStoreError(ctx, "trial_reserve", err)
		return nil, err
	}

	activation, err := m.activateToken(ctx, token, email, fp)
	if err != nil {
		m.metrics.recordTrial(ctx, "error")
		return nil, err
	}

	m.metrics.recordTrial(ctx, "issued")
	m.publish(EventTrialIssued, id.String(), activation.State, activation.Outcome, map[string]any{"days": days})
	m.logInfo(ctx, "trial_generation", "Trial license issued",
		licenseAttr(id.String()), slog.Int("days", days), slog.Time("expires_at", expires))

	return &TrialResult{
		Success:    activation.Success,
		LicenseID:  id.String(),
		ExpiresAt:  expires,
		Activation: activation,
	}, nil
}

// Revoke appends a revocation for licenseID and audits it
func (m *Manager) Revoke(ctx context.Context, licenseID, reason string, permanent bool, opts ...revocation.RevokeOption) (res *RevokeResult, err error) {
	ctx, span := startSpan(ctx, "revoke")
	defer func() { endSpan(span, "", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	if strings.TrimSpace(licenseID) == "" {
		return nil, licenseErrors.ErrLicenseIDRequired
	}
	key, err := ParseLicenseKey(licenseID)
	if err != nil {
		return nil, err
	}
	id := key.String()

	if err := m.registry.Revoke(ctx, id, reason, permanent, opts...); err != nil {
		return nil, fmt.Errorf("failed to revoke license: %w", err)
	}

	auditErr := m.recordAudit(ctx, audit.Event{
		Type:           audit.EventRevoke,
		LicenseID:      id,
		Outcome:        string(OutcomeRevoked),
		ProcessingTime: time.Since(start),
		Context: map[string]string{
			"reason":    reason,
			"permanent": fmt.Sprintf("%t", permanent),
		},
	})
	m.metrics.recordRevocation(ctx, permanent)
	m.publish(EventRevoked, id, m.CurrentState(), OutcomeRevoked, map[string]any{"permanent": permanent})
	m.logWarn(ctx, "license_revocation", "License revoked",
		licenseAttr(id), slog.Bool("permanent", permanent), slog.String("reason", reason))

	return &RevokeResult{LicenseID: id, Permanent: permanent, AuditErr: auditErr}, nil
}

// ImportToken verifies token and adds it to the key catalog
func (m *Manager) ImportToken(ctx context.Context, token string) (*CatalogEntry, error) {
	if m.catalog == nil {
		return nil, errors.New("no key catalog configured")
	}
	tok, err := m.validator.Decode(token)
	if err != nil {
		return nil, err
	}
	entry := NewCatalogEntry(tok, m.now())
	if err := m.catalog.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to import license: %w", err)
	}
	m.logInfo(ctx, "catalog_import", "License imported into key catalog", licenseAttr(tok.LicenseID))
	return &entry, nil
}

// checkInputs validates and normalises activation input
func (m *Manager) checkInputs(ctx context.Context, keyOrToken, email string) (string, string, error) {
	input := m.inputs.ValidateLicenseInput(ctx, keyOrToken)
	if !input.IsValid {
		return "", "", fmt.Errorf("%w: %v", licenseErrors.ErrInvalidLicenseKey, input.Err())
	}
	mail := m.inputs.ValidateEmail(ctx, email)
	if !mail.IsValid {
		return "", "", licenseErrors.ErrInvalidEmail
	}
	return input.SanitizedValue, mail.SanitizedValue, nil
}

// resolveToken returns input when it is a token, otherwise looks the
// license key up in the catalog.
func (m *Manager) resolveToken(ctx context.Context, input string) (string, error) {
	if IsTokenBlob(input) {
		return input, nil
	}
	key, err := ParseLicenseKey(input)
	if err != nil {
		return "", err
	}
	if m.catalog == nil {
		return "", fmt.Errorf("%w: no key catalog configured", licenseErrors.ErrUnknownLicenseKey)
	}
	entry, err := m.catalog.Lookup(ctx, key.String())
	if err != nil {
		return "", err
	}
	return entry.Token, nil
}

// decodedID returns the license id of token, or "" when it does not decode
func (m *Manager) decodedID(token string) string {
	tok, err := m.validator.Decode(token)
	if err != nil {
		return ""
	}
	return tok.LicenseID
}

func (m *Manager) loadStored(ctx context.Context) (*StoredLicense, error) {
	data, found, err := m.store.Load(ctx)
	if err != nil {
		m.noteStoreError(ctx, "load", err)
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var stored StoredLicense
	if err := json.Unmarshal(data, &stored); err != nil {
		err = &store.StoreError{Op: "load", Backend: m.store.Backend(), Err: fmt.Errorf("%w: %v", store.ErrCorrupt, err)}
		m.noteStoreError(ctx, "load", err)
		return nil, err
	}
	return &stored, nil
}

func (m *Manager) saveStored(ctx context.Context, stored *StoredLicense) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode stored license: %w", err)
	}
	if err := m.store.Store(ctx, data); err != nil {
		m.noteStoreError(ctx, "store", err)
		return err
	}
	return nil
}

func (m *Manager) noteStoreError(ctx context.Context, op string, err error) {
	infrastructure.RecordError(ctx, err)
	m.metrics.recordStoreError(ctx, op, string(m.store.Backend()))
	m.logError(ctx, "store_error", "Secure store operation failed",
		slog.String("operation", op),
		slog.String("backend", string(m.store.Backend())),
		slog.String("error", err.Error()),
	)
}

// retireReplaced closes out the stored license when a different one has
// just taken its place: catalog row, DEACTIVATE audit and event.
func (m *Manager) retireReplaced(ctx context.Context, stored *StoredLicense, nextID string) error {
	if stored == nil {
		return nil
	}
	oldID := m.decodedID(stored.Token)
	if oldID == "" || oldID == nextID {
		return nil
	}

	m.updateCatalog(ctx, oldID, ActivationUpdate{Active: false})
	err := m.recordAudit(ctx, audit.Event{
		Type:      audit.EventDeactivate,
		LicenseID: oldID,
		Outcome:   "REPLACED",
		Context:   map[string]string{"replaced_by": nextID},
	})
	m.metrics.recordDeactivation(ctx)
	m.publish(EventDeactivated, oldID, StateNone, "", map[string]any{"replaced_by": nextID})
	m.logInfo(ctx, "license_replacement", "Installed license replaced",
		licenseAttr(oldID), slog.String("replaced_by", nextID))
	return err
}

// updateCatalog is best effort; the catalog is bookkeeping only
func (m *Manager) updateCatalog(ctx context.Context, licenseID string, update ActivationUpdate) {
	if m.catalog == nil || licenseID == "" {
		return
	}
	err := m.catalog.RecordActivation(ctx, licenseID, update)
	if err != nil && !errors.Is(err, licenseErrors.ErrUnknownLicenseKey) {
		m.logWarn(ctx, "catalog_update", "Failed to update key catalog",
			licenseAttr(licenseID), slog.String("error", err.Error()))
	}
}

// auditOutcome records the event for an outcome, plus TAMPER_DETECTED
// when the integrity check failed.
func (m *Manager) auditOutcome(ctx context.Context, eventType audit.EventType, outcome Outcome, fp security.FingerprintDigest, took time.Duration, extra map[string]string) error {
	event := audit.Event{
		Type:           eventType,
		LicenseID:      outcome.LicenseID(),
		Outcome:        string(outcome.Kind),
		Fingerprint:    fp.String(),
		ProcessingTime: took,
		Context:        extra,
	}
	if !outcome.Active() {
		event.Error = outcome.Reason
		event.Severity = audit.SeverityWarning
	}
	err := m.recordAudit(ctx, event)

	if outcome.Kind == OutcomeTampered {
		m.logError(ctx, "tamper_detected", "License token failed the integrity check",
			slog.String("operation", string(eventType)), fingerprintAttr(fp))
		m.publish(EventTamper, "", m.CurrentState(), OutcomeTampered, nil)
		tamperErr := m.recordAudit(ctx, audit.Event{
			Type:        audit.EventTamperDetected,
			Outcome:     string(OutcomeTampered),
			Severity:    audit.SeverityCritical,
			Fingerprint: fp.String(),
			Error:       outcome.Reason,
			Context:     map[string]string{"operation": string(eventType)},
		})
		err = errors.Join(err, tamperErr)
	}
	return err
}

// recordAudit never fails the caller: the error is logged, counted and
// handed back for the result's AuditErr.
func (m *Manager) recordAudit(ctx context.Context, event audit.Event) error {
	if err := m.audit.Record(ctx, event); err != nil {
		m.metrics.recordAuditFailure(ctx, string(event.Type))
		m.logError(ctx, "audit_write_failed", "Failed to write audit event",
			slog.String("event_type", string(event.Type)),
			licenseAttr(event.LicenseID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// moveTo walks the lifecycle to target. An illegal move is an invariant
// violation: it is logged and returned.
func (m *Manager) moveTo(ctx context.Context, target State) error {
	from := m.CurrentState()
	path := m.lifecycle.PathTo(target)
	if path == nil {
		err := fmt.Errorf("%w: %s -> %s", licenseErrors.ErrIllegalTransition, from, target)
		m.logError(ctx, "illegal_transition", "Rejected illegal license state transition",
			slog.String("from", string(from)), slog.String("to", string(target)))
		return err
	}
	for _, step := range path {
		if err := m.lifecycle.Transition(step, m.now()); err != nil {
			m.logError(ctx, "illegal_transition", "Rejected illegal license state transition",
				slog.String("from", string(from)), slog.String("to", string(step)))
			return err
		}
	}
	if from != target {
		m.logDebug(ctx, "state_transition", "License state changed",
			slog.String("from", string(from)), slog.String("to", string(target)))
	}
	return nil
}

// abortActivation returns a pending activation to NONE
func (m *Manager) abortActivation(ctx context.Context) {
	if m.CurrentState() == StatePendingActivation {
		_ = m.moveTo(ctx, StateNone)
	}
}

func (m *Manager) publish(eventType, licenseID string, state State, outcome OutcomeKind, data map[string]any) {
	m.publisher.Publish(Event{
		Type:      eventType,
		LicenseID: licenseID,
		State:     state,
		Outcome:   outcome,
		Timestamp: m.now().UTC(),
		Data:      data,
	})
}

// isUserError reports errors caused by the caller's input
func isUserError(err error) bool {
	return errors.Is(err, licenseErrors.ErrInvalidLicenseKey) ||
		errors.Is(err, licenseErrors.ErrUnknownLicenseKey) ||
		errors.Is(err, licenseErrors.ErrInvalidEmail) ||
		errors.Is(err, licenseErrors.ErrOwnerMismatch)
}
