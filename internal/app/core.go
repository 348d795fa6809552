package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"isxlicense/internal/audit"
	"isxlicense/internal/catalog"
	"isxlicense/internal/config"
	"isxlicense/internal/infrastructure"
	"isxlicense/internal/license"
	"isxlicense/internal/persistence"
	"isxlicense/internal/revocation"
	"isxlicense/internal/security"
	"isxlicense/internal/store"
)

// defaultLockTimeout bounds flock waits on the shared data files
const defaultLockTimeout = 5 * time.Second

// AuditBackend is an audit log that can also be queried
type AuditBackend interface {
	audit.Log
	audit.Reader
}

// CatalogBackend is the key catalog plus listing
type CatalogBackend interface {
	license.KeyCatalog
	List(ctx context.Context) ([]license.CatalogEntry, error)
}

// Core is the license engine and everything it persists to. The server
// and licensectl share it.
type Core struct {
	Manager  *license.Manager
	Store    store.Adapter
	Registry revocation.Registry
	Audit    AuditBackend
	Catalog  CatalogBackend
	Keys     *config.DecodedKeys

	logger  *slog.Logger
	closers []func() error
}

// CoreOption adjusts OpenCore
type CoreOption func(*coreOptions)

type coreOptions struct {
	publisher license.EventPublisher
	telemetry *infrastructure.OTelProviders
	clock     func() time.Time
	stores    map[string]store.Adapter
}

// WithPublisher forwards manager events, normally to the websocket hub
func WithPublisher(p license.EventPublisher) CoreOption {
	return func(o *coreOptions) { o.publisher = p }
}

// WithTelemetry records license metrics on the providers' meter
func WithTelemetry(p *infrastructure.OTelProviders) CoreOption {
	return func(o *coreOptions) { o.telemetry = p }
}

// WithClock overrides time.Now for the manager and the file backends
func WithClock(now func() time.Time) CoreOption {
	return func(o *coreOptions) { o.clock = now }
}

// WithStores injects secure store adapters by account instead of opening
// them from configuration.
func WithStores(licenseStore, trialStore store.Adapter) CoreOption {
	return func(o *coreOptions) {
		o.stores = map[string]store.Adapter{
			config.StoreAccountLicense: licenseStore,
			config.StoreAccountTrials:  trialStore,
		}
	}
}

// OpenCore builds the license engine from cfg. Close releases whatever it
// opened, also when OpenCore itself fails halfway.
func OpenCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...CoreOption) (_ *Core, err error) {
	o := &coreOptions{clock: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	c := &Core{logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	keys, err := cfg.Keys.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode keys: %w", err)
	}
	c.Keys = keys
	if len(keys.HMACSecret) == 0 && len(keys.Ed25519PublicKey) == 0 {
		logger.WarnContext(ctx, "No verification keys configured, every token will be rejected",
			slog.String("action", "keys_check"))
	}

	paths := cfg.ResolvedPaths()
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	licenseStore, err := c.openStore(ctx, cfg, paths.StoreFile, config.StoreAccountLicense, o)
	if err != nil {
		return nil, err
	}
	c.Store = licenseStore
	trialStore, err := c.openStore(ctx, cfg, paths.TrialStoreFile, config.StoreAccountTrials, o)
	if err != nil {
		return nil, err
	}

	if err := c.openBackends(ctx, cfg, paths, o.clock); err != nil {
		return nil, err
	}

	var metrics *license.LicenseMetrics
	if o.telemetry != nil {
		if metrics, err = license.NewLicenseMetrics(o.telemetry.Meter); err != nil {
			logger.WarnContext(ctx, "License metrics unavailable", slog.String("error", err.Error()))
			metrics = nil
		}
	}

	guard := license.NewAttemptGuard(license.GuardConfig{
		AttemptsPerMinute: cfg.Guard.AttemptsPerMinute,
		Burst:             cfg.Guard.Burst,
		MaxFailures:       cfg.Guard.MaxFailures,
		BlockDuration:     cfg.Guard.BlockDuration,
	}, o.clock, logger)

	deps := license.Dependencies{
		Store:        licenseStore,
		TrialStore:   trialStore,
		Registry:     c.Registry,
		Audit:        c.Audit,
		Catalog:      c.Catalog,
		Fingerprints: security.NewFingerprintManager(security.WithFingerprintLogger(logger)),
		Keys:         verificationKeys(keys),
		Guard:        guard,
		Metrics:      metrics,
		Publisher:    o.publisher,
		Clock:        o.clock,
		MaxTrialDays: cfg.Trial.MaxDays,
		Logger:       logger,
	}
	if len(keys.IssuerSecret) > 0 {
		issuer := license.HMACSigningKey(keys.IssuerSecret)
		deps.Issuer = &issuer
	}

	manager, err := license.NewManager(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize license manager: %w", err)
	}
	c.Manager = manager

	backend, degraded := manager.StoreBackend()
	logger.InfoContext(ctx, "License engine ready",
		slog.String("store_backend", string(backend)),
		slog.Bool("store_degraded", degraded),
		slog.String("storage_driver", cfg.Storage.Driver))
	return c, nil
}

func (c *Core) openStore(ctx context.Context, cfg *config.Config, file, account string, o *coreOptions) (store.Adapter, error) {
	if s, ok := o.stores[account]; ok && s != nil {
		return s, nil
	}

	opts := store.Options{
		Backend:  cfg.Store.Backend,
		Service:  cfg.Store.Service,
		Timeout:  cfg.Store.Timeout,
		FilePath: file,
		Logger:   c.logger,
	}
	if cfg.Store.Passphrase != "" {
		opts.Passphrase = []byte(cfg.Store.Passphrase)
	}

	s, err := store.Open(ctx, opts, account)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", account, err)
	}
	return s, nil
}

// openBackends wires registry, audit log and catalog to files or postgres
func (c *Core) openBackends(ctx context.Context, cfg *config.Config, paths *config.Paths, now func() time.Time) error {
	if strings.EqualFold(cfg.Storage.Driver, "postgres") {
		db, err := persistence.Connect(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns, c.logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func() error { return persistence.Close(db) })

		if err := persistence.RunMigrations(ctx, db, c.logger); err != nil {
			return err
		}

		auditLog := persistence.NewAuditLog(db, c.logger)
		auditLog.SetClock(now)
		c.Audit = auditLog
		c.Registry = persistence.NewRevocationRegistry(db, now)
		c.Catalog = persistence.NewCatalog(db)
		return nil
	}

	registry, err := revocation.NewFileRegistry(paths.RegistryFile,
		revocation.WithClock(now),
		revocation.WithLogger(c.logger),
		revocation.WithLockTimeout(defaultLockTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to open revocation registry: %w", err)
	}
	c.Registry = registry

	auditLog, err := audit.NewFileLog(paths.AuditFile, c.logger)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	auditLog.SetClock(now)
	c.Audit = auditLog

	cat, err := catalog.NewFileCatalog(paths.CatalogFile, defaultLockTimeout)
	if err != nil {
		return fmt.Errorf("failed to open key catalog: %w", err)
	}
	c.Catalog = cat
	return nil
}

// verificationKeys accepts the vendor secret and the local issuer secret,
// so trials generated on this machine verify too.
func verificationKeys(keys *config.DecodedKeys) license.VerificationKeys {
	vk := license.VerificationKeys{PublicKey: keys.Ed25519PublicKey}
	if len(keys.HMACSecret) > 0 {
		vk.HMACSecrets = append(vk.HMACSecrets, keys.HMACSecret)
	}
	if len(keys.IssuerSecret) > 0 && string(keys.IssuerSecret) != string(keys.HMACSecret) {
		vk.HMACSecrets = append(vk.HMACSecrets, keys.IssuerSecret)
	}
	return vk
}

// Close releases the database connection, if any
func (c *Core) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
