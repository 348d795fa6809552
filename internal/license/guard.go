package license

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	licenseErrors "isxlicense/internal/errors"
	"isxlicense/internal/infrastructure"
)

// GuardConfig configures the AttemptGuard
type GuardConfig struct {
	AttemptsPerMinute float64
	Burst             int
	MaxFailures       int
	BlockDuration     time.Duration
}

// DefaultGuardConfig allows ten attempts per minute and blocks for fifteen
// minutes after five consecutive failures.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		AttemptsPerMinute: 10,
		Burst:             5,
		MaxFailures:       5,
		BlockDuration:     15 * time.Minute,
	}
}

// maxTrackedIdentifiers bounds memory before idle entries are pruned
const maxTrackedIdentifiers = 10000

type guardEntry struct {
	limiter      *rate.Limiter
	failures     int
	blockedUntil time.Time
	lastSeen     time.Time
}

// AttemptGuard limits activation and trial attempts per machine fingerprint
type AttemptGuard struct {
	mu      sync.Mutex
	cfg     GuardConfig
	entries map[string]*guardEntry
	now     func() time.Time
	logger  *slog.Logger
}

// NewAttemptGuard creates a guard; now may be nil for the wall clock
func NewAttemptGuard(cfg GuardConfig, now func() time.Time, logger *slog.Logger) *AttemptGuard {
	if cfg.AttemptsPerMinute <= 0 {
		cfg.AttemptsPerMinute = DefaultGuardConfig().AttemptsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &AttemptGuard{
		cfg:     cfg,
		entries: make(map[string]*guardEntry),
		now:     now,
		logger:  logger,
	}
}

// Allow consumes one attempt for identifier. It returns
// errors.ErrRateLimited while the identifier is blocked or out of tokens.
func (g *AttemptGuard) Allow(identifier string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	e := g.entry(identifier, now)

	if now.Before(e.blockedUntil) {
		return licenseErrors.ErrRateLimited
	}
	if !e.limiter.AllowN(now, 1) {
		return licenseErrors.ErrRateLimited
	}
	return nil
}

// RecordResult resets the failure count on success and blocks the
// identifier after MaxFailures consecutive failures.
func (g *AttemptGuard) RecordResult(identifier string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	e := g.entry(identifier, now)

	if success {
		e.failures = 0
		return
	}

	e.failures++
	if g.cfg.MaxFailures > 0 && e.failures >= g.cfg.MaxFailures {
		e.blockedUntil = now.Add(g.cfg.BlockDuration)
		g.logger.Warn("Activation attempts blocked after repeated failures",
			slog.String("action", "security_violation"),
			slog.String("identifier", shortIdentifier(identifier)),
			slog.Int("attempt_count", e.failures),
			slog.Int("max_attempts", g.cfg.MaxFailures),
			slog.Time("blocked_until", e.blockedUntil),
		)
		e.failures = 0
	}
}

// IsBlocked reports whether identifier is currently blocked
func (g *AttemptGuard) IsBlocked(identifier string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[identifier]
	return ok && g.now().Before(e.blockedUntil)
}

// entry must be called with g.mu held
func (g *AttemptGuard) entry(identifier string, now time.Time) *guardEntry {
	e, ok := g.entries[identifier]
	if !ok {
		if len(g.entries) >= maxTrackedIdentifiers {
			g.prune(now)
		}
		e = &guardEntry{
			limiter: rate.NewLimiter(rate.Limit(g.cfg.AttemptsPerMinute/60), g.cfg.Burst),
		}
		g.entries[identifier] = e
	}
	e.lastSeen = now
	return e
}

// prune drops identifiers idle for longer than the block duration
func (g *AttemptGuard) prune(now time.Time) {
	idle := g.cfg.BlockDuration
	if idle < time.Hour {
		idle = time.Hour
	}
	for id, e := range g.entries {
		if now.Sub(e.lastSeen) > idle && !now.Before(e.blockedUntil) {
			delete(g.entries, id)
		}
	}
}

func shortIdentifier(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
