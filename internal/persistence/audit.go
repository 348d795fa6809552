package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"isxlicense/internal/audit"
	"isxlicense/internal/infrastructure"
)

// AuditLog writes every event to security_events and VALIDATE events
// additionally to license_validation_log, in one transaction.
type AuditLog struct {
	db     *gorm.DB
	now    func() time.Time
	logger *slog.Logger
}

// NewAuditLog wraps db
func NewAuditLog(db *gorm.DB, logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &AuditLog{db: db, now: time.Now, logger: logger}
}

// SetClock overrides the time source used for unset timestamps
func (l *AuditLog) SetClock(now func() time.Time) { l.now = now }

// Record appends event
func (l *AuditLog) Record(ctx context.Context, event audit.Event) error {
	event = audit.Normalize(event, l.now())
	rec, err := toSecurityEventModel(event)
	if err != nil {
		return err
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert security event: %w", err)
		}
		if event.Type != audit.EventValidate {
			return nil
		}
		vlog := toValidationLogModel(event)
		if err := tx.Create(&vlog).Error; err != nil {
			return fmt.Errorf("insert validation log: %w", err)
		}
		return nil
	})
}

// Events returns matching events oldest first
func (l *AuditLog) Events(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	query := l.db.WithContext(ctx).Model(&securityEventModel{})
	if filter.LicenseID != "" {
		query = query.Where("license_id = ?", filter.LicenseID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		query = query.Where("event_type IN ?", types)
	}
	if !filter.Since.IsZero() {
		query = query.Where("event_timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("event_timestamp <= ?", filter.Until)
	}

	var rows []securityEventModel
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read security events: %w", err)
	}

	events := make([]audit.Event, 0, len(rows))
	for _, row := range rows {
		e, err := toAuditEvent(row)
		if err != nil {
			l.logger.WarnContext(ctx, "Skipping unreadable security event",
				slog.String("action", "audit_skip_row"),
				slog.Int64("row_id", row.ID),
			)
			continue
		}
		events = append(events, e)
	}
	return filter.Apply(events), nil
}

// Writable pings the database
func (l *AuditLog) Writable(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
