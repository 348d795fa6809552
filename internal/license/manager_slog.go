package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"isxlicense/internal/infrastructure"
)

// logAction logs a manager action with the standard license attributes
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		infrastructure.AddSpanEvent(ctx, "license."+action, map[string]interface{}{
			"action": action,
			"result": result,
		})
	}

	allAttrs := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}
	allAttrs = append(allAttrs, attrs...)

	m.logger.LogAttrs(ctx, level, result, allAttrs...)
}

func (m *Manager) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// licenseAttr masks a license id for logs
func licenseAttr(licenseID string) slog.Attr {
	if licenseID == "" {
		return slog.String("license_id", "")
	}
	return slog.String("license_id", MaskLicenseID(licenseID))
}

func emailAttr(email string) slog.Attr {
	return slog.String("user_email_masked", maskEmail(email))
}

func fingerprintAttr(fp fmt.Stringer) slog.Attr {
	return slog.String("fingerprint_hash", hashFingerprint(fp.String()))
}

// maskEmail keeps the first and last character of the local part
func maskEmail(email string) string {
	if email == "" {
		return ""
	}

	atIndex := strings.Index(email, "@")
	if atIndex == -1 {
		return "****"
	}

	username := email[:atIndex]
	domain := email[atIndex:]

	if len(username) <= 2 {
		return "**" + domain
	}

	return username[:1] + "****" + username[len(username)-1:] + domain
}

// hashFingerprint shortens a fingerprint for log correlation
func hashFingerprint(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	h := sha256.Sum256([]byte(fingerprint))
	return fmt.Sprintf("%x", h)[:16]
}
