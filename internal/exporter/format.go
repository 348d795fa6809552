package exporter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"isxlicense/internal/audit"
)

// auditHeaders is the column layout shared by every format
var auditHeaders = []string{
	"id",
	"timestamp",
	"event_type",
	"severity",
	"license_id",
	"outcome",
	"fingerprint",
	"processing_ms",
	"error",
	"context",
}

// formatTime formats timestamps as RFC 3339 in UTC
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// formatDuration formats a duration in milliseconds with 3 decimal places
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d)/float64(time.Millisecond))
}

// formatContext renders context as sorted key=value pairs
func formatContext(ctx map[string]string) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+ctx[k])
	}
	return strings.Join(parts, ";")
}

func auditRecord(e audit.Event) []string {
	return []string{
		e.ID,
		formatTime(e.Timestamp),
		string(e.Type),
		string(e.Severity),
		e.LicenseID,
		e.Outcome,
		e.Fingerprint,
		formatDuration(e.ProcessingTime),
		e.Error,
		formatContext(e.Context),
	}
}
