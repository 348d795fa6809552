package exporter

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"isxlicense/internal/audit"
)

// Format selects an export writer
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts any letter case
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
}

// ContentType is the media type served for a format
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Write streams events to w in the given format
func Write(w io.Writer, format Format, events []audit.Event) error {
	switch format {
	case FormatCSV:
		return WriteAuditCSV(w, events, CSVOptions{BOMPrefix: true})
	case FormatXLSX:
		return WriteAuditXLSX(w, events)
	default:
		return fmt.Errorf("unsupported export format: %q", format)
	}
}

// ExportFile writes events to path in the given format. The file is written
// under a temporary name and renamed into place.
func ExportFile(path string, format Format, events []audit.Event) error {
	slog.Info("Writing audit export",
		slog.String("file_path", path),
		slog.String("format", string(format)),
		slog.Int("record_count", len(events)))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, format, events); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
