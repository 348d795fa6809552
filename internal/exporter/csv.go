package exporter

import (
	"encoding/csv"
	"fmt"
	"io"

	"isxlicense/internal/audit"
)

// utf8BOM helps Excel recognise UTF-8
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVOptions configures CSV writing behavior
type CSVOptions struct {
	BOMPrefix bool
	// OmitHeaders skips the header row, for appending to an existing export.
	OmitHeaders bool
}

// WriteAuditCSV writes events as CSV
func WriteAuditCSV(w io.Writer, events []audit.Event, opts CSVOptions) error {
	if opts.BOMPrefix {
		if _, err := w.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	if !opts.OmitHeaders {
		if err := writer.Write(auditHeaders); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
	}

	for i, e := range events {
		if err := writer.Write(auditRecord(e)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
