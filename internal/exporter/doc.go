// Package exporter writes audit events to spreadsheets.
//
// WriteAuditCSV produces a UTF-8 CSV (optionally with a BOM so Excel detects
// the encoding) and WriteAuditXLSX produces a single-sheet workbook. Both use
// the same column layout. ExportFile picks the writer from a Format and
// writes through a temporary file.
//
// Example usage:
//
//	events, err := auditLog.Events(ctx, audit.Filter{LicenseID: id})
//	if err != nil {
//		return err
//	}
//	err = exporter.ExportFile("audit.xlsx", exporter.FormatXLSX, events)
package exporter
