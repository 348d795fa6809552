package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"isxlicense/internal/audit"
)

// AuditSheet is the worksheet name used by WriteAuditXLSX
const AuditSheet = "Audit"

// WriteAuditXLSX writes events as a workbook with one sheet
func WriteAuditXLSX(w io.Writer, events []audit.Event) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), AuditSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(auditHeaders))
	for i, h := range auditHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(AuditSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(AuditSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style headers: %w", err)
	}

	for i, e := range events {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		record := auditRecord(e)
		row := make([]interface{}, len(record))
		for j, v := range record {
			row[j] = v
		}
		if err := f.SetSheetRow(AuditSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := f.SetColWidth(AuditSheet, "A", "B", 38); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
