package cmds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"isxlicense/internal/app"
	"isxlicense/internal/audit"
	"isxlicense/internal/exporter"
)

type auditFilterFlags struct {
	licenseID string
	types     []string
	since     string
	until     string
}

func (f *auditFilterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.licenseID, "license-id", "", "Only events for this license")
	cmd.Flags().StringSliceVar(&f.types, "type", nil, "Event types (activate, deactivate, validate, revoke, tamper_detected)")
	cmd.Flags().StringVar(&f.since, "since", "", "Only events at or after this RFC 3339 time")
	cmd.Flags().StringVar(&f.until, "until", "", "Only events at or before this RFC 3339 time")
}

func (f *auditFilterFlags) filter() (audit.Filter, error) {
	filter := audit.Filter{LicenseID: strings.TrimSpace(f.licenseID)}
	for _, t := range f.types {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			filter.Types = append(filter.Types, audit.EventType(t))
		}
	}
	for _, p := range []struct {
		flag string
		raw  string
		dst  *time.Time
	}{
		{"--since", f.since, &filter.Since},
		{"--until", f.until, &filter.Until},
	} {
		if p.raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, p.raw)
		if err != nil {
			return filter, fmt.Errorf("%s must be an RFC 3339 timestamp", p.flag)
		}
		*p.dst = ts
	}
	return filter, nil
}

func NewCmdAudit(opt *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and export the audit trail",
	}
	cmd.AddCommand(newCmdAuditList(opt))
	cmd.AddCommand(newCmdAuditExport(opt))
	return cmd
}

func newCmdAuditList(opt *RootOptions) *cobra.Command {
	var (
		flags auditFilterFlags
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print audit events as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			filter.Limit = limit

			return opt.withCore(cmd.Context(), func(ctx context.Context, core *app.Core, logger *slog.Logger) error {
				events, err := core.Audit.Events(ctx, filter)
				if err != nil {
					return err
				}
				if events == nil {
					events = []audit.Event{}
				}
				return opt.printJSON(events)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events, newest last; 0 for all")
	return cmd
}

// AuditExportResult is printed after a file export
type AuditExportResult struct {
	Path        string `json:"path"`
	Format      string `json:"format"`
	RecordCount int    `json:"record_count"`
}

func newCmdAuditExport(opt *RootOptions) *cobra.Command {
	var (
		flags  auditFilterFlags
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit events to CSV or XLSX",
		Long: `Export audit events to CSV or XLSX. Without --output the file is written to
the exports directory under the data directory; "-" writes to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := exporter.ParseFormat(format)
			if err != nil {
				return err
			}
			filter, err := flags.filter()
			if err != nil {
				return err
			}

			return opt.withCore(cmd.Context(), func(ctx context.Context, core *app.Core, logger *slog.Logger) error {
				events, err := core.Audit.Events(ctx, filter)
				if err != nil {
					return err
				}

				if output == "-" {
					return exporter.Write(opt.out, f, events)
				}

				path := output
				if path == "" {
					cfg, err := opt.loadConfig()
					if err != nil {
						return err
					}
					name := fmt.Sprintf("audit_%s.%s", time.Now().UTC().Format("20060102_150405"), f)
					path = cfg.ResolvedPaths().GetExportPath(name)
				}
				if err := exporter.ExportFile(path, f, events); err != nil {
					return err
				}

				logger.InfoContext(ctx, "Audit export written",
					slog.String("path", path),
					slog.Int("record_count", len(events)))
				return opt.printJSON(AuditExportResult{
					Path:        path,
					Format:      string(f),
					RecordCount: len(events),
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&format, "format", string(exporter.FormatCSV), "csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, or - for stdout")
	return cmd
}
