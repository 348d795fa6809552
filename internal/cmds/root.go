package cmds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"isxlicense/internal/app"
	"isxlicense/internal/config"
	"isxlicense/internal/infrastructure"
	"isxlicense/internal/services"
)

// ErrCommandFailed marks a command that ran but whose outcome is a failure,
// such as an activation that did not yield an active license. The JSON
// result has already been printed.
var ErrCommandFailed = errors.New("command failed")

// RootOptions are the persistent flags shared by every subcommand
type RootOptions struct {
	ConfigFile string
	DataDir    string
	LogLevel   string

	out    io.Writer
	errOut io.Writer

	// coreOpts is appended to OpenCore; tests use it to inject stores.
	coreOpts []app.CoreOption
}

// NewRootCmd builds licensectl
func NewRootCmd(out, errOut io.Writer, coreOpts ...app.CoreOption) *cobra.Command {
	opt := &RootOptions{out: out, errOut: errOut, coreOpts: coreOpts}

	rootCmd := &cobra.Command{
		Use:           "licensectl",
		Short:         "Issue, activate and inspect ISX licenses",
		Long:          `licensectl manages ISX licenses on this machine and issues new ones. Results are printed as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.PersistentFlags().StringVar(&opt.ConfigFile, "config", "", "Path to the YAML config file (default: licensed.yaml lookup)")
	rootCmd.PersistentFlags().StringVar(&opt.DataDir, "data-dir", "", "Override the data directory")
	rootCmd.PersistentFlags().StringVar(&opt.LogLevel, "log-level", "warn", "Log level for diagnostics written to stderr")

	rootCmd.AddCommand(NewCmdVersion(opt))
	rootCmd.AddCommand(NewCmdActivate(opt))
	rootCmd.AddCommand(NewCmdStatus(opt))
	rootCmd.AddCommand(NewCmdDeactivate(opt))
	rootCmd.AddCommand(NewCmdValidate(opt))
	rootCmd.AddCommand(NewCmdTrial(opt))
	rootCmd.AddCommand(NewCmdRevoke(opt))

	rootCmd.AddCommand(NewCmdKeygen(opt))
	rootCmd.AddCommand(NewCmdIssue(opt))
	rootCmd.AddCommand(NewCmdImport(opt))
	rootCmd.AddCommand(NewCmdAudit(opt))

	return rootCmd
}

// loadConfig reads the config file and environment, then applies flags
func (o *RootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigFile != "" {
		cfg, err = config.LoadFile(o.ConfigFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.DataDir != "" {
		cfg.Paths.DataDir = o.DataDir
	}
	return cfg, nil
}

func (o *RootOptions) logger() *slog.Logger {
	return infrastructure.NewLogger(o.errOut, o.LogLevel).With(slog.String("component", "licensectl"))
}

// withCore opens the license engine for the duration of fn
func (o *RootOptions) withCore(ctx context.Context, fn func(ctx context.Context, core *app.Core, logger *slog.Logger) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	logger := o.logger()
	ctx = infrastructure.EnsureTraceID(ctx)

	core, err := app.OpenCore(ctx, cfg, logger, o.coreOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := core.Close(); cerr != nil {
			logger.WarnContext(ctx, "Failed to close storage", slog.String("error", cerr.Error()))
		}
	}()

	return fn(ctx, core, logger)
}

// withService is withCore for commands that go through the license service
func (o *RootOptions) withService(ctx context.Context, fn func(ctx context.Context, svc services.LicenseService) error) error {
	return o.withCore(ctx, func(ctx context.Context, core *app.Core, logger *slog.Logger) error {
		return fn(ctx, services.NewLicenseService(core.Manager, logger))
	})
}

// printJSON writes v indented to the command output
func (o *RootOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
