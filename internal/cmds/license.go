package cmds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apierrors "isxlicense/internal/errors"
	"isxlicense/internal/middleware"
	"isxlicense/internal/services"
	"isxlicense/pkg/contracts"
	"isxlicense/pkg/contracts/domain"
)

var requestValidator = middleware.NewRequestValidator()

// validate applies the same tag rules the HTTP API uses
func validate(req any) error {
	err := requestValidator.ValidateStruct(req)
	if err == nil {
		return nil
	}
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		if details, ok := apiErr.Details.(apierrors.ValidationErrors); ok {
			msgs := make([]string, 0, len(details.Errors))
			for _, fe := range details.Errors {
				msgs = append(msgs, fe.Field+": "+fe.Message)
			}
			return fmt.Errorf("%w: %s", services.ErrInvalidInput, strings.Join(msgs, "; "))
		}
	}
	return fmt.Errorf("%w: %v", services.ErrInvalidInput, err)
}

func NewCmdVersion(opt *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and token format information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opt.printJSON(contracts.GetVersionInfo())
		},
	}
}

func NewCmdActivate(opt *RootOptions) *cobra.Command {
	var req domain.LicenseActivationRequest

	cmd := &cobra.Command{
		Use:   "activate LICENSE_KEY_OR_TOKEN",
		Short: "Activate a license on this machine",
		Long: `Activate a license on this machine. A bare license key is resolved
through the key catalog (see "licensectl import"); a token blob is used as is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.LicenseKey = strings.TrimSpace(args[0])
			if err := validate(req); err != nil {
				return err
			}
			return opt.withService(cmd.Context(), func(ctx context.Context, svc services.LicenseService) error {
				resp, err := svc.Activate(ctx, req)
				if err != nil {
					return err
				}
				if err := opt.printJSON(resp); err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("%w: activation outcome %s", ErrCommandFailed, resp.Outcome)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "License owner e-mail")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func NewCmdStatus(opt *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Re-validate the stored license and print its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opt.withService(cmd.Context(), func(ctx context.Context, svc services.LicenseService) error {
				resp, err := svc.GetStatus(ctx)
				if err != nil {
					return err
				}
				return opt.printJSON(resp)
			})
		},
	}
}

func NewCmdDeactivate(opt *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Remove the stored license from this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opt.withService(cmd.Context(), func(ctx context.Context, svc services.LicenseService) error {
				resp, err := svc.Deactivate(ctx)
				if err != nil {
					return err
				}
				return opt.printJSON(resp)
			})
		},
	}
}

func NewCmdValidate(opt *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate LICENSE_KEY_OR_TOKEN",
		Short: "Validate a license without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.LicenseValidationRequest{LicenseKey: strings.TrimSpace(args[0])}
			if err := validate(req); err != nil {
				return err
			}
			return opt.withService(cmd.Context(), func(ctx context.Context, svc services.LicenseService) error {
				resp, err := svc.Validate(ctx, req)
				if err != nil {
					return err
				}
				if err := opt.printJSON(resp); err != nil {
					return err
				}
				if !resp.Valid {
					return fmt.Errorf("%w: validation outcome %s", ErrCommandFailed, resp.Outcome)
				}
				return nil
			})
		},
	}
}

func NewCmdTrial(opt *RootOptions) *cobra.Command {
	req := domain.TrialRequest{Days: 14}

	cmd := &cobra.Command{
		Use:   "trial",
		Short: "Generate and activate a trial license (once per machine)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validate(req); err != nil {
				return err
			}
			return opt.withService(cmd.Context(), func(ctx context.Context, svc services.LicenseService) error {
				resp, err := svc.GenerateTrial(ctx, req)
				if err != nil {
					return err
				}
				if err := opt.printJSON(resp); err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("%w: trial was not activated", ErrCommandFailed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "Trial owner e-mail")
	cmd.Flags().IntVar(&req.Days, "days", req.Days, "Trial length in days")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func NewCmdRevoke(opt *RootOptions) *cobra.Command {
	var (
		req         domain.RevocationRequest
		reinstateAt string
	)

	cmd := &cobra.Command{
		Use:   "revoke LICENSE_ID",
		Short: "Record a revocation in the registry",
		Long: `Record a revocation in the registry. Permanent revocations can never be
lifted; temporary ones may carry --reinstate-at (RFC 3339).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.LicenseID = strings.TrimSpace(args[0])
			if reinstateAt != "" {
				ts, err := time.Parse(time.RFC3339, reinstateAt)
				if err != nil {
					return fmt.Errorf("%w: --reinstate-at must be an RFC 3339 timestamp", services.ErrInvalidInput)
				}
				req.ReinstateAt = &ts
			}
			if err := validate(req); err != nil {
				return err
			}
			return opt.withService(cmd.Context(), func(ctx context.Context, svc services.LicenseService) error {
				resp, err := svc.Revoke(ctx, req)
				if err != nil {
					return err
				}
				return opt.printJSON(resp)
			})
		},
	}
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Reason recorded with the revocation")
	cmd.Flags().BoolVar(&req.Permanent, "permanent", false, "Revoke permanently")
	cmd.Flags().StringVar(&reinstateAt, "reinstate-at", "", "Lift a temporary revocation at this time")
	return cmd
}
