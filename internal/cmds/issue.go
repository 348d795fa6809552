package cmds

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"isxlicense/internal/app"
	"isxlicense/internal/license"
)

// KeygenResult is printed by keygen. Only the fields of the chosen
// algorithm are set.
type KeygenResult struct {
	Algorithm  string `json:"algorithm"`
	Secret     string `json:"secret,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// IssueResult is printed by issue
type IssueResult struct {
	LicenseKey     string     `json:"license_key"`
	Token          string     `json:"token"`
	OwnerEmail     string     `json:"owner_email"`
	Tier           string     `json:"tier"`
	Features       []string   `json:"features"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	MaxActivations int        `json:"max_activations"`
	Cataloged      bool       `json:"cataloged"`
}

// ImportResult is printed by import
type ImportResult struct {
	LicenseKey string     `json:"license_key"`
	Tier       string     `json:"tier"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Imported   bool       `json:"imported"`
}

const hmacSecretBytes = 32

func NewCmdKeygen(opt *RootOptions) *cobra.Command {
	var alg string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate signing key material (hs256 secret or ed25519 key pair)",
		Long: `Generate signing key material. The output is base64; put the secret or the
public key into keys.hmac_secret / keys.ed25519_public_key on every machine
that verifies, and keep the private half with the issuer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch license.Algorithm(strings.ToLower(alg)) {
			case license.AlgHS256:
				secret := make([]byte, hmacSecretBytes)
				if _, err := rand.Read(secret); err != nil {
					return fmt.Errorf("failed to generate secret: %w", err)
				}
				return opt.printJSON(KeygenResult{
					Algorithm: string(license.AlgHS256),
					Secret:    base64.StdEncoding.EncodeToString(secret),
				})
			case license.AlgEd25519:
				pub, priv, err := ed25519.GenerateKey(rand.Reader)
				if err != nil {
					return fmt.Errorf("failed to generate key pair: %w", err)
				}
				return opt.printJSON(KeygenResult{
					Algorithm:  string(license.AlgEd25519),
					PublicKey:  base64.StdEncoding.EncodeToString(pub),
					PrivateKey: base64.StdEncoding.EncodeToString(priv),
				})
			default:
				return fmt.Errorf("unsupported algorithm %q (want hs256 or ed25519)", alg)
			}
		},
	}
	cmd.Flags().StringVar(&alg, "alg", string(license.AlgHS256), "Algorithm: hs256 or ed25519")
	return cmd
}

type issueOptions struct {
	email          string
	tier           string
	features       []string
	days           int
	maxActivations int
	alg            string
	secret         string
	privateKey     string
	catalog        bool
}

func NewCmdIssue(opt *RootOptions) *cobra.Command {
	iopt := issueOptions{tier: string(license.TierStandard), maxActivations: 1}

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a new license and print its key and token",
		Long: `Sign a new license. With --catalog the token is also imported into the
local key catalog so "licensectl activate LICENSE_KEY" works on this
machine. Without --features the tier's default features are granted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opt.loadConfig()
			if err != nil {
				return err
			}
			keys, err := cfg.Keys.Decode()
			if err != nil {
				return err
			}

			signingKey, err := iopt.signingKey(keys.HMACSecret)
			if err != nil {
				return err
			}
			payload, err := iopt.payload(time.Now())
			if err != nil {
				return err
			}

			token, err := license.Encode(payload, signingKey)
			if err != nil {
				return err
			}
			tok, err := license.Decode(token, license.VerificationKeys{
				HMACSecrets: [][]byte{signingKey.HMACSecret},
				PublicKey:   publicHalf(signingKey),
			})
			if err != nil {
				return fmt.Errorf("issued token does not verify: %w", err)
			}

			result := IssueResult{
				LicenseKey:     tok.LicenseID,
				Token:          token,
				OwnerEmail:     tok.OwnerEmail,
				Tier:           string(tok.Tier),
				Features:       featureStrings(tok.Features),
				IssuedAt:       tok.IssuedAt,
				ExpiresAt:      tok.ExpiresAt,
				MaxActivations: tok.MaxActivations,
			}

			if iopt.catalog {
				err := opt.withCore(cmd.Context(), func(ctx context.Context, core *app.Core, logger *slog.Logger) error {
					_, err := core.Manager.ImportToken(ctx, token)
					return err
				})
				if err != nil {
					return fmt.Errorf("failed to import into catalog: %w", err)
				}
				result.Cataloged = true
			}
			return opt.printJSON(result)
		},
	}

	f := cmd.Flags()
	f.StringVar(&iopt.email, "email", "", "License owner e-mail")
	f.StringVar(&iopt.tier, "tier", iopt.tier, "TRIAL, STANDARD, PROFESSIONAL or ENTERPRISE")
	f.StringSliceVar(&iopt.features, "features", nil, "Comma separated features (default: the tier's features)")
	f.IntVar(&iopt.days, "days", 365, "Validity in days; 0 issues a perpetual license")
	f.IntVar(&iopt.maxActivations, "max-activations", iopt.maxActivations, "Machines the license may be bound to")
	f.StringVar(&iopt.alg, "alg", string(license.AlgHS256), "Signing algorithm: hs256 or ed25519")
	f.StringVar(&iopt.secret, "secret", "", "Base64 hs256 secret (default: keys.hmac_secret)")
	f.StringVar(&iopt.privateKey, "private-key", "", "Base64 ed25519 private key, or @file")
	f.BoolVar(&iopt.catalog, "catalog", false, "Import the issued token into the local key catalog")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (o issueOptions) payload(now time.Time) (license.Payload, error) {
	tier, err := license.ParseTier(o.tier)
	if err != nil {
		return license.Payload{}, err
	}
	features := license.TierDefaults(tier)
	if len(o.features) > 0 {
		if features, err = license.ParseFeatures(o.features); err != nil {
			return license.Payload{}, err
		}
	}
	if o.days < 0 {
		return license.Payload{}, errors.New("--days must not be negative")
	}
	if o.maxActivations < 1 {
		return license.Payload{}, errors.New("--max-activations must be at least 1")
	}

	p := license.Payload{
		OwnerEmail:     strings.TrimSpace(o.email),
		Tier:           tier,
		Features:       features,
		IssuedAt:       now,
		MaxActivations: o.maxActivations,
	}
	if o.days > 0 {
		expires := now.Add(time.Duration(o.days) * 24 * time.Hour)
		p.ExpiresAt = &expires
	}
	return p, nil
}

func (o issueOptions) signingKey(configSecret []byte) (license.SigningKey, error) {
	switch license.Algorithm(strings.ToLower(o.alg)) {
	case license.AlgHS256:
		secret := configSecret
		if o.secret != "" {
			b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(o.secret))
			if err != nil {
				return license.SigningKey{}, fmt.Errorf("invalid --secret: %w", err)
			}
			secret = b
		}
		if len(secret) == 0 {
			return license.SigningKey{}, errors.New("no hs256 secret: pass --secret or configure keys.hmac_secret")
		}
		return license.HMACSigningKey(secret), nil

	case license.AlgEd25519:
		raw := strings.TrimSpace(o.privateKey)
		if strings.HasPrefix(raw, "@") {
			data, err := os.ReadFile(raw[1:])
			if err != nil {
				return license.SigningKey{}, fmt.Errorf("failed to read private key: %w", err)
			}
			raw = strings.TrimSpace(string(data))
		}
		if raw == "" {
			return license.SigningKey{}, errors.New("ed25519 issuing requires --private-key")
		}
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return license.SigningKey{}, fmt.Errorf("invalid --private-key: %w", err)
		}
		if len(b) != ed25519.PrivateKeySize {
			return license.SigningKey{}, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
		}
		return license.Ed25519SigningKey(ed25519.PrivateKey(b)), nil
	}
	return license.SigningKey{}, fmt.Errorf("unsupported algorithm %q (want hs256 or ed25519)", o.alg)
}

func publicHalf(k license.SigningKey) ed25519.PublicKey {
	if len(k.PrivateKey) != ed25519.PrivateKeySize {
		return nil
	}
	return k.PrivateKey.Public().(ed25519.PublicKey)
}

func featureStrings(features []license.Feature) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		out = append(out, string(f))
	}
	return out
}

func NewCmdImport(opt *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import TOKEN",
		Short: "Verify a delivered token and add it to the key catalog",
		Long: `Verify a delivered token and add it to the key catalog, so it can later be
activated with just its license key. Pass "-" to read the token from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(args[0])
			if token == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
				token = strings.TrimSpace(string(data))
			}
			if !license.IsTokenBlob(token) {
				return errors.New("argument is not a license token")
			}

			return opt.withCore(cmd.Context(), func(ctx context.Context, core *app.Core, logger *slog.Logger) error {
				entry, err := core.Manager.ImportToken(ctx, token)
				if err != nil {
					return err
				}
				return opt.printJSON(ImportResult{
					LicenseKey: entry.LicenseID,
					Tier:       string(entry.LicenseType),
					ExpiresAt:  entry.ExpiresAt,
					Imported:   true,
				})
			})
		},
	}
}
