package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// InputValidator validates and normalises user supplied license input
type InputValidator struct {
	logger         *slog.Logger
	validate       *validator.Validate
	maxEmailLength int
	maxInputLength int
}

// ValidationConfig holds configuration for input validation
type ValidationConfig struct {
	MaxEmailLength int `json:"max_email_length"`
	MaxInputLength int `json:"max_input_length"`
}

// ValidationResult represents the result of input validation
type ValidationResult struct {
	IsValid        bool     `json:"is_valid"`
	SanitizedValue string   `json:"sanitized_value"`
	Errors         []string `json:"errors"`
	InputType      string   `json:"input_type"`
}

// Err returns the first validation error, or nil
func (r *ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	if len(r.Errors) == 0 {
		return fmt.Errorf("invalid %s", r.InputType)
	}
	return fmt.Errorf("invalid %s: %s", r.InputType, r.Errors[0])
}

// NewInputValidator creates a new input validator
func NewInputValidator(config *ValidationConfig) *InputValidator {
	if config == nil {
		config = DefaultValidationConfig()
	}
	return &InputValidator{
		logger:         slog.Default(),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		maxEmailLength: config.MaxEmailLength,
		maxInputLength: config.MaxInputLength,
	}
}

// DefaultValidationConfig returns the default validation configuration
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		MaxEmailLength: 254,  // RFC 5321
		MaxInputLength: 8192, // token blobs are a few hundred bytes
	}
}

// SetLogger sets a custom logger for the validator
func (v *InputValidator) SetLogger(logger *slog.Logger) {
	v.logger = logger
}

// ValidateEmail validates and normalises an email address
func (v *InputValidator) ValidateEmail(ctx context.Context, email string) *ValidationResult {
	result := &ValidationResult{InputType: "email", Errors: []string{}}

	sanitized := strings.ToLower(strings.TrimSpace(removeControlCharacters(email)))
	result.SanitizedValue = sanitized

	switch {
	case sanitized == "":
		result.Errors = append(result.Errors, "email cannot be empty")
	case len(sanitized) > v.maxEmailLength:
		result.Errors = append(result.Errors, fmt.Sprintf("email exceeds maximum length of %d characters", v.maxEmailLength))
	case sanitized != strings.ToLower(strings.TrimSpace(email)):
		result.Errors = append(result.Errors, "email contains control characters")
	default:
		if err := v.validate.Var(sanitized, "email"); err != nil {
			result.Errors = append(result.Errors, "invalid email format")
		}
	}

	result.IsValid = len(result.Errors) == 0
	if !result.IsValid {
		v.logger.DebugContext(ctx, "Email validation failed",
			slog.Any("errors", result.Errors))
	}
	return result
}

// ValidateLicenseInput checks a license key or token blob before parsing.
// Format checks belong to the parsers; this only rejects input that cannot
// be either.
func (v *InputValidator) ValidateLicenseInput(ctx context.Context, input string) *ValidationResult {
	result := &ValidationResult{InputType: "license", Errors: []string{}}

	trimmed := strings.TrimSpace(input)
	result.SanitizedValue = trimmed

	switch {
	case trimmed == "":
		result.Errors = append(result.Errors, "license key cannot be empty")
	case len(trimmed) > v.maxInputLength:
		result.Errors = append(result.Errors, fmt.Sprintf("license input exceeds maximum length of %d characters", v.maxInputLength))
	case !utf8.ValidString(trimmed):
		result.Errors = append(result.Errors, "license input is not valid UTF-8")
	default:
		for _, r := range trimmed {
			if r > unicode.MaxASCII || unicode.IsControl(r) {
				result.Errors = append(result.Errors, "license input contains unsupported characters")
				break
			}
		}
	}

	result.IsValid = len(result.Errors) == 0
	if !result.IsValid {
		v.logger.WarnContext(ctx, "Suspicious license input rejected",
			slog.Int("length", len(input)),
			slog.Any("errors", result.Errors))
	}
	return result
}

// removeControlCharacters removes null bytes and control characters
func removeControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if unicode.IsPrint(r) || r == ' ' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
