package security

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	v := NewInputValidator(nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantValue string
	}{
		{"valid", "user@example.com", true, "user@example.com"},
		{"normalised", "  User@Example.COM ", true, "user@example.com"},
		{"missing at", "user.example.com", false, ""},
		{"empty", "", false, ""},
		{"header injection", "user@example.com\nbcc:x@y.z", false, ""},
		{"too long", strings.Repeat("a", 250) + "@example.com", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateEmail(ctx, tt.input)
			assert.Equal(t, tt.wantValid, result.IsValid, result.Errors)
			if tt.wantValid {
				assert.Equal(t, tt.wantValue, result.SanitizedValue)
				assert.NoError(t, result.Err())
			} else {
				assert.Error(t, result.Err())
			}
		})
	}
}

func TestValidateLicenseInput(t *testing.T) {
	v := NewInputValidator(nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		input     string
		wantValid bool
	}{
		{"license key", "ISX-0123-4567-89AB-CDEF", true},
		{"token blob", "isxlic.v1.hs256.eyJ9.c2ln.0a1b2c3d", true},
		{"surrounding space", "  ISX-0123-4567-89AB-CDEF\n", true},
		{"empty", "   ", false},
		{"control char", "ISX-0123\x00-4567", false},
		{"non ascii", "ISX-０１２３", false},
		{"oversized", strings.Repeat("a", 9000), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateLicenseInput(ctx, tt.input)
			assert.Equal(t, tt.wantValid, result.IsValid, result.Errors)
			if tt.wantValid {
				assert.Equal(t, strings.TrimSpace(tt.input), result.SanitizedValue)
			}
		})
	}
}
