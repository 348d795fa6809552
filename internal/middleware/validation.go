package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "isxlicense/internal/errors"
	"isxlicense/internal/license"
)

// maxBodySize bounds decoded request bodies. Tokens are a few KiB at most.
const maxBodySize = 64 * 1024

// RequestValidator decodes JSON bodies and checks their validate tags
type RequestValidator struct {
	validator *validator.Validate
}

// NewRequestValidator creates a validator that reports JSON field names
func NewRequestValidator() *RequestValidator {
	v := validator.New()

	v.RegisterValidation("licensekey", isLicenseKeyOrToken)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &RequestValidator{validator: v}
}

// Decode reads r's JSON body into dst and validates it. Failures are
// *errors.APIError values ready for ErrorHandler.HandleError.
func (rv *RequestValidator) Decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierrors.New(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body is too large")
		}
		return apierrors.InvalidRequestWithError(err)
	}
	return rv.ValidateStruct(dst)
}

// ValidateStruct validates a struct and returns validation errors
func (rv *RequestValidator) ValidateStruct(v interface{}) error {
	err := rv.validator.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	out := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(out)
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "licensekey":
		return fmt.Sprintf("%s must be an ISX-XXXX-XXXX-XXXX-XXXX key or a license token", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// isLicenseKeyOrToken accepts anything Activate and Validate can resolve
func isLicenseKeyOrToken(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if license.IsTokenBlob(s) {
		return true
	}
	_, err := license.ParseLicenseKey(s)
	return err == nil
}
