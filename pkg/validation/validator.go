package validation

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// ErrInvalid is wrapped by every validation failure
	ErrInvalid = errors.New("validation failed")
)

func init() {
	validate = validator.New()
}

// FieldError is a validation failure with a user-facing message
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

func (e *FieldError) Unwrap() error {
	return ErrInvalid
}

// Failf builds a FieldError
func Failf(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Struct validates v using its `validate` struct tags
func Struct(v any) error {
	if v == nil {
		return Failf("", "value cannot be nil")
	}
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return Failf(field, "%s: field is required", field)
		case "min", "gte":
			return Failf(field, "%s: must be at least %s", field, param)
		case "max", "lte":
			return Failf(field, "%s: must not exceed %s", field, param)
		case "gt":
			return Failf(field, "%s: must be greater than %s", field, param)
		case "oneof":
			return Failf(field, "%s: must be one of [%s]", field, param)
		case "url", "hostname_port":
			return Failf(field, "%s: %q is not a valid address", field, e.Value())
		default:
			return Failf(field, "%s: validation failed (%s)", field, e.Tag())
		}
	}

	return err
}
