// Package validator wraps go-playground/validator so structs and single
// values can be checked declaratively, with failures reported as one joined
// error rooted at ErrValidationFailed.
package validator

import (
	"errors"
	"fmt"

	gvalidator "github.com/go-playground/validator/v10"
)

// ErrValidationFailed is the first error in the chain returned when validation fails.
var ErrValidationFailed = errors.New("validation failed")

// validator is the shared go-playground instance. It caches struct metadata
// and is safe for concurrent use.
var validator *gvalidator.Validate

// errStringFormat describes one failed rule.
//
// Example: "'Address': value '0x' does not meet the requirements for the 'eth_addr' validation"
const errStringFormat = "'%s': value '%v' does not meet the requirements for the '%s' validation"

func init() {
	validator = gvalidator.New(gvalidator.WithRequiredStructEnabled())
}

// formatError turns go-playground validation errors into a joined error
// with ErrValidationFailed first and one message per failed field. Other
// errors are returned unchanged.
func formatError(err error) error {
	var validationErrors gvalidator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	errs := []error{ErrValidationFailed}
	for _, validationErr := range validationErrors {
		field := validationErr.Field()
		if field == "" {
			field = "value"
		}

		errs = append(errs, fmt.Errorf(errStringFormat, field, validationErr.Value(), validationErr.Tag()))
	}

	return errors.Join(errs...)
}

// Validate checks that v, a struct or pointer to struct, satisfies its
// `validate` tags.
//
//	type Input struct {
//	    Address string `validate:"required,eth_addr"`
//	}
//
//	if err := validator.Validate(input); errors.Is(err, validator.ErrValidationFailed) {
//	    // reject input
//	}
func Validate(v any) error {
	if err := validator.Struct(v); err != nil {
		return formatError(err)
	}

	return nil
}

// Var checks a single value against a tag expression, e.g. Var(addr, "required,eth_addr").
func Var(v any, tag string) error {
	if err := validator.Var(v, tag); err != nil {
		return formatError(err)
	}

	return nil
}
