// Package validation checks browser input before it is sent anywhere.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	errs "clash_tracker/internal/errors"
	"clash_tracker/internal/utils"
)

var tagPattern = regexp.MustCompile(`^#[0-9A-Z]{3,14}$`)

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("playertag", func(fl validator.FieldLevel) bool {
		return ValidTag(fl.Field().String())
	})
	return &Validator{v: v}
}

// ValidTag reports whether raw is a usable player tag once formatted.
func ValidTag(raw string) bool {
	return tagPattern.MatchString(utils.FormatTag(raw))
}

// Struct validates s and turns the first failure into a validation error
// carrying a readable message.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errs.Validation(err.Error())
	}
	return errs.Validation(describe(fieldErrs[0]))
}

// Tag formats raw and rejects it when it is not a player tag.
func (v *Validator) Tag(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errs.Validation("player tag is required")
	}
	if !ValidTag(raw) {
		return "", errs.Validation(fmt.Sprintf("%q is not a valid player tag", raw))
	}
	return utils.FormatTag(raw), nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "playertag":
		return fmt.Sprintf("%q is not a valid player tag", fe.Value())
	default:
		return field + " is invalid"
	}
}
