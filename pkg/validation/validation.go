// Package validation configures the request validator shared by services.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
)

// PasswordPolicyMessage describes the password rules to end users.
const PasswordPolicyMessage = "password must be at least 8 characters long and include an uppercase letter, a digit and a symbol"

const minPasswordLength = 8

// New returns a validator with the project specific tags registered:
//
//	password_policy  length >= 8 with an uppercase letter, a digit and a symbol
//	notblank         non-empty after trimming whitespace
//
// Field names in messages use the json tag of the field.
func New() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("password_policy", func(fl validator.FieldLevel) bool {
		return PasswordMeetsPolicy(fl.Field().String())
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// PasswordMeetsPolicy reports whether password has at least eight characters, an ASCII
// uppercase letter, a digit and a symbol. A symbol is any rune that is neither a word rune
// (letter or number in any script, or underscore) nor whitespace.
func PasswordMeetsPolicy(password string) bool {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return false
	}
	var upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '_':
		case unicode.IsSpace(r):
		default:
			symbol = true
		}
	}
	return upper && digit && symbol
}

// Error converts a validator failure into a ValidationError with a readable message.
// Errors that did not come from the validator are returned unchanged.
func Error(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fieldMessage(fe))
	}
	return appErrors.Clone(appErrors.ErrValidation, strings.Join(messages, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "password_policy":
		return PasswordPolicyMessage
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted as %s", field, fe.Param())
	case "eqfield":
		return fmt.Sprintf("%s must match %s", field, strings.ToLower(fe.Param()))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
