// Package validation valida los DTOs de entrada con go-playground/validator.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var inviteCodeRe = regexp.MustCompile(`^[A-Za-z0-9-]{6,128}$`)

// Error agrupa los errores por campo (nombre json).
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return strings.Join(msgs, "; ")
}

// Validator envuelve validator.Validate con las reglas propias.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// los registros solo fallan con tags vacíos
	_ = v.RegisterValidation("invite_code", func(fl validator.FieldLevel) bool {
		return inviteCodeRe.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("display_name", func(fl validator.FieldLevel) bool {
		return ValidDisplayName(fl.Field().String())
	})
	return &Validator{v: v}
}

// ValidDisplayName: no vacío tras recortar, sin caracteres de control.
func ValidDisplayName(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Struct valida i. Los errores de validación se devuelven como *Error.
func (v *Validator) Struct(i any) error {
	err := v.v.Struct(i)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := &Error{Fields: make(map[string]string, len(ve))}
	for _, fe := range ve {
		out.Fields[fe.Field()] = fieldError(fe)
	}
	return out
}

// fieldError convierte un FieldError en un mensaje legible.
func fieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "email":
		return field + " must be a valid email"
	case "invite_code":
		return field + " must be 6-128 characters of letters, digits or '-'"
	case "display_name":
		return field + " must be non-empty printable text"
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}
