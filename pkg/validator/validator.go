package validator

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	initOnce sync.Once
	shared   *validator.Validate
)

// ValidationError is a single rejected field: which field, which rule, and
// the rule's parameter when it has one (min=6, eqfield=Password, ...).
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors is the full set of rejected fields for one input struct.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		if err.Param != "" {
			parts[i] = err.Field + " failed on " + err.Tag + "=" + err.Param
		} else {
			parts[i] = err.Field + " failed on " + err.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct checks every tagged rule on the struct and returns either
// nil or a ValidationErrors listing each rejected field. Field names follow
// the json tag so callers can echo them back to API consumers directly.
func ValidateStruct(s interface{}) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// Describe renders one failure as a short human-readable reason, phrased to
// follow the field name ("password must be at least 6 characters").
func Describe(failure ValidationError) string {
	switch failure.Tag {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + failure.Param + " characters"
	case "max":
		return "must be at most " + failure.Param + " characters"
	case "eqfield":
		return "must match " + strings.ToLower(failure.Param)
	case "oneof":
		return "must be one of: " + failure.Param
	default:
		if failure.Param != "" {
			return "failed validation: " + failure.Tag + "=" + failure.Param
		}
		return "failed validation: " + failure.Tag
	}
}

// RegisterValidation adds a custom rule to the shared validator.
func RegisterValidation(tag string, fn validator.Func) error {
	return instance().RegisterValidation(tag, fn)
}

func instance() *validator.Validate {
	initOnce.Do(func() {
		shared = validator.New()
		shared.RegisterTagNameFunc(jsonFieldName)
	})
	return shared
}

// jsonFieldName reports failures under the wire name rather than the Go name.
func jsonFieldName(fld reflect.StructField) string {
	name := fld.Tag.Get("json")
	if comma := strings.Index(name, ","); comma != -1 {
		name = name[:comma]
	}
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}
