package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/Additional-Code/printshop/pkg/errorbank"
)

var (
	once     sync.Once
	instance *validatorv10.Validate
)

// New returns a configured validator that reports json field names.
func New() *validatorv10.Validate {
	v := validatorv10.New(validatorv10.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return lowerFirst(fld.Name)
		}
		return name
	})
	return v
}

// Struct validates s with the shared validator and converts failures into
// errorbank validation errors naming the first offending field.
func Struct(s any) error {
	once.Do(func() { instance = New() })

	err := instance.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validatorv10.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errorbank.Validation("invalid input", errorbank.WithCause(err))
	}

	first := fieldErrs[0]
	field := fieldPath(first.Namespace())
	return errorbank.Validation(describe(field, first), errorbank.WithField(field), errorbank.WithCause(err))
}

func describe(field string, fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if k := fe.Kind(); k == reflect.Slice || k == reflect.Map || k == reflect.Array {
			return fmt.Sprintf("%s must contain at most %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "unique":
		return fmt.Sprintf("%s entries must be unique by %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
