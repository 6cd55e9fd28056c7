package domain

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			switch fl.Field().Kind() {
			case reflect.Float32, reflect.Float64:
				return IsFinite(fl.Field().Float())
			default:
				return true
			}
		})
		validate = v
	})
	return validate
}

// Validate checks struct tags on domain values and reports failures wrapped
// in ErrInvalidInput.
func Validate(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%w: %s failed %q", ErrInvalidInput, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

// ValidateFinite rejects NaN and infinite values for the named field.
func ValidateFinite(field string, value float64) error {
	if !IsFinite(value) {
		return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidInput, field, value)
	}
	return nil
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
