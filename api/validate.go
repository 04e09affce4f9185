package api

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// qty_positive: decimal quantity strictly greater than zero
	v.RegisterValidation("qty_positive", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && d.IsPositive()
	})
	// qty_nonzero: signed decimal delta that is not zero
	v.RegisterValidation("qty_nonzero", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && !d.IsZero()
	})
	return v
}

// validateStruct returns nil or the list of failed fields.
func validateStruct(data any) []FieldError {
	err := validate.Struct(data)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "", Tag: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Namespace(), Tag: fe.Tag(), Param: fe.Param()})
	}
	return out
}

func describe(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = fmt.Sprintf("%s failed on %s", e.Field, e.Tag)
	}
	return strings.Join(parts, "; ")
}
