// Package validate оборачивает go-playground/validator для проверки тел запросов.
package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var v = validator.New(validator.WithRequiredStructEnabled())

// FieldError — ошибка валидации одного поля.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Struct проверяет структуру по её validate-тегам и возвращает список ошибок полей.
func Struct(s any) []FieldError {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "", Rule: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: strings.ToLower(fe.Field()), Rule: fe.Tag()})
	}
	return out
}

// Message собирает ошибки в одну строку для поля error API-ответа.
func Message(errs []FieldError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Field == "" {
			parts = append(parts, e.Rule)
			continue
		}
		parts = append(parts, e.Field+": "+e.Rule)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
