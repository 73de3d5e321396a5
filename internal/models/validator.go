package models

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError is a single field-level validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationErrors aggregates field-level failures for a 400 response.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	return v.Errors[0].Message
}

// ValidateStruct validates a struct against its validate tags.
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return asValidationErrors(err)
	}
	return nil
}

// DecodeAndValidate parses a JSON body into dst and validates it, collecting
// field-level errors so the client sees everything wrong in one response.
func DecodeAndValidate(body io.Reader, dst any) error {
	var allErrors []ValidationError

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if jsonErr, ok := err.(*json.UnmarshalTypeError); ok {
			allErrors = append(allErrors, ValidationError{
				Field:   jsonErr.Field,
				Tag:     "type",
				Message: fmt.Sprintf("invalid type for field %q: expected %s", jsonErr.Field, jsonErr.Type.String()),
			})
		} else {
			return ValidationErrors{Errors: []ValidationError{{
				Tag:     "json",
				Message: "invalid request body: " + err.Error(),
			}}}
		}
	}

	if err := validate.Struct(dst); err != nil {
		if ve, ok := asValidationErrors(err).(ValidationErrors); ok {
			allErrors = append(allErrors, ve.Errors...)
		}
	}

	if len(allErrors) > 0 {
		return ValidationErrors{Errors: allErrors}
	}
	return nil
}

func asValidationErrors(err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{Errors: []ValidationError{{Tag: "struct", Message: err.Error()}}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   jsonFieldName(fe),
			Tag:     fe.Tag(),
			Message: validationMessage(fe),
		})
	}
	return ValidationErrors{Errors: out}
}

func jsonFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) <= 1 {
		return snakeCase(fe.Field())
	}
	jsonParts := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		jsonParts = append(jsonParts, snakeCase(p))
	}
	return strings.Join(jsonParts, ".")
}

// snakeCase converts a Go field name to its snake_case JSON form.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (s[i-1] < 'A' || s[i-1] > 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field %q is required", jsonFieldName(fe))
	case "http_url":
		return fmt.Sprintf("field %q must be a valid http(s) URL", jsonFieldName(fe))
	case "gte":
		return fmt.Sprintf("field %q must be >= %s", jsonFieldName(fe), fe.Param())
	case "lte":
		return fmt.Sprintf("field %q must be <= %s", jsonFieldName(fe), fe.Param())
	case "oneof":
		return fmt.Sprintf("field %q must be one of: %s", jsonFieldName(fe), fe.Param())
	default:
		return fmt.Sprintf("field %q failed validation on tag %q", jsonFieldName(fe), fe.Tag())
	}
}
