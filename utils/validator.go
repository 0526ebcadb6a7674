package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs the `validate` tags of s.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// FormatValidationErrors turns validator errors into one readable message.
func FormatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, e.Field()+" is required")
		case "email":
			msgs = append(msgs, e.Field()+" must be an email address")
		case "min":
			msgs = append(msgs, e.Field()+" must be at least "+e.Param()+" characters")
		case "max":
			msgs = append(msgs, e.Field()+" must be at most "+e.Param()+" characters")
		case "oneof":
			msgs = append(msgs, e.Field()+" must be one of: "+e.Param())
		case "gt":
			msgs = append(msgs, e.Field()+" must be greater than "+e.Param())
		default:
			msgs = append(msgs, e.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
