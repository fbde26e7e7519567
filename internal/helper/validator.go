package helper

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RequestValidator plugs go-playground/validator into echo's c.Validate.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New()
	_ = v.RegisterValidation("instanceid", func(fl validator.FieldLevel) bool {
		return ValidInstanceID(fl.Field().String())
	})
	return &RequestValidator{validate: v}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.validate.Struct(i)
}

// ValidInstanceID reports whether id is usable as an instance key and as a
// directory name.
func ValidInstanceID(id string) bool {
	return instanceIDPattern.MatchString(id)
}
