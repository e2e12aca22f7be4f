package validator

import (
	"github.com/go-playground/validator/v10"
)

// EchoValidator plugs go-playground/validator into echo's Context.Validate.
type EchoValidator struct {
	Validator *validator.Validate
}

func New() *EchoValidator {
	return &EchoValidator{Validator: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *EchoValidator) Validate(i interface{}) error {
	return v.Validator.Struct(i)
}
