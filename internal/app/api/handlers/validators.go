package handlers

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/fatflowers/clipmeter/internal/platform/stripeapi"
	"github.com/fatflowers/clipmeter/pkg/types"
)

// RegisterValidators adds the domain tags used in request bodies to gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return registerValidators(v)
}

func registerValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("credit_kind", func(fl validator.FieldLevel) bool {
		return types.CreditKind(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("checkout_kind", func(fl validator.FieldLevel) bool {
		switch stripeapi.CheckoutKind(fl.Field().String()) {
		case stripeapi.CheckoutKindSubscription, stripeapi.CheckoutKindCreditPack:
			return true
		}
		return false
	})
}
