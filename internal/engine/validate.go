package engine

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"gridtrade/pkg/types"
)

// SubmitRequest is one order submission. Quantity is in kWh, LimitPrice in
// currency units per kWh. The upper bounds are sanity caps, generous enough
// for any real lot: no participant trades a gigawatt-hour in one order.
type SubmitRequest struct {
	Side       types.Side      `validate:"side"`
	Category   types.Category  `validate:"category"`
	Quantity   decimal.Decimal `validate:"gt=0,lte=1000000"`
	LimitPrice decimal.Decimal `validate:"gt=0,lte=1000"`
	UserID     string          `validate:"required"`
}

// DeployParams are the explicit terms of an administratively created
// contract: no orders, no matching, the same sanity caps as submissions.
type DeployParams struct {
	Buyer    string          `validate:"required"`
	Seller   string          `validate:"required"`
	Category types.Category  `validate:"category"`
	Quantity decimal.Decimal `validate:"gt=0,lte=1000000"`
	Price    decimal.Decimal `validate:"gt=0,lte=1000"`
}

// validate is shared across submissions; validator instances cache struct
// metadata and are safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Decimals validate through their float value so the standard numeric
	// tags (gt, lte) apply.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	if err := v.RegisterValidation("side", func(fl validator.FieldLevel) bool {
		return types.Side(fl.Field().String()).Valid()
	}); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return types.Category(fl.Field().String()).Valid()
	}); err != nil {
		panic(err)
	}
	return v
}

// validateSubmit rejects malformed submissions with ErrValidation before
// anything is admitted or recorded.
func validateSubmit(req SubmitRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// validateDeploy applies the same checks to administrative deployments.
func validateDeploy(p DeployParams) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
