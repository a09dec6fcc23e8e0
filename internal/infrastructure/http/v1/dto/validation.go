package dto

import (
	"fmt"
	"reflect"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"stockrecon/internal/domain/reconciliation"
)

// RegisterValidators installs the custom binding tags used by the request DTOs:
//
//	nonneg  - quantity or amount must not be negative
//	adjtype - "add" or "deduct"
func RegisterValidators(v *validator.Validate) error {
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	if err := v.RegisterValidation("nonneg", nonNegative); err != nil {
		return fmt.Errorf("register nonneg: %w", err)
	}
	if err := v.RegisterValidation("adjtype", adjustmentType); err != nil {
		return fmt.Errorf("register adjtype: %w", err)
	}
	return nil
}

// RegisterBindingValidators hooks the custom tags into gin's default validator.
func RegisterBindingValidators() error {
	engine := binding.Validator.Engine()
	v, ok := engine.(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", engine)
	}
	return RegisterValidators(v)
}

func decimalValue(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return nil
}

func nonNegative(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return f.Int() >= 0
	case reflect.Float32, reflect.Float64:
		return f.Float() >= 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func adjustmentType(fl validator.FieldLevel) bool {
	return reconciliation.AdjustmentType(fl.Field().String()).IsValid()
}
