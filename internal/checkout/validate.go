// Package checkout validates the wizard's form sections.
package checkout

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/fjod/macstore/internal/domain"
	"github.com/go-playground/validator/v10"
)

const minPhoneDigits = 9

// PersonalInfoForm is step 1 as posted by the client.
type PersonalInfoForm struct {
	Name  string `json:"name" validate:"min=2"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"phone"`
}

type ShippingAddressForm struct {
	Address string `json:"address" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	ZipCode string `json:"zipCode" validate:"required"`
}

type PaymentDetailsForm struct {
	PaymentMethod string `json:"paymentMethod" validate:"payment_method"`
	TermsAccepted bool   `json:"termsAccepted" validate:"required"`
}

// ValidationError maps json field names to user-facing messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("validation failed: %s", strings.Join(keys, ", "))
}

type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
		return countDigits(fl.Field().String()) >= minPhoneDigits
	})
	mustRegister(v, "payment_method", func(fl validator.FieldLevel) bool {
		_, err := domain.ParsePaymentMethod(fl.Field().String())
		return err == nil
	})
	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("checkout: register %q validation: %v", tag, err))
	}
}

func (v *Validator) PersonalInfo(f PersonalInfoForm) (*domain.PersonalInfo, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.TrimSpace(f.Email)
	f.Phone = strings.TrimSpace(f.Phone)
	if err := v.check(f); err != nil {
		return nil, err
	}
	return &domain.PersonalInfo{Name: f.Name, Email: f.Email, Phone: f.Phone}, nil
}

func (v *Validator) ShippingAddress(f ShippingAddressForm) (*domain.ShippingAddress, error) {
	f.Address = strings.TrimSpace(f.Address)
	f.City = strings.TrimSpace(f.City)
	f.State = strings.TrimSpace(f.State)
	f.ZipCode = strings.TrimSpace(f.ZipCode)
	if err := v.check(f); err != nil {
		return nil, err
	}
	return &domain.ShippingAddress{Address: f.Address, City: f.City, State: f.State, ZipCode: f.ZipCode}, nil
}

func (v *Validator) PaymentDetails(f PaymentDetailsForm) (*domain.PaymentDetails, error) {
	if err := v.check(f); err != nil {
		return nil, err
	}
	method, _ := domain.ParsePaymentMethod(f.PaymentMethod)
	return &domain.PaymentDetails{PaymentMethod: method, TermsAccepted: f.TermsAccepted}, nil
}

func (v *Validator) check(form any) error {
	err := v.v.Struct(form)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate form: %w", err)
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Field() {
	case "name":
		return "El nombre debe tener al menos 2 caracteres"
	case "email":
		return "Correo electrónico inválido"
	case "phone":
		return "El teléfono debe tener al menos 9 dígitos"
	case "address":
		return "La dirección es obligatoria"
	case "city":
		return "La ciudad es obligatoria"
	case "state":
		return "La región es obligatoria"
	case "zipCode":
		return "El código postal es obligatorio"
	case "paymentMethod":
		return "Selecciona un método de pago válido"
	case "termsAccepted":
		return "Debes aceptar los términos y condiciones"
	}
	return fmt.Sprintf("campo inválido (%s)", fe.Tag())
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
