package shipping

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

const minPhoneDigits = 8

// Destination is where the order is delivered. All fields are checked before
// any courier call is made.
type Destination struct {
	Name    string `json:"name" validate:"omitempty,max=120"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required,phone_digits"`
	Address string `json:"address" validate:"required,max=255"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Country string `json:"country" validate:"required"`
}

func newDestinationValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("phone_digits", func(fl validator.FieldLevel) bool {
		return countDigits(fl.Field().String()) >= minPhoneDigits
	})
	return v
}

func countDigits(value string) int {
	n := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func (d Destination) normalized() Destination {
	return Destination{
		Name:    strings.TrimSpace(d.Name),
		Email:   strings.TrimSpace(d.Email),
		Phone:   strings.TrimSpace(d.Phone),
		Address: strings.TrimSpace(d.Address),
		City:    strings.TrimSpace(d.City),
		State:   strings.TrimSpace(d.State),
		Country: strings.TrimSpace(d.Country),
	}
}

func validateDestination(v *validator.Validate, d Destination) (Destination, error) {
	clean := d.normalized()
	if err := v.Struct(clean); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return Destination{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid destination")
		}
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = destinationMessage(fieldErr)
		}
		return Destination{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid destination").WithDetails(details)
	}
	return clean, nil
}

func destinationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "phone_digits":
		return fmt.Sprintf("must contain at least %d digits", minPhoneDigits)
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return "is invalid"
}
