package services

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// MinPasswordLength is the shortest password accepted on registration.
const MinPasswordLength = 8

// MaxPasswordBytes is the longest password bcrypt can hash.
const MaxPasswordBytes = 72

// RegisterInput is the registration payload.
type RegisterInput struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Normalize trims the name and lower-cases the email.
func (in *RegisterInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
}

// Validate will run validation rules
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&in.Email, validation.Required, validation.RuneLength(0, 255), is.EmailFormat),
		validation.Field(&in.Password,
			validation.Required,
			validation.RuneLength(MinPasswordLength, 0),
			validation.By(maxBytes(MaxPasswordBytes)),
			validation.By(confirmed(in.PasswordConfirmation)),
		),
	)
}

// LoginInput is the login payload.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Password, validation.Required),
	)
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func confirmed(confirmation string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != confirmation {
			return errors.New("the password confirmation does not match")
		}
		return nil
	}
}

func maxBytes(limit int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > limit {
			return fmt.Errorf("the password may not be greater than %d bytes", limit)
		}
		return nil
	}
}
