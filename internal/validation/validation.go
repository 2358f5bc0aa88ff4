// Package validation checks auth form input before anything is sent to the
// backend.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength matches the backend's default minimum
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Error is a failed form check with a message fit for the end user
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// SignUpForm is the sign-up form. Fields are checked in declaration order.
type SignUpForm struct {
	FullName string `form:"full_name" validate:"display_name"`
	Email    string `form:"email" validate:"required,loose_email"`
	Password string `form:"password" validate:"required,min=6"`
	Confirm  string `form:"confirm" validate:"required,eqfield=Password"`
}

// SignInForm is the sign-in form
type SignInForm struct {
	Email    string `form:"email" validate:"required,loose_email"`
	Password string `form:"password" validate:"required"`
}

// ResetForm requests a password reset email
type ResetForm struct {
	Email string `form:"email" validate:"required,loose_email"`
}

// PasswordForm sets a new password for the signed-in user
type PasswordForm struct {
	Password string `form:"password" validate:"required,min=6"`
	Confirm  string `form:"confirm" validate:"required,eqfield=Password"`
}

// messages maps field/tag pairs to user-facing text
var messages = map[string]string{
	"Email.required":        "Email is required.",
	"Email.loose_email":     "Please enter a valid email address.",
	"Password.required":     "Password is required.",
	"Password.min":          "Password must be at least 6 characters.",
	"Confirm.required":      "Please confirm your password.",
	"Confirm.eqfield":       "Passwords do not match.",
	"FullName.display_name": "Name must be at least 2 characters.",
}

// Validator wraps a configured go-playground validator
type Validator struct {
	v *validator.Validate
}

// New creates a validator with the custom rules registered
func New() *Validator {
	validate := validator.New()

	// Same pattern the sign-up page has always used; looser than RFC 5322
	validate.RegisterValidation("loose_email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})

	validate.RegisterValidation("display_name", func(fl validator.FieldLevel) bool {
		return len([]rune(strings.TrimSpace(fl.Field().String()))) >= 2
	})

	return &Validator{v: validate}
}

// Check validates form and returns the first failure as *Error
func (v *Validator) Check(form any) error {
	err := v.v.Struct(form)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	msg, ok := messages[fe.Field()+"."+fe.Tag()]
	if !ok {
		msg = "Please check the " + strings.ToLower(fe.Field()) + " field."
	}
	return &Error{Field: fe.Field(), Message: msg}
}

// Email reports whether email matches the accepted pattern
func Email(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}
