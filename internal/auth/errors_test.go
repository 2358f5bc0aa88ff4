package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/physicstutor/tutorportal/internal/backend"
	"github.com/physicstutor/tutorportal/internal/validation"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		msg  string
	}{
		{
			name: "nil",
			err:  nil,
			kind: KindUnknown,
			msg:  "An unexpected error occurred.",
		},
		{
			name: "duplicate account",
			err:  &backend.AuthError{Status: 422, Code: "user_already_exists", Message: "User already registered"},
			kind: KindDuplicateAccount,
			msg:  "This email is already registered. Use the Log-in tab.",
		},
		{
			name: "invalid credentials",
			err:  &backend.AuthError{Status: 400, Message: "Invalid login credentials"},
			kind: KindInvalidCredentials,
			msg:  "Incorrect email or password.",
		},
		{
			name: "weak password from backend",
			err:  &backend.AuthError{Status: 422, Message: "Password should be at least 6 characters"},
			kind: KindWeakPassword,
		},
		{
			name: "short password",
			err:  errors.New("password is too short"),
			kind: KindShortPassword,
		},
		{
			name: "rate limited",
			err:  &backend.AuthError{Status: 429, Message: "Email rate limit exceeded"},
			kind: KindRateLimited,
		},
		{
			name: "transport failure",
			err:  &backend.AuthError{Code: backend.CodeNetworkFailure, Message: "network request failed: dial tcp: refused"},
			kind: KindNetwork,
			msg:  "Network error. Check your connection and try again.",
		},
		{
			name: "unconfirmed",
			err:  &backend.AuthError{Status: 400, Message: "Email not confirmed"},
			kind: KindUnconfirmed,
		},
		{
			name: "not found",
			err:  errors.New("User not found"),
			kind: KindNotFound,
		},
		{
			name: "wrapped validation error",
			err:  fmt.Errorf("sign up: %w", &validation.Error{Field: "Confirm", Message: "Passwords do not match."}),
			kind: KindInvalidInput,
			msg:  "Passwords do not match.",
		},
		{
			name: "not authenticated",
			err:  ErrNotAuthenticated,
			kind: KindNotAuthenticated,
		},
		{
			name: "unrecognised keeps raw text",
			err:  errors.New("Signups not allowed for this instance"),
			kind: KindUnknown,
			msg:  "Signups not allowed for this instance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.NotEmpty(t, got.Message)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, got.Message)
			}
		})
	}
}

func TestClassifyMessage_NeverPanics(t *testing.T) {
	for _, msg := range []string{"", "   ", "\x00\xff", "PASSWORD SHORT", "{\"json\":true}"} {
		assert.NotPanics(t, func() { ClassifyMessage(msg) })
	}
}
