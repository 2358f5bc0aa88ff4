package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/physicstutor/tutorportal/internal/backend"
	"github.com/physicstutor/tutorportal/internal/validation"
)

var (
	// ErrNotAuthenticated is returned by actions that need a signed-in user
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAlreadyStarted is returned by a second Bootstrapper.Start
	ErrAlreadyStarted = errors.New("bootstrapper already started")

	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("bootstrapper closed")
)

// ProfileFetchError wraps any failure while loading a profile row. It is
// logged and never returned to callers.
type ProfileFetchError struct {
	UserID string
	Err    error
}

func (e *ProfileFetchError) Error() string {
	return fmt.Sprintf("fetch profile %s: %v", e.UserID, e.Err)
}

func (e *ProfileFetchError) Unwrap() error {
	return e.Err
}

// Kind is the advisory category of an auth failure
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindDuplicateAccount   Kind = "duplicate_account"
	KindWeakPassword       Kind = "weak_password"
	KindShortPassword      Kind = "short_password"
	KindRateLimited        Kind = "rate_limited"
	KindNetwork            Kind = "network"
	KindUnconfirmed        Kind = "unconfirmed"
	KindNotFound           Kind = "not_found"
	KindExpiredToken       Kind = "expired_token"
	KindInvalidInput       Kind = "invalid_input"
	KindNotAuthenticated   Kind = "not_authenticated"
	KindUnknown            Kind = "unknown"
)

// Classified is an error translated for display on a form
type Classified struct {
	Kind    Kind
	Message string
}

type rule struct {
	kind    Kind
	match   func(lower string) bool
	message string
}

func containsAny(subs ...string) func(string) bool {
	return func(lower string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func containsAll(subs ...string) func(string) bool {
	return func(lower string) bool {
		for _, s := range subs {
			if !strings.Contains(lower, s) {
				return false
			}
		}
		return true
	}
}

// Order matters: the first matching rule wins
var rules = []rule{
	{KindExpiredToken, containsAny("invalid otp", "token has expired", "otp expired"),
		"The link or code is invalid or has expired. Please try again."},
	{KindInvalidCredentials, containsAny("invalid login credentials", "invalid credentials"),
		"Incorrect email or password."},
	{KindShortPassword, containsAll("password", "short"),
		"Password is too short. Use at least 6 characters."},
	{KindWeakPassword, containsAny("weak password", "password should be"),
		"Password is too weak. Use at least 6 characters with letters and numbers."},
	{KindDuplicateAccount, containsAny("already registered", "user already exists"),
		"This email is already registered. Use the Log-in tab."},
	{KindUnconfirmed, containsAny("email not confirmed", "phone not confirmed"),
		"Your email is not confirmed yet. Follow the link we sent you first."},
	{KindRateLimited, containsAny("rate limit", "too many requests"),
		"Too many requests. Please wait a minute and try again."},
	{KindNetwork, containsAny("network", "fetch"),
		"Network error. Check your connection and try again."},
	{KindNotFound, containsAny("not found", "no rows"),
		"Account not found. Please sign up first."},
}

// Classify maps an error from an auth action to a human-readable message.
// Unrecognised errors keep their raw message.
func Classify(err error) Classified {
	if err == nil {
		return Classified{Kind: KindUnknown, Message: "An unexpected error occurred."}
	}

	var verr *validation.Error
	if errors.As(err, &verr) {
		return Classified{Kind: KindInvalidInput, Message: verr.Message}
	}
	if errors.Is(err, ErrNotAuthenticated) {
		return Classified{Kind: KindNotAuthenticated, Message: "Please sign in first."}
	}

	var authErr *backend.AuthError
	if errors.As(err, &authErr) && authErr.Code == backend.CodeNetworkFailure {
		return classifyKind(KindNetwork)
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw backend message
func ClassifyMessage(msg string) Classified {
	if strings.TrimSpace(msg) == "" {
		return Classified{Kind: KindUnknown, Message: "An unexpected error occurred."}
	}

	lower := strings.ToLower(msg)
	for _, r := range rules {
		if r.match(lower) {
			return Classified{Kind: r.kind, Message: r.message}
		}
	}
	return Classified{Kind: KindUnknown, Message: msg}
}

// Message is shorthand for Classify(err).Message
func Message(err error) string {
	return Classify(err).Message
}

func classifyKind(kind Kind) Classified {
	for _, r := range rules {
		if r.kind == kind {
			return Classified{Kind: kind, Message: r.message}
		}
	}
	return Classified{Kind: kind}
}
