package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CodeNetworkFailure marks errors where the backend could not be reached
const CodeNetworkFailure = "network_failure"

var (
	// ErrSessionMissing is returned by calls that need a signed-in session
	ErrSessionMissing = &AuthError{Status: http.StatusUnauthorized, Code: "session_missing", Message: "Auth session missing!"}

	// ErrAdminFieldRejected is returned when a profile update tries to set the
	// admin flag; only the backend's admin paths may change it
	ErrAdminFieldRejected = errors.New("profile update may not set is_admin")
)

// AuthError is returned by sign-up, sign-in, sign-out, password reset and
// password update calls
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Is matches on Code so callers can compare against sentinel AuthErrors
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// RequestError is returned by table operations
type RequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("request failed (status %d): %s", e.Status, e.Message)
}

// errorBody covers the shapes both the auth and the table endpoints use
type errorBody struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Code             any    `json:"code"`
}

func parseErrorBody(status int, body []byte) (code, message string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return "", msg
	}

	code = eb.ErrorCode
	if code == "" {
		if s, ok := eb.Code.(string); ok {
			code = s
		} else if eb.Error != "" && eb.ErrorDescription != "" {
			code = eb.Error
		}
	}

	for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.Error} {
		if m != "" {
			return code, m
		}
	}
	return code, http.StatusText(status)
}

func networkError(err error) *AuthError {
	return &AuthError{Code: CodeNetworkFailure, Message: fmt.Sprintf("network request failed: %v", err)}
}
