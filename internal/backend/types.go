package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the identity record issued by the auth service
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
}

// Session is the proof of authentication returned by sign-in, sign-up and
// refresh calls
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Expiry returns when the access token stops being accepted
func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// normalize fills ExpiresAt when the backend only sent expires_in, falling
// back to the access token's exp claim
func (s *Session) normalize(now time.Time) {
	if s.ExpiresAt > 0 {
		return
	}
	if s.ExpiresIn > 0 {
		s.ExpiresAt = now.Unix() + s.ExpiresIn
		return
	}
	if exp, ok := tokenExpiry(s.AccessToken); ok {
		s.ExpiresAt = exp.Unix()
	}
}

// tokenExpiry reads the exp claim without verifying the signature. The
// frontend never holds the signing key; the backend verifies every call.
func tokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// SignUpResult carries the created user and, when email confirmation is
// disabled, the session that was started
type SignUpResult struct {
	User    User
	Session *Session
}

// ProfileRow is a row of the profiles table
type ProfileRow struct {
	ID        string     `json:"id"`
	FullName  string     `json:"full_name"`
	Email     string     `json:"email"`
	IsAdmin   bool       `json:"is_admin"`
	Status    string     `json:"status,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Event names a session change notification
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)
