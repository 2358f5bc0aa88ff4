// Package guard decides whether a request may reach a protected page.
package guard

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/physicstutor/tutorportal/internal/session"
)

const (
	SignUpPath    = "/signup"
	LogInPath     = "/login"
	DashboardPath = "/dashboard"
	AdminPath     = "/admin"

	// FromParam carries the originally requested location through sign-in
	FromParam = "from"
)

// Policy is what a route requires of the visitor
type Policy int

const (
	Authenticated Policy = iota
	Admin
)

// Outcome is the kind of decision
type Outcome int

const (
	Wait Outcome = iota
	Redirect
	Allow
)

func (o Outcome) String() string {
	switch o {
	case Wait:
		return "wait"
	case Redirect:
		return "redirect"
	case Allow:
		return "allow"
	}
	return "unknown"
}

// Decision is the result of evaluating a policy. Location is set for
// Redirect only.
type Decision struct {
	Outcome  Outcome
	Location string
}

// Decide evaluates policy against state. requested is the path and query the
// visitor asked for; it is carried to the sign-up page so sign-in can return
// there.
func Decide(state session.State, policy Policy, requested string) Decision {
	if state.Loading {
		return Decision{Outcome: Wait}
	}

	if !state.IsAuthenticated() {
		return Decision{Outcome: Redirect, Location: signUpLocation(requested)}
	}

	if policy == Admin && !state.IsAdmin() {
		return Decision{Outcome: Redirect, Location: DashboardPath}
	}

	return Decision{Outcome: Allow}
}

func signUpLocation(requested string) string {
	from := SafeFrom(requested)
	if from == "" {
		return SignUpPath
	}
	return SignUpPath + "?" + url.Values{FromParam: {from}}.Encode()
}

// SafeFrom returns from if it is a local absolute path, otherwise "".
// Scheme-relative and backslash forms are rejected.
func SafeFrom(from string) string {
	if from == "" || !strings.HasPrefix(from, "/") {
		return ""
	}
	if strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") || strings.ContainsAny(from, "\r\n") {
		return ""
	}

	u, err := url.Parse(from)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return from
}

// AfterSignIn is where a visitor goes once signed in: back to from when it
// is safe, otherwise to the landing page for their role.
func AfterSignIn(state session.State, from string) string {
	if safe := SafeFrom(from); safe != "" && !strings.HasPrefix(safe, SignUpPath) {
		return safe
	}
	if state.IsAdmin() {
		return AdminPath
	}
	return DashboardPath
}

// StateFunc returns the session state of the visitor making the request
type StateFunc func(c *gin.Context) session.State

// RequireSession lets only signed-in visitors through
func RequireSession(state StateFunc) gin.HandlerFunc {
	return require(state, Authenticated)
}

// RequireAdmin lets only signed-in visitors with the admin flag through
func RequireAdmin(state StateFunc) gin.HandlerFunc {
	return require(state, Admin)
}

func require(state StateFunc, policy Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := Decide(state(c), policy, c.Request.URL.RequestURI())

		switch d.Outcome {
		case Wait:
			renderWaiting(c)
			c.Abort()
		case Redirect:
			c.Redirect(http.StatusFound, d.Location)
			c.Abort()
		default:
			c.Next()
		}
	}
}

const waitingPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="1">
<title>Loading</title>
</head>
<body>
<p>Loading&hellip;</p>
</body>
</html>
`

func renderWaiting(c *gin.Context) {
	c.Header("Retry-After", "1")
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(waitingPage))
}
