package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/physicstutor/tutorportal/internal/session"
)

var (
	student      = &session.User{ID: "u1", Email: "s@example.com"}
	studentRow   = &session.Profile{ID: "u1", FullName: "Sam"}
	adminProfile = &session.Profile{ID: "u1", FullName: "Sam", IsAdmin: true}
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		state    session.State
		policy   Policy
		outcome  Outcome
		location string
	}{
		{
			name:    "loading waits even with a user",
			state:   session.State{User: student, Profile: adminProfile, Loading: true},
			policy:  Admin,
			outcome: Wait,
		},
		{
			name:    "loading without user waits",
			state:   session.State{Loading: true},
			policy:  Authenticated,
			outcome: Wait,
		},
		{
			name:     "anonymous goes to sign-up",
			state:    session.State{},
			policy:   Authenticated,
			outcome:  Redirect,
			location: "/signup?from=%2Fdashboard",
		},
		{
			name:     "anonymous on admin goes to sign-up",
			state:    session.State{},
			policy:   Admin,
			outcome:  Redirect,
			location: "/signup?from=%2Fdashboard",
		},
		{
			name:    "signed in reaches protected page",
			state:   session.State{User: student, Profile: studentRow},
			policy:  Authenticated,
			outcome: Allow,
		},
		{
			name:    "signed in without profile reaches protected page",
			state:   session.State{User: student},
			policy:  Authenticated,
			outcome: Allow,
		},
		{
			name:     "non-admin on admin page goes to dashboard",
			state:    session.State{User: student, Profile: studentRow},
			policy:   Admin,
			outcome:  Redirect,
			location: "/dashboard",
		},
		{
			name:     "missing profile is not admin",
			state:    session.State{User: student},
			policy:   Admin,
			outcome:  Redirect,
			location: "/dashboard",
		},
		{
			name:    "admin reaches admin page",
			state:   session.State{User: student, Profile: adminProfile},
			policy:  Admin,
			outcome: Allow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.state, tt.policy, "/dashboard")
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.location, d.Location)
		})
	}
}

func TestSafeFrom(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/admin/users", "/admin/users"},
		{"/store?item=3", "/store?item=3"},
		{"", ""},
		{"dashboard", ""},
		{"//evil.example.com", ""},
		{"/\\evil.example.com", ""},
		{"https://evil.example.com/admin", ""},
		{"/ok\r\nLocation: x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeFrom(tt.in))
		})
	}
}

func TestAfterSignIn(t *testing.T) {
	studentState := session.State{User: student, Profile: studentRow}
	adminState := session.State{User: student, Profile: adminProfile}

	assert.Equal(t, "/store", AfterSignIn(studentState, "/store"))
	assert.Equal(t, "/dashboard", AfterSignIn(studentState, ""))
	assert.Equal(t, "/dashboard", AfterSignIn(studentState, "https://evil.example.com"))
	assert.Equal(t, "/dashboard", AfterSignIn(studentState, "/signup"))
	assert.Equal(t, "/admin", AfterSignIn(adminState, ""))
}

func newGuardedRouter(state *session.State) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	stateFn := func(c *gin.Context) session.State { return *state }

	r.GET("/dashboard", RequireSession(stateFn), func(c *gin.Context) {
		c.String(http.StatusOK, "dashboard")
	})
	r.GET("/admin/sessions", RequireAdmin(stateFn), func(c *gin.Context) {
		c.String(http.StatusOK, "admin")
	})
	return r
}

func TestMiddleware(t *testing.T) {
	state := &session.State{Loading: true}
	r := newGuardedRouter(state)

	// Fresh load: identity still resolving
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/sessions", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.NotContains(t, w.Body.String(), "admin")

	// Resolved as a non-admin student
	*state = session.State{User: student, Profile: studentRow}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/sessions", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dashboard", w.Body.String())

	// Signed out
	*state = session.State{}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/sessions?tab=2", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/signup?from=%2Fadmin%2Fsessions%3Ftab%3D2", w.Header().Get("Location"))
}
