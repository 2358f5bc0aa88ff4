package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicstutor/tutorportal/internal/auth"
	"github.com/physicstutor/tutorportal/internal/config"
	"github.com/physicstutor/tutorportal/internal/devbackend"
	"github.com/physicstutor/tutorportal/internal/devbackend/devbackendtest"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

var (
	student = devbackend.SeedUser{Email: "sam@example.com", Password: "secret1", FullName: "Sam"}
	admin   = devbackend.SeedUser{Email: "ada@example.com", Password: "secret1", FullName: "Ada", IsAdmin: true}
)

type testPortal struct {
	srv     *Server
	url     string
	backend *devbackendtest.Backend
}

func newTestPortal(t *testing.T) *testPortal {
	t.Helper()

	b := devbackendtest.Start(t, devbackend.Options{Autoconfirm: true})
	b.Seed(t, student, admin)

	cfg := &config.Config{
		Backend: config.BackendConfig{
			URL:     b.URL,
			AnonKey: devbackendtest.AnonKey,
			Timeout: 5 * time.Second,
		},
		Server: config.ServerConfig{
			ListenAddr:           "127.0.0.1:0",
			SiteURL:              "http://portal.test",
			CORSOrigins:          []string{"http://localhost:5173"},
			VisitorIdleTTL:       time.Hour,
			TokenRefreshSchedule: "@every 1m",
		},
		Database: config.DatabaseConfig{
			URL: filepath.Join(t.TempDir(), "portal.sqlite"),
		},
	}

	srv, err := New(cfg, zerolog.Nop(), "test")
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testPortal{srv: srv, url: ts.URL, backend: b}
}

// browser keeps cookies and does not follow redirects
type browser struct {
	t      *testing.T
	client *http.Client
	base   string
}

func (p *testPortal) newBrowser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	b := &browser{
		t:    t,
		base: p.url,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	b.settle()
	return b
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) session() map[string]any {
	b.t.Helper()
	resp, body := b.get("/api/session")
	require.Equal(b.t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(b.t, json.Unmarshal([]byte(body), &out))
	return out
}

// settle waits until the visitor's initial session resolution is done
func (b *browser) settle() {
	b.t.Helper()
	eventually(b.t, "session resolved", func() bool {
		return b.session()["loading"] == false
	})
}

// eventually polls cond on the test goroutine so cond may use require
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(tick)
	}
}

func (b *browser) logIn(email, password, from string) *http.Response {
	b.t.Helper()
	resp, _ := b.post("/login", url.Values{"email": {email}, "password": {password}, "from": {from}})
	return resp
}

func TestHealth(t *testing.T) {
	p := newTestPortal(t)

	resp, err := http.Get(p.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, p.srv.Registry().Len(), "health checks do not create visitors")
}

func TestSignUpFlow(t *testing.T) {
	p := newTestPortal(t)
	b := p.newBrowser(t)

	resp, _ := b.post("/signup", url.Values{
		"full_name": {" Jo "},
		"email":     {"jo@example.com"},
		"password":  {"secret1"},
		"confirm":   {"secret1"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp, body := b.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "jo@example.com")
	assert.Contains(t, body, `value="Jo"`)

	sess := b.session()
	assert.Equal(t, true, sess["isAuthenticated"])
	assert.Equal(t, false, sess["isAdmin"])

	resp, _ = b.get("/admin")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestSignUpErrors(t *testing.T) {
	p := newTestPortal(t)
	b := p.newBrowser(t)

	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{
			name: "passwords differ",
			form: url.Values{"full_name": {"Jo"}, "email": {"jo@example.com"}, "password": {"secret1"}, "confirm": {"secret2"}},
			want: "Passwords do not match.",
		},
		{
			name: "short password",
			form: url.Values{"full_name": {"Jo"}, "email": {"jo@example.com"}, "password": {"abc"}, "confirm": {"abc"}},
			want: "Password must be at least 6 characters.",
		},
		{
			name: "duplicate account",
			form: url.Values{"full_name": {"Sam"}, "email": {student.Email}, "password": {"secret1"}, "confirm": {"secret1"}},
			want: "This email is already registered. Use the Log-in tab.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := b.post("/signup", tt.form)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assert.Contains(t, body, tt.want)
		})
	}

	assert.Equal(t, false, b.session()["isAuthenticated"])
}

func TestLogIn(t *testing.T) {
	p := newTestPortal(t)

	t.Run("admin lands on admin", func(t *testing.T) {
		b := p.newBrowser(t)
		resp := b.logIn(admin.Email, admin.Password, "")
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/admin", resp.Header.Get("Location"))

		resp, body := b.get("/admin/sessions")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "Admin: sessions")

		resp, _ = b.get("/admin/unknown")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("student returns to the page they asked for", func(t *testing.T) {
		b := p.newBrowser(t)
		resp := b.logIn(student.Email, student.Password, "/store")
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/store", resp.Header.Get("Location"))
	})

	t.Run("foreign from is ignored", func(t *testing.T) {
		b := p.newBrowser(t)
		resp := b.logIn(student.Email, student.Password, "//evil.example.com/")
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
	})

	t.Run("wrong password", func(t *testing.T) {
		b := p.newBrowser(t)
		resp, body := b.post("/login", url.Values{"email": {student.Email}, "password": {"nope-nope"}})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, body, "Incorrect email or password.")
	})

	t.Run("signed-in visitor skips the form", func(t *testing.T) {
		b := p.newBrowser(t)
		b.logIn(student.Email, student.Password, "")

		resp, _ := b.get("/login")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
	})
}

func TestGuardRedirectsSignedOutVisitor(t *testing.T) {
	p := newTestPortal(t)
	b := p.newBrowser(t)

	resp, _ := b.get("/admin/courses?x=1")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/signup?from=%2Fadmin%2Fcourses%3Fx%3D1", resp.Header.Get("Location"))

	resp, body := b.get("/signup?from=%2Fadmin%2Fcourses%3Fx%3D1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="from" value="/admin/courses?x=1"`)
}

func TestFirstRequestWaits(t *testing.T) {
	p := newTestPortal(t)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar, CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	// The answer is the waiting page until resolution finishes, then the
	// redirect; never the protected page
	eventually(t, "redirect to sign-up", func() bool {
		resp, err := client.Get(p.url + "/dashboard")
		require.NoError(t, err)
		resp.Body.Close()

		if resp.StatusCode == http.StatusFound {
			return true
		}
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "1", resp.Header.Get("Retry-After"))
		return false
	})
}

func TestLogOut(t *testing.T) {
	p := newTestPortal(t)
	b := p.newBrowser(t)
	b.logIn(student.Email, student.Password, "")

	resp, _ := b.post("/logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	assert.Equal(t, false, b.session()["isAuthenticated"])

	resp, _ = b.get("/dashboard")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/signup?from=%2Fdashboard", resp.Header.Get("Location"))
}

func TestUpdateProfile(t *testing.T) {
	p := newTestPortal(t)
	b := p.newBrowser(t)
	b.logIn(student.Email, student.Password, "")

	resp, _ := b.post("/profile", url.Values{"full_name": {"Samuel"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, body := b.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `value="Samuel"`)
}

func TestResetPassword(t *testing.T) {
	p := newTestPortal(t)
	b := p.newBrowser(t)

	resp, body := b.post("/reset-password", url.Values{"email": {"not-an-email"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Please enter a valid email address.")

	resp, body = b.post("/reset-password", url.Values{"email": {student.Email}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "a reset link is on its way")
}

func TestSessionSurvivesEviction(t *testing.T) {
	p := newTestPortal(t)
	b := p.newBrowser(t)
	b.logIn(student.Email, student.Password, "")
	require.Equal(t, 1, p.srv.Registry().Len())

	assert.Equal(t, 1, p.srv.Registry().evictBefore(time.Now().Add(time.Hour)))
	assert.Equal(t, 0, p.srv.Registry().Len())

	// A new instance restores the visitor from the stored tokens
	eventually(t, "restored dashboard", func() bool {
		resp, body := b.get("/dashboard")
		return resp.StatusCode == http.StatusOK && strings.Contains(body, student.Email)
	})
}

func TestSessionAPICORS(t *testing.T) {
	p := newTestPortal(t)

	req, err := http.NewRequest(http.MethodGet, p.url+"/api/session", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRegistry(t *testing.T) {
	p := newTestPortal(t)
	r := p.srv.Registry()

	first, err := r.Get("01HZX3Z8V4N7J2K9Q6W5R1T0YB")
	require.NoError(t, err)
	again, err := r.Get("01HZX3Z8V4N7J2K9Q6W5R1T0YB")
	require.NoError(t, err)
	assert.Same(t, first, again)

	assert.Equal(t, 0, r.EvictIdle(), "fresh instances are not idle")

	r.Close()
	_, err = r.Get("01HZX3Z8V4N7J2K9Q6W5R1T0YB")
	assert.ErrorIs(t, err, ErrRegistryClosed)

	// Closing twice is harmless
	r.Close()
}

func TestRegistryConcurrentFirstRequests(t *testing.T) {
	p := newTestPortal(t)
	r := p.srv.Registry()
	const visitor = "01HZX3Z8V4N7J2K9Q6W5R1T0YC"

	apps := make([]*auth.App, 16)
	var wg sync.WaitGroup
	for i := range apps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			app, err := r.Get(visitor)
			if err == nil {
				apps[i] = app
			}
		}(i)
	}
	wg.Wait()

	require.NotNil(t, apps[0])
	for _, app := range apps {
		assert.Same(t, apps[0], app)
	}
	assert.Equal(t, 1, r.Len())
}
