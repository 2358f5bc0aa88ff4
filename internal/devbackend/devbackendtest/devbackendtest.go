// Package devbackendtest starts a throwaway dev backend for tests in other
// packages.
package devbackendtest

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/physicstutor/tutorportal/internal/database"
	"github.com/physicstutor/tutorportal/internal/devbackend"
)

const (
	AnonKey   = "test-anon-key"
	JWTSecret = "test-jwt-secret"
)

// Backend is a running dev backend
type Backend struct {
	*devbackend.Server
	URL string
}

// Start runs a dev backend on a fresh database until the test ends. Zero
// fields in opts get test defaults; Autoconfirm is taken as given.
func Start(t testing.TB, opts devbackend.Options) *Backend {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "devbackend.sqlite"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open dev backend database: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })

	if opts.JWTSecret == "" {
		opts.JWTSecret = JWTSecret
	}
	if opts.AnonKey == "" {
		opts.AnonKey = AnonKey
	}
	if opts.BcryptCost == 0 {
		// bcrypt.MinCost keeps tests fast
		opts.BcryptCost = 4
	}

	srv, err := devbackend.New(db, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create dev backend: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &Backend{Server: srv, URL: ts.URL}
}

// Seed creates accounts or fails the test
func (b *Backend) Seed(t testing.TB, users ...devbackend.SeedUser) {
	t.Helper()
	if err := b.Server.Seed(&devbackend.SeedFile{Users: users}); err != nil {
		t.Fatalf("failed to seed dev backend: %v", err)
	}
}
