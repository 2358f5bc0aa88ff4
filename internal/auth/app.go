package auth

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/physicstutor/tutorportal/internal/session"
	"github.com/physicstutor/tutorportal/internal/validation"
)

// Client is everything one application instance needs from the backend;
// *backend.Auth implements it
type Client interface {
	SessionSource
	ProfileSource
	Backend
}

// App is one application instance: its store and the components that
// write to it, wired leaves first.
type App struct {
	Store        *session.Store
	Fetcher      *ProfileFetcher
	Bootstrapper *Bootstrapper
	Service      *Service
}

// NewApp wires an instance. The bootstrapper is not started.
func NewApp(ctx context.Context, client Client, persister session.Persister, v *validation.Validator, siteURL string, log zerolog.Logger) *App {
	store := session.NewStore(ctx, persister, log)
	fetcher := NewProfileFetcher(client, store, log)

	return &App{
		Store:        store,
		Fetcher:      fetcher,
		Bootstrapper: NewBootstrapper(client, fetcher, store, log),
		Service:      NewService(client, fetcher, store, v, siteURL, log),
	}
}

// Start starts the bootstrapper
func (a *App) Start(ctx context.Context) error {
	return a.Bootstrapper.Start(ctx)
}

// WaitReady blocks until the initial session resolution finished or ctx
// is done
func (a *App) WaitReady(ctx context.Context) error {
	select {
	case <-a.Bootstrapper.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the instance down
func (a *App) Close() {
	a.Bootstrapper.Close()
}
