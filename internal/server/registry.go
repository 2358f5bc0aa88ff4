package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/physicstutor/tutorportal/internal/auth"
	"github.com/physicstutor/tutorportal/internal/backend"
	"github.com/physicstutor/tutorportal/internal/session"
	"github.com/physicstutor/tutorportal/internal/validation"
)

// ErrRegistryClosed is returned by Get after Close
var ErrRegistryClosed = errors.New("registry closed")

// instance is one visitor's application instance
type instance struct {
	app      *auth.App
	auth     *backend.Auth
	lastSeen time.Time
}

// Registry owns the application instance of every active visitor. Tokens
// and the identity snapshot are kept in the database, so an evicted
// visitor is restored on their next request.
type Registry struct {
	client    *backend.Client
	db        *gorm.DB
	validator *validation.Validator
	siteURL   string
	idleTTL   time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	// ctx outlives requests; instances run on it until evicted
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	instances map[string]*instance
	closed    bool
}

// NewRegistry creates an empty registry
func NewRegistry(client *backend.Client, db *gorm.DB, v *validation.Validator, siteURL string, idleTTL time.Duration, log zerolog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		client:    client,
		db:        db,
		validator: v,
		siteURL:   siteURL,
		idleTTL:   idleTTL,
		logger:    log,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		instances: make(map[string]*instance),
	}
}

// Get returns the visitor's instance, creating and starting it on first use.
// Instances are built without holding the registry lock; when two first
// requests race, the loser's instance is closed.
func (r *Registry) Get(visitorID string) (*auth.App, error) {
	if app, ok, err := r.lookup(visitorID); ok || err != nil {
		return app, err
	}

	log := r.logger.With().Str("visitor_id", visitorID).Logger()
	a := backend.NewAuth(r.client, backend.NewGormTokenStore(r.db, visitorID), log)
	app := auth.NewApp(r.ctx, a, session.NewGormPersister(r.db, visitorID), r.validator, r.siteURL, log)
	if err := app.Start(r.ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start session for visitor: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		app.Close()
		return nil, ErrRegistryClosed
	}
	if inst, ok := r.instances[visitorID]; ok {
		inst.lastSeen = r.now()
		r.mu.Unlock()
		app.Close()
		return inst.app, nil
	}
	r.instances[visitorID] = &instance{app: app, auth: a, lastSeen: r.now()}
	r.mu.Unlock()

	log.Debug().Msg("Created application instance")
	return app, nil
}

func (r *Registry) lookup(visitorID string) (*auth.App, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrRegistryClosed
	}
	inst, ok := r.instances[visitorID]
	if !ok {
		return nil, false, nil
	}
	inst.lastSeen = r.now()
	return inst.app, true, nil
}

// Len returns the number of live instances
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// EvictIdle closes instances not used within the idle TTL and returns how
// many were closed
func (r *Registry) EvictIdle() int {
	return r.evictBefore(r.now().Add(-r.idleTTL))
}

func (r *Registry) evictBefore(cutoff time.Time) int {
	r.mu.Lock()
	var idle []*instance
	for id, inst := range r.instances {
		if inst.lastSeen.Before(cutoff) {
			idle = append(idle, inst)
			delete(r.instances, id)
		}
	}
	r.mu.Unlock()

	for _, inst := range idle {
		inst.app.Close()
	}
	if len(idle) > 0 {
		r.logger.Info().Int("count", len(idle)).Msg("Evicted idle visitors")
	}
	return len(idle)
}

// RefreshDue refreshes every live session that is about to expire
func (r *Registry) RefreshDue(ctx context.Context) {
	r.mu.Lock()
	auths := make([]*backend.Auth, 0, len(r.instances))
	for _, inst := range r.instances {
		auths = append(auths, inst.auth)
	}
	r.mu.Unlock()

	for _, a := range auths {
		if err := a.RefreshDue(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to refresh session")
		}
	}
}

// Close tears down every instance. Get fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := r.instances
	r.instances = make(map[string]*instance)
	r.mu.Unlock()

	for _, inst := range all {
		inst.app.Close()
	}
	r.cancel()
	r.logger.Info().Int("count", len(all)).Msg("Closed all visitor sessions")
}
