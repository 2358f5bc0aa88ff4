// Package session holds who is signed in to one application instance and
// what their profile says about them.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// User is the identity record the auth service issued
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Status is the account status on a profile
type Status string

const (
	StatusActive  Status = "active"
	StatusBanned  Status = "banned"
	StatusPending Status = "pending"
)

// Profile is the application-owned record for a user. IsAdmin mirrors the
// backend column and is never computed client side.
type Profile struct {
	ID        string     `json:"id"`
	FullName  string     `json:"full_name"`
	Email     string     `json:"email"`
	IsAdmin   bool       `json:"is_admin"`
	Status    Status     `json:"status,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// State is a point-in-time copy of the store
type State struct {
	User    *User    `json:"user"`
	Profile *Profile `json:"profile"`
	Loading bool     `json:"loading"`
}

// IsAuthenticated reports whether a session exists
func (s State) IsAuthenticated() bool {
	return s.User != nil
}

// IsAdmin reports whether the signed-in user's profile carries the admin flag
func (s State) IsAdmin() bool {
	return s.Profile != nil && s.Profile.IsAdmin
}

// Store is the single source of truth for the session of one application
// instance. Readers use Snapshot; all writes go through the setters.
type Store struct {
	mu      sync.RWMutex
	user    *User
	profile *Profile
	loading bool
	// changed is closed and replaced on every write
	changed chan struct{}

	// persistMu orders writes to the persister the same way as the state
	// changes they mirror
	persistMu sync.Mutex
	persister Persister
	logger    zerolog.Logger
}

// NewStore creates a store, restoring the persisted identity if any. The
// loading flag always starts true.
func NewStore(ctx context.Context, persister Persister, log zerolog.Logger) *Store {
	s := &Store{
		loading:   true,
		changed:   make(chan struct{}),
		persister: persister,
		logger:    log,
	}

	if persister == nil {
		return s
	}

	saved, err := persister.Load(ctx)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Failed to restore persisted session")
	case saved != nil:
		s.user = cloneUser(saved.User)
		if s.user != nil && saved.Profile != nil && saved.Profile.ID == s.user.ID {
			s.profile = cloneProfile(saved.Profile)
		}
	}
	return s
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	return State{
		User:    cloneUser(s.user),
		Profile: cloneProfile(s.profile),
		Loading: s.loading,
	}
}

// SetUser replaces the current user. A profile that belongs to a different
// user is dropped in the same step.
func (s *Store) SetUser(user *User) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.user = cloneUser(user)
	if s.profile != nil && (s.user == nil || s.profile.ID != s.user.ID) {
		s.profile = nil
	}
	saved := s.persistedLocked()
	s.notifyLocked()
	s.mu.Unlock()

	s.save(saved)
}

// SetProfile replaces the current profile
func (s *Store) SetProfile(profile *Profile) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.profile = cloneProfile(profile)
	saved := s.persistedLocked()
	s.notifyLocked()
	s.mu.Unlock()

	s.save(saved)
}

// SetProfileFor installs profile only while userID is still the current
// user. It reports whether the profile was installed.
func (s *Store) SetProfileFor(userID string, profile *Profile) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.user == nil || s.user.ID != userID {
		s.mu.Unlock()
		return false
	}
	if profile != nil && profile.ID != userID {
		profile = nil
	}
	s.profile = cloneProfile(profile)
	saved := s.persistedLocked()
	s.notifyLocked()
	s.mu.Unlock()

	s.save(saved)
	return true
}

// SetLoading toggles the loading flag
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.notifyLocked()
	s.mu.Unlock()
}

// ClearAuth resets the store to signed-out and clears the persisted copy
func (s *Store) ClearAuth() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.user = nil
	s.profile = nil
	s.loading = false
	s.notifyLocked()
	s.mu.Unlock()

	if s.persister == nil {
		return
	}
	if err := s.persister.Clear(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to clear persisted session")
	}
}

// WaitFor blocks until cond holds for the current state or ctx is done. It
// returns the state that satisfied cond.
func (s *Store) WaitFor(ctx context.Context, cond func(State) bool) (State, error) {
	for {
		s.mu.RLock()
		state := s.snapshotLocked()
		changed := s.changed
		s.mu.RUnlock()

		if cond(state) {
			return state, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) persistedLocked() Persisted {
	return Persisted{User: cloneUser(s.user), Profile: cloneProfile(s.profile)}
}

func (s *Store) save(p Persisted) {
	if s.persister == nil {
		return
	}

	var err error
	if p.User == nil {
		err = s.persister.Clear(context.Background())
	} else {
		err = s.persister.Save(context.Background(), p)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist session")
	}
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneProfile(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}
