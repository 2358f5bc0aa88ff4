package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// refreshMargin is how close to expiry an access token gets refreshed
const refreshMargin = 60 * time.Second

// TokenStore persists the session tokens between process restarts. Load
// returns nil, nil when nothing is stored.
type TokenStore interface {
	LoadSession(ctx context.Context) (*Session, error)
	SaveSession(ctx context.Context, sess *Session) error
	DeleteSession(ctx context.Context) error
}

// Handler receives session change notifications. session is nil on sign-out.
type Handler func(event Event, session *Session)

// Subscription is returned by Subscribe. Unsubscribe is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps cancel so it runs at most once
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe stops delivery to the handler
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Auth holds one client's session on top of Client and notifies
// subscribers of every change, in the order the changes happened.
type Auth struct {
	client *Client
	tokens TokenStore
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	session *Session
	loaded  bool

	// refreshMu serializes refresh calls; refresh tokens are single use
	refreshMu sync.Mutex

	subMu  sync.Mutex
	subs   map[uint64]Handler
	nextID uint64

	// notifyMu keeps notifications in the order the state changed
	notifyMu sync.Mutex
}

// NewAuth creates a session holder backed by tokens
func NewAuth(client *Client, tokens TokenStore, log zerolog.Logger) *Auth {
	return &Auth{
		client: client,
		tokens: tokens,
		logger: log,
		now:    time.Now,
		subs:   make(map[uint64]Handler),
	}
}

// Subscribe registers h for session change notifications
func (a *Auth) Subscribe(h Handler) *Subscription {
	a.subMu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = h
	a.subMu.Unlock()

	return NewSubscription(func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	})
}

// GetSession returns the current session, loading it from the token store
// on first use and refreshing it when the access token has expired.
func (a *Auth) GetSession(ctx context.Context) (*Session, error) {
	sess, err := a.current(ctx)
	if err != nil || sess == nil {
		return nil, err
	}

	if a.now().Add(refreshMargin).Before(sess.Expiry()) {
		return sess, nil
	}
	return a.refresh(ctx, sess)
}

// RefreshDue refreshes the session when it is about to expire. It is a
// no-op without a session.
func (a *Auth) RefreshDue(ctx context.Context) error {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	if sess == nil || a.now().Add(refreshMargin).Before(sess.Expiry()) {
		return nil
	}
	_, err := a.refresh(ctx, sess)
	return err
}

// SignUp creates an account and starts the returned session, if any
func (a *Auth) SignUp(ctx context.Context, email, password string, extra map[string]any) (*SignUpResult, error) {
	res, err := a.client.SignUp(ctx, email, password, extra)
	if err != nil {
		return nil, err
	}
	if res.Session != nil {
		a.install(ctx, EventSignedIn, res.Session)
	}
	return res, nil
}

// SignInWithPassword starts a session for the credentials
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	sess, err := a.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	a.install(ctx, EventSignedIn, sess)
	return sess, nil
}

// SignOut revokes the session at the backend and forgets it locally. An
// already-expired session is forgotten without error; transport failures
// keep the session and are returned.
func (a *Auth) SignOut(ctx context.Context) error {
	sess, err := a.current(ctx)
	if err != nil {
		return err
	}
	if sess != nil {
		if err := a.client.SignOut(ctx, sess.AccessToken); err != nil {
			var authErr *AuthError
			if !errors.As(err, &authErr) || authErr.Status != http.StatusUnauthorized {
				return err
			}
		}
	}
	a.forget(ctx)
	return nil
}

// ResetPasswordForEmail sends a password recovery email
func (a *Auth) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return a.client.ResetPasswordForEmail(ctx, email, redirectTo)
}

// UpdateUser changes the password of the signed-in user
func (a *Auth) UpdateUser(ctx context.Context, password string) error {
	sess, err := a.GetSession(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionMissing
	}

	user, err := a.client.UpdateUser(ctx, sess.AccessToken, password)
	if err != nil {
		return err
	}

	updated := *sess
	updated.User = *user
	a.install(ctx, EventUserUpdated, &updated)
	return nil
}

// GetProfileByID reads a profile row with the current session's token
func (a *Auth) GetProfileByID(ctx context.Context, userID string) (*ProfileRow, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return a.client.GetProfileByID(ctx, token, userID)
}

// UpdateProfile applies a partial update to a profile row with the current
// session's token
func (a *Auth) UpdateProfile(ctx context.Context, userID string, fields map[string]any) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}
	return a.client.UpdateProfile(ctx, token, userID, fields)
}

func (a *Auth) accessToken(ctx context.Context) (string, error) {
	sess, err := a.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", ErrSessionMissing
	}
	return sess.AccessToken, nil
}

func (a *Auth) current(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		sess, err := a.tokens.LoadSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load stored session: %w", err)
		}
		a.session = sess
		a.loaded = true
	}
	return a.session, nil
}

func (a *Auth) refresh(ctx context.Context, stale *Session) (*Session, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	// Another caller may have refreshed while we waited
	a.mu.Lock()
	cur := a.session
	a.mu.Unlock()
	if cur == nil {
		return nil, nil
	}
	if cur.RefreshToken != stale.RefreshToken {
		return cur, nil
	}

	fresh, err := a.client.RefreshSession(ctx, cur.RefreshToken)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) && authErr.Status >= 400 && authErr.Status < 500 {
			a.logger.Info().Str("user_id", cur.User.ID).Msg("Refresh token rejected, signing out")
			a.forget(ctx)
			return nil, err
		}
		return nil, err
	}

	a.install(ctx, EventTokenRefreshed, fresh)
	return fresh, nil
}

// install replaces the session, persists it and notifies subscribers. The
// notify lock is taken before the state changes so subscribers see changes
// in the order they were applied.
func (a *Auth) install(ctx context.Context, event Event, sess *Session) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	a.session = sess
	a.loaded = true
	a.mu.Unlock()

	if err := a.tokens.SaveSession(ctx, sess); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist session tokens")
	}
	a.notify(event, sess)
}

func (a *Auth) forget(ctx context.Context) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	a.session = nil
	a.loaded = true
	a.mu.Unlock()

	if err := a.tokens.DeleteSession(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to delete session tokens")
	}
	a.notify(EventSignedOut, nil)
}

func (a *Auth) notify(event Event, sess *Session) {
	a.subMu.Lock()
	handlers := make([]Handler, 0, len(a.subs))
	for _, h := range a.subs {
		handlers = append(handlers, h)
	}
	a.subMu.Unlock()

	for _, h := range handlers {
		var copied *Session
		if sess != nil {
			s := *sess
			copied = &s
		}
		h(event, copied)
	}
}

// MemoryTokenStore keeps the session in memory only
type MemoryTokenStore struct {
	mu   sync.Mutex
	sess *Session
}

func (m *MemoryTokenStore) LoadSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, nil
	}
	s := *m.sess
	return &s, nil
}

func (m *MemoryTokenStore) SaveSession(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *sess
	m.sess = &s
	return nil
}

func (m *MemoryTokenStore) DeleteSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	return nil
}
