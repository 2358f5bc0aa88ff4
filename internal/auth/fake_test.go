package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/physicstutor/tutorportal/internal/backend"
)

// fakeClient is an in-memory stand-in for *backend.Auth
type fakeClient struct {
	mu sync.Mutex

	session    *backend.Session
	sessionErr error

	handlers    map[int]backend.Handler
	nextID      int
	subscribes  int
	unsubscribe int

	profiles   map[string]*backend.ProfileRow
	profileErr error
	// gates block GetProfileByID for a user until the channel is closed
	gates map[string]chan struct{}

	signUpResult *backend.SignUpResult
	signUpErr    error
	signUpCalls  int
	signInErr    error
	signOutErr   error
	resetTargets []string
	passwords    []string
	updates      []profileUpdate
	updateErr    error
}

type profileUpdate struct {
	userID string
	fields map[string]any
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handlers: make(map[int]backend.Handler),
		profiles: make(map[string]*backend.ProfileRow),
		gates:    make(map[string]chan struct{}),
	}
}

func sessionFor(id, email string) *backend.Session {
	return &backend.Session{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		User:         backend.User{ID: id, Email: email},
	}
}

func (f *fakeClient) GetSession(ctx context.Context) (*backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.sessionErr
}

func (f *fakeClient) Subscribe(h backend.Handler) *backend.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.subscribes++
	f.handlers[id] = h

	return backend.NewSubscription(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribe++
		delete(f.handlers, id)
	})
}

// emit delivers a notification to every subscriber synchronously
func (f *fakeClient) emit(event backend.Event, sess *backend.Session) {
	f.mu.Lock()
	handlers := make([]backend.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(event, sess)
	}
}

func (f *fakeClient) gate(userID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[userID] = ch
	return ch
}

func (f *fakeClient) setProfile(row *backend.ProfileRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[row.ID] = row
}

func (f *fakeClient) GetProfileByID(ctx context.Context, userID string) (*backend.ProfileRow, error) {
	f.mu.Lock()
	gate := f.gates[userID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	row, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	c := *row
	return &c, nil
}

func (f *fakeClient) SignUp(ctx context.Context, email, password string, extra map[string]any) (*backend.SignUpResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUpCalls++
	return f.signUpResult, f.signUpErr
}

func (f *fakeClient) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	f.mu.Lock()
	err := f.signInErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sess := sessionFor("u-"+email, email)
	f.emit(backend.EventSignedIn, sess)
	return sess, nil
}

func (f *fakeClient) SignOut(ctx context.Context) error {
	f.mu.Lock()
	err := f.signOutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.emit(backend.EventSignedOut, nil)
	return nil
}

func (f *fakeClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetTargets = append(f.resetTargets, redirectTo)
	return nil
}

func (f *fakeClient) UpdateUser(ctx context.Context, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords = append(f.passwords, password)
	return nil
}

func (f *fakeClient) UpdateProfile(ctx context.Context, userID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := fields["is_admin"]; ok {
		return errors.New("permission denied for column is_admin")
	}
	f.updates = append(f.updates, profileUpdate{userID: userID, fields: fields})
	if row, ok := f.profiles[userID]; ok {
		if name, ok := fields["full_name"].(string); ok {
			row.FullName = name
		}
	}
	return nil
}

func (f *fakeClient) counts() (subscribes, unsubscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribe
}
