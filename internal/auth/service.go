package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/physicstutor/tutorportal/internal/backend"
	"github.com/physicstutor/tutorportal/internal/session"
	"github.com/physicstutor/tutorportal/internal/validation"
)

// Backend is the subset of the auth/table service the actions call
type Backend interface {
	SignUp(ctx context.Context, email, password string, extra map[string]any) (*backend.SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, password string) error
	UpdateProfile(ctx context.Context, userID string, fields map[string]any) error
}

// ProfileFields are the profile columns a user may change themselves
type ProfileFields struct {
	FullName *string
	Email    *string
}

// SignUpOutcome describes what happened after a successful sign-up
type SignUpOutcome struct {
	UserID string
	// ConfirmationPending is true when the backend requires the email to be
	// confirmed before a session starts
	ConfirmationPending bool
}

// Service exposes the auth actions to page handlers. Every method either
// completes or returns an error for the caller to present.
type Service struct {
	backend   Backend
	fetcher   *ProfileFetcher
	store     *session.Store
	validator *validation.Validator
	siteURL   string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates the action service. siteURL is the public origin used
// for the password reset link.
func NewService(b Backend, fetcher *ProfileFetcher, store *session.Store, v *validation.Validator, siteURL string, log zerolog.Logger) *Service {
	return &Service{
		backend:   b,
		fetcher:   fetcher,
		store:     store,
		validator: v,
		siteURL:   strings.TrimRight(siteURL, "/"),
		logger:    log,
		now:       time.Now,
	}
}

// State returns the current session snapshot
func (s *Service) State() session.State {
	return s.store.Snapshot()
}

// SignUp validates the form, creates the account and stores the display
// name on the new profile.
func (s *Service) SignUp(ctx context.Context, form validation.SignUpForm) (*SignUpOutcome, error) {
	if err := s.validator.Check(form); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(form.Email)
	name := strings.TrimSpace(form.FullName)

	res, err := s.backend.SignUp(ctx, email, form.Password, map[string]any{"full_name": name})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", res.User.ID).Msg("Account created")

	if res.Session == nil {
		return &SignUpOutcome{UserID: res.User.ID, ConfirmationPending: true}, nil
	}

	if err := s.updateProfileFor(ctx, res.User.ID, ProfileFields{FullName: &name}); err != nil {
		return nil, fmt.Errorf("account created but saving the profile failed: %w", err)
	}
	return &SignUpOutcome{UserID: res.User.ID}, nil
}

// SignIn validates the form and starts a session. The store is updated by
// the bootstrapper when the sign-in notification arrives; the returned user
// is the one it will install.
func (s *Service) SignIn(ctx context.Context, form validation.SignInForm) (*session.User, error) {
	if err := s.validator.Check(form); err != nil {
		return nil, err
	}

	sess, err := s.backend.SignInWithPassword(ctx, strings.TrimSpace(form.Email), form.Password)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", sess.User.ID).Msg("User signed in")
	return toUser(sess.User), nil
}

// SignOut ends the session and clears the store
func (s *Service) SignOut(ctx context.Context) error {
	userID := ""
	if u := s.store.Snapshot().User; u != nil {
		userID = u.ID
	}

	if err := s.backend.SignOut(ctx); err != nil {
		return err
	}
	s.store.ClearAuth()

	s.logger.Info().Str("user_id", userID).Msg("User signed out")
	return nil
}

// ResetPassword sends a reset email whose link lands on the login page
func (s *Service) ResetPassword(ctx context.Context, form validation.ResetForm) error {
	if err := s.validator.Check(form); err != nil {
		return err
	}
	return s.backend.ResetPasswordForEmail(ctx, strings.TrimSpace(form.Email), s.siteURL+"/login")
}

// UpdatePassword sets a new password for the signed-in user
func (s *Service) UpdatePassword(ctx context.Context, form validation.PasswordForm) error {
	if err := s.validator.Check(form); err != nil {
		return err
	}
	if s.store.Snapshot().User == nil {
		return ErrNotAuthenticated
	}
	return s.backend.UpdateUser(ctx, form.Password)
}

// UpdateProfile saves profile fields for the signed-in user and reloads the
// profile. The admin flag is never part of the update.
func (s *Service) UpdateProfile(ctx context.Context, fields ProfileFields) error {
	user := s.store.Snapshot().User
	if user == nil {
		return ErrNotAuthenticated
	}
	return s.updateProfileFor(ctx, user.ID, fields)
}

func (s *Service) updateProfileFor(ctx context.Context, userID string, fields ProfileFields) error {
	update := map[string]any{
		"updated_at": s.now().UTC().Format(time.RFC3339),
	}
	if fields.FullName != nil {
		update["full_name"] = strings.TrimSpace(*fields.FullName)
	}
	if fields.Email != nil {
		update["email"] = strings.TrimSpace(*fields.Email)
	}

	if err := s.backend.UpdateProfile(ctx, userID, update); err != nil {
		return err
	}

	s.fetcher.FetchProfile(ctx, userID)
	return nil
}
