package auth

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/physicstutor/tutorportal/internal/backend"
	"github.com/physicstutor/tutorportal/internal/session"
)

// ProfileSource loads profile rows
type ProfileSource interface {
	GetProfileByID(ctx context.Context, userID string) (*backend.ProfileRow, error)
}

// ProfileFetcher loads the profile for a user id and installs it into the
// store. Results for a user who is no longer current, or older than the
// last installed result, are dropped.
//
// Fetches may overlap. Loading stays set while any fetch is pending and is
// cleared by the last one to finish.
type ProfileFetcher struct {
	source ProfileSource
	store  *session.Store
	logger zerolog.Logger

	seq atomic.Uint64

	// mu guards every store write the fetcher makes
	mu        sync.Mutex
	stopped   bool
	pending   int
	installed uint64
}

// NewProfileFetcher creates a fetcher writing into store
func NewProfileFetcher(source ProfileSource, store *session.Store, log zerolog.Logger) *ProfileFetcher {
	return &ProfileFetcher{source: source, store: store, logger: log}
}

// FetchProfile loads and installs the profile of userID. Failures resolve to
// nil and are only logged.
func (f *ProfileFetcher) FetchProfile(ctx context.Context, userID string) *session.Profile {
	seq, ok := f.begin()
	if !ok {
		return nil
	}
	return f.run(ctx, userID, seq)
}

// begin registers a pending fetch and sets loading. It reports false once
// the fetcher is stopped. Every successful begin must be followed by run.
func (f *ProfileFetcher) begin() (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return 0, false
	}
	f.pending++
	f.store.SetLoading(true)
	return f.seq.Add(1), true
}

func (f *ProfileFetcher) run(ctx context.Context, userID string, seq uint64) *session.Profile {
	defer f.finish()

	row, err := f.source.GetProfileByID(ctx, userID)
	if err != nil {
		f.logger.Error().Err(&ProfileFetchError{UserID: userID, Err: err}).Msg("Failed to fetch profile")
		row = nil
	}
	profile := toProfile(row)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return nil
	}
	if seq < f.installed {
		f.logger.Debug().Str("user_id", userID).Msg("Discarding superseded profile fetch")
		return profile
	}
	if !f.store.SetProfileFor(userID, profile) {
		f.logger.Debug().Str("user_id", userID).Msg("Discarding profile fetched for a previous user")
		return profile
	}
	f.installed = seq
	return profile
}

func (f *ProfileFetcher) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending--
	if f.pending == 0 && !f.stopped {
		f.store.SetLoading(false)
	}
}

// stop makes every later or in-flight fetch leave the store untouched. Once
// it returns no fetcher write can land.
func (f *ProfileFetcher) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func toProfile(row *backend.ProfileRow) *session.Profile {
	if row == nil {
		return nil
	}
	return &session.Profile{
		ID:        row.ID,
		FullName:  row.FullName,
		Email:     row.Email,
		IsAdmin:   row.IsAdmin,
		Status:    session.Status(row.Status),
		UpdatedAt: row.UpdatedAt,
	}
}

func toUser(u backend.User) *session.User {
	return &session.User{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}
