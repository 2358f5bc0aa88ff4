package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicstutor/tutorportal/internal/database"
	"github.com/physicstutor/tutorportal/internal/models"
)

var (
	alice        = &User{ID: "u-alice", Email: "alice@example.com"}
	bob          = &User{ID: "u-bob", Email: "bob@example.com"}
	aliceProfile = &Profile{ID: "u-alice", FullName: "Alice", Email: "alice@example.com", Status: StatusActive}
	bobProfile   = &Profile{ID: "u-bob", FullName: "Bob", Email: "bob@example.com", IsAdmin: true}
)

func TestNewStore_StartsLoading(t *testing.T) {
	s := NewStore(context.Background(), nil, zerolog.Nop())

	st := s.Snapshot()
	assert.True(t, st.Loading)
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)
	assert.False(t, st.IsAuthenticated())
	assert.False(t, st.IsAdmin())
}

func TestClearAuth_FromAnyState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *Store)
	}{
		{name: "fresh", setup: func(s *Store) {}},
		{name: "user only", setup: func(s *Store) { s.SetUser(alice) }},
		{name: "user and profile", setup: func(s *Store) {
			s.SetUser(bob)
			s.SetProfile(bobProfile)
			s.SetLoading(false)
		}},
		{name: "loading with user", setup: func(s *Store) {
			s.SetUser(alice)
			s.SetLoading(true)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(context.Background(), nil, zerolog.Nop())
			tt.setup(s)

			s.ClearAuth()

			assert.Equal(t, State{User: nil, Profile: nil, Loading: false}, s.Snapshot())
		})
	}
}

func TestSetUser_DropsProfileOfAnotherUser(t *testing.T) {
	s := NewStore(context.Background(), nil, zerolog.Nop())
	s.SetUser(alice)
	s.SetProfile(aliceProfile)

	// Same user (token refresh) keeps the profile
	s.SetUser(&User{ID: "u-alice", Email: "alice@example.com"})
	require.NotNil(t, s.Snapshot().Profile)

	s.SetUser(bob)
	st := s.Snapshot()
	assert.Equal(t, "u-bob", st.User.ID)
	assert.Nil(t, st.Profile)
}

func TestSetProfileFor_DiscardsStaleResult(t *testing.T) {
	s := NewStore(context.Background(), nil, zerolog.Nop())
	s.SetUser(alice)

	s.SetUser(bob)
	installed := s.SetProfileFor("u-alice", aliceProfile)

	assert.False(t, installed)
	assert.Nil(t, s.Snapshot().Profile)

	installed = s.SetProfileFor("u-bob", bobProfile)
	assert.True(t, installed)
	assert.True(t, s.Snapshot().IsAdmin())
}

func TestSetProfileFor_RejectsMismatchedRow(t *testing.T) {
	s := NewStore(context.Background(), nil, zerolog.Nop())
	s.SetUser(alice)

	installed := s.SetProfileFor("u-alice", bobProfile)

	assert.True(t, installed)
	assert.Nil(t, s.Snapshot().Profile)
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := NewStore(context.Background(), nil, zerolog.Nop())
	s.SetUser(alice)
	s.SetProfile(aliceProfile)

	st := s.Snapshot()
	st.Profile.IsAdmin = true
	st.User.ID = "tampered"

	again := s.Snapshot()
	assert.False(t, again.IsAdmin())
	assert.Equal(t, "u-alice", again.User.ID)
}

func TestStore_ConcurrentReadersNeverSeeCrossUserProfile(t *testing.T) {
	s := NewStore(context.Background(), nil, zerolog.Nop())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				st := s.Snapshot()
				if st.Profile != nil {
					if st.User == nil || st.User.ID != st.Profile.ID {
						t.Errorf("profile %s observed with user %+v", st.Profile.ID, st.User)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		s.SetUser(alice)
		s.SetProfileFor(alice.ID, aliceProfile)
		s.SetUser(bob)
		s.SetProfileFor(bob.ID, bobProfile)
		s.ClearAuth()
	}
	close(stop)
	wg.Wait()
}

func TestFilePersister_RoundTripExcludesLoading(t *testing.T) {
	ctx := context.Background()
	p := &FilePersister{Path: filepath.Join(t.TempDir(), "nested", StorageKey+".json")}

	s := NewStore(ctx, p, zerolog.Nop())
	s.SetUser(alice)
	s.SetProfile(aliceProfile)
	s.SetLoading(false)

	reloaded := NewStore(ctx, p, zerolog.Nop())
	st := reloaded.Snapshot()
	assert.True(t, st.Loading, "loading must reset on reload")
	require.NotNil(t, st.User)
	assert.Equal(t, "u-alice", st.User.ID)
	require.NotNil(t, st.Profile)
	assert.Equal(t, "Alice", st.Profile.FullName)

	reloaded.ClearAuth()
	saved, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestFilePersister_MissingFile(t *testing.T) {
	p := &FilePersister{Path: filepath.Join(t.TempDir(), "absent.json")}

	saved, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, saved)
	assert.NoError(t, p.Clear(context.Background()))
}

func TestGormPersister_ScopedKeys(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(filepath.Join(t.TempDir(), "state.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	require.NoError(t, models.AutoMigrateFrontend(db))

	first := NewGormPersister(db, "visitor-1")
	second := NewGormPersister(db, "visitor-2")

	require.NoError(t, first.Save(ctx, Persisted{User: alice, Profile: aliceProfile}))
	require.NoError(t, first.Save(ctx, Persisted{User: bob, Profile: bobProfile}))
	require.NoError(t, second.Save(ctx, Persisted{User: alice}))

	got, err := first.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u-bob", got.User.ID)
	assert.True(t, got.Profile.IsAdmin)

	require.NoError(t, first.Clear(ctx))
	got, err = first.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = second.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u-alice", got.User.ID)
	assert.Nil(t, got.Profile)
}

func TestNewStore_IgnoresPersistedProfileOfAnotherUser(t *testing.T) {
	ctx := context.Background()
	p := &FilePersister{Path: filepath.Join(t.TempDir(), "s.json")}
	require.NoError(t, p.Save(ctx, Persisted{User: alice, Profile: bobProfile}))

	st := NewStore(ctx, p, zerolog.Nop()).Snapshot()
	require.NotNil(t, st.User)
	assert.Nil(t, st.Profile)
}

func TestStore_WaitFor(t *testing.T) {
	s := NewStore(context.Background(), nil, zerolog.Nop())

	go func() {
		s.SetUser(alice)
		s.SetProfileFor(alice.ID, aliceProfile)
		s.SetLoading(false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st, err := s.WaitFor(ctx, func(st State) bool {
		return st.User != nil && !st.Loading
	})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, st.User.ID)
	require.NotNil(t, st.Profile)
	assert.Equal(t, "Alice", st.Profile.FullName)
}

func TestStore_WaitForContextDone(t *testing.T) {
	s := NewStore(context.Background(), nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	st, err := s.WaitFor(ctx, func(st State) bool { return !st.Loading })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, st.Loading)
}
