package auth

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/physicstutor/tutorportal/internal/backend"
	"github.com/physicstutor/tutorportal/internal/session"
)

// SessionSource resolves the existing session and streams changes to it
type SessionSource interface {
	GetSession(ctx context.Context) (*backend.Session, error)
	Subscribe(h backend.Handler) *backend.Subscription
}

type notification struct {
	event   backend.Event
	session *backend.Session
}

// Bootstrapper keeps the store in sync with the auth service for the
// lifetime of one application instance. Notifications are queued by the
// subscription callback and applied one at a time, in arrival order, by a
// single consumer goroutine.
type Bootstrapper struct {
	source  SessionSource
	fetcher *ProfileFetcher
	store   *session.Store
	logger  zerolog.Logger

	lifeMu  sync.Mutex
	started bool

	// writeMu is held by every store write and by Close while it flips
	// closed, so no write lands once Close has begun
	writeMu sync.Mutex
	closed  atomic.Bool
	sub     *backend.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	ready   chan struct{}

	queueMu sync.Mutex
	queue   []notification
	wake    chan struct{}
}

// NewBootstrapper wires the bootstrapper; call Start exactly once
func NewBootstrapper(source SessionSource, fetcher *ProfileFetcher, store *session.Store, log zerolog.Logger) *Bootstrapper {
	return &Bootstrapper{
		source:  source,
		fetcher: fetcher,
		store:   store,
		logger:  log,
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start subscribes to session changes and begins resolving the existing
// session. It does not wait for resolution; use Ready for that.
func (b *Bootstrapper) Start(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if b.closed.Load() {
		return ErrClosed
	}
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	b.ctx, b.cancel = context.WithCancel(ctx)

	// Subscribe before resolving so nothing between the two is missed
	b.sub = b.source.Subscribe(b.enqueue)

	go b.run()
	return nil
}

// Ready is closed once the initial session resolution has finished
func (b *Bootstrapper) Ready() <-chan struct{} {
	return b.ready
}

// Close releases the subscription and waits for the consumer to stop. No
// store write happens once Close has begun. Safe to call more than once.
func (b *Bootstrapper) Close() {
	b.writeMu.Lock()
	already := b.closed.Swap(true)
	if !already {
		b.fetcher.stop()
	}
	b.writeMu.Unlock()
	if already {
		return
	}

	b.lifeMu.Lock()
	started := b.started
	b.lifeMu.Unlock()

	if !started {
		return
	}

	b.sub.Unsubscribe()
	b.cancel()
	<-b.done
}

func (b *Bootstrapper) enqueue(event backend.Event, sess *backend.Session) {
	if b.closed.Load() {
		return
	}

	b.queueMu.Lock()
	b.queue = append(b.queue, notification{event: event, session: sess})
	b.queueMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bootstrapper) next() (notification, bool) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	if len(b.queue) == 0 {
		return notification{}, false
	}
	n := b.queue[0]
	b.queue[0] = notification{}
	b.queue = b.queue[1:]
	return n, true
}

func (b *Bootstrapper) run() {
	defer close(b.done)

	b.resolveInitial()
	close(b.ready)

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
		}

		for {
			if b.closed.Load() {
				return
			}
			n, ok := b.next()
			if !ok {
				break
			}
			b.handle(n)
		}
	}
}

func (b *Bootstrapper) resolveInitial() {
	sess, err := b.source.GetSession(b.ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to resolve existing session")
		sess = nil
	}

	if sess == nil || sess.User.ID == "" {
		b.apply(func() {
			// A restored identity without a live session is stale
			if b.store.Snapshot().User != nil {
				b.store.ClearAuth()
				return
			}
			b.store.SetLoading(false)
		})
		return
	}

	b.logger.Debug().Str("user_id", sess.User.ID).Msg("Resolved existing session")
	b.switchUser(sess.User)
}

func (b *Bootstrapper) handle(n notification) {
	if n.session == nil || n.session.User.ID == "" {
		b.logger.Debug().Str("event", string(n.event)).Msg("Session ended")
		b.apply(b.store.ClearAuth)
		return
	}

	userID := n.session.User.ID
	b.logger.Debug().Str("event", string(n.event)).Str("user_id", userID).Msg("Session changed")

	b.switchUser(n.session.User)
}

// switchUser installs user and loads their profile. The fetch is pending
// before the user changes, so loading covers the whole gap even when an
// older fetch finishes meanwhile.
func (b *Bootstrapper) switchUser(user backend.User) {
	seq, ok := b.fetcher.begin()
	if !ok {
		return
	}
	b.apply(func() { b.store.SetUser(toUser(user)) })
	b.fetcher.run(b.ctx, user.ID, seq)
}

func (b *Bootstrapper) apply(mutate func()) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.closed.Load() {
		return
	}
	mutate()
}
