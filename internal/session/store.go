// Package session holds the per-browser authentication state: who is signed
// in, which role they have, and whether that is still being resolved.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hatemosphere/cms-portal/internal/auth"
)

// IdentityProvider is what a Store needs from the identity service.
type IdentityProvider interface {
	GetCurrentSession(ctx context.Context) (*auth.Identity, error)
	SignInWithPassword(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	Subscribe(fn auth.Listener) auth.Subscription
}

// RoleLookup reads the role of an identity.
type RoleLookup interface {
	GetRole(ctx context.Context, identityID string) (auth.Role, error)
}

// Session is an immutable snapshot of a Store.
type Session struct {
	Identity *auth.Identity // nil when signed out
	Role     auth.Role      // RoleNone until resolved
	Loading  bool           // true until the initial provider query finishes
}

// IsAdmin reports whether the resolved role is admin.
func (s Session) IsAdmin() bool { return s.Role == auth.RoleAdmin }

// Settled reports whether nothing is pending: initialization finished and,
// with an identity present, its role is known.
func (s Session) Settled() bool {
	return !s.Loading && (s.Identity == nil || s.Role != auth.RoleNone)
}

// ResolveRole looks up the role of identityID. A missing row or a failed
// lookup resolves to RoleMember; errors never reach the caller.
func ResolveRole(ctx context.Context, roles RoleLookup, identityID string) auth.Role {
	role, err := roles.GetRole(ctx, identityID)
	if err != nil {
		slog.Debug("role lookup failed, defaulting to member", "identity", identityID, "error", err)
		return auth.RoleMember
	}
	if role == auth.RoleNone {
		return auth.RoleMember
	}
	return role
}

// Store is the authoritative session state of one browser client. It owns
// exactly one provider subscription for its lifetime.
type Store struct {
	provider IdentityProvider
	roles    RoleLookup

	ctx    context.Context // cancelled by Close
	cancel context.CancelFunc
	sub    auth.Subscription

	initOnce sync.Once

	mu      sync.Mutex
	sess    Session
	version uint64        // bumped on every identity write
	roleGen uint64        // id of the latest role lookup
	changed chan struct{} // closed and replaced on every state change
	closed  bool
	lookups sync.WaitGroup
}

// NewStore creates an uninitialized Store and subscribes it to provider.
func NewStore(provider IdentityProvider, roles RoleLookup) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		provider: provider,
		roles:    roles,
		ctx:      ctx,
		cancel:   cancel,
		sess:     Session{Loading: true},
		changed:  make(chan struct{}),
	}
	s.sub = provider.Subscribe(s.OnIdentityChanged)
	return s
}

// Initialize queries the provider for an existing session. Only the first
// call has any effect. Loading is cleared when it returns, also when the
// query fails (treated as signed out). An identity event applied while the
// query is in flight wins over the query result.
func (s *Store) Initialize(ctx context.Context) {
	s.initOnce.Do(func() { s.initialize(ctx) })
}

func (s *Store) initialize(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.mu.Lock()
	issued := s.version
	s.mu.Unlock()

	id, err := s.provider.GetCurrentSession(ctx)
	if err != nil {
		slog.Warn("initial session query failed", "error", err)
		id = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.version == issued {
		s.setIdentityLocked(id)
	} else {
		slog.Debug("initial session superseded by identity event")
	}
	s.sess.Loading = false
	s.notifyLocked()
}

// OnIdentityChanged applies a provider notification. Events are applied in
// arrival order.
func (s *Store) OnIdentityChanged(event auth.Event, id *auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	slog.Debug("identity changed", "event", event, "signed_in", id != nil)
	s.setIdentityLocked(id)
	s.notifyLocked()
}

// setIdentityLocked records id and starts its role lookup. A different
// subject (or none) clears the role at once; the same subject keeps its
// role until the new lookup lands.
func (s *Store) setIdentityLocked(id *auth.Identity) {
	s.version++
	if id == nil {
		s.sess.Identity = nil
		s.sess.Role = auth.RoleNone
		s.roleGen++ // invalidates in-flight lookups
		return
	}
	prev := s.sess.Identity
	cp := *id
	s.sess.Identity = &cp
	if prev == nil || prev.ID != cp.ID {
		s.sess.Role = auth.RoleNone
	}

	s.roleGen++
	gen := s.roleGen
	s.lookups.Add(1)
	go s.resolveRole(gen, cp.ID)
}

// resolveRole applies a lookup result only if it is still the latest lookup
// and the identity has not changed.
func (s *Store) resolveRole(gen uint64, identityID string) {
	defer s.lookups.Done()
	role := ResolveRole(s.ctx, s.roles, identityID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.roleGen || s.sess.Identity == nil || s.sess.Identity.ID != identityID {
		slog.Debug("discarding stale role lookup", "identity", identityID)
		return
	}
	s.sess.Role = role
	s.notifyLocked()
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// SignIn delegates to the provider. State changes arrive through the
// subscription; failures are returned unchanged.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	return s.provider.SignInWithPassword(ctx, email, password)
}

// SignOut delegates to the provider. Signing out without an identity is not
// an error.
func (s *Store) SignOut(ctx context.Context) error {
	return s.provider.SignOut(ctx)
}

// Refresh lets providers that support it revalidate the session.
func (s *Store) Refresh(ctx context.Context) error {
	if r, ok := s.provider.(interface{ Refresh(context.Context) error }); ok {
		return r.Refresh(ctx)
	}
	return nil
}

// Snapshot returns the current session.
func (s *Store) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Wait blocks until the session is settled or ctx is done, and returns the
// latest snapshot either way.
func (s *Store) Wait(ctx context.Context) (Session, error) {
	for {
		s.mu.Lock()
		sess, ch := s.sess, s.changed
		s.mu.Unlock()
		if sess.Settled() {
			return sess, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
}

// Close releases the provider subscription and cancels role lookups.
// Later events and lookup results are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sub.Unsubscribe()
	s.cancel()
	s.lookups.Wait()
}
