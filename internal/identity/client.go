package identity

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// Client is the identity service as seen by one browser client. It holds the
// client's current session and notifies subscribers when it changes.
// Listeners run synchronously, outside the client's locks, in
// subscription order.
type Client struct {
	provider   *Provider
	clientHash string

	mu      sync.Mutex // guards current and resumed
	current *storage.AuthSession
	resumed bool

	lmu       sync.Mutex
	listeners map[uint64]auth.Listener
	nextID    uint64
}

// GetCurrentSession returns the identity of the client's session, resuming
// the newest unexpired session bound to this client on first use.
func (c *Client) GetCurrentSession(ctx context.Context) (*auth.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resumed {
		as, err := c.provider.store.GetLatestAuthSession(ctx, c.clientHash, c.provider.now())
		if err != nil {
			return nil, fmt.Errorf("resume session: %w", err)
		}
		c.current = as
		c.resumed = true
	}
	if c.current == nil || !c.provider.now().Before(c.current.ExpiresAt) {
		return nil, nil
	}
	return c.provider.identityFor(ctx, c.current)
}

// SignInWithPassword authenticates and replaces the client's session.
// Subscribers receive SIGNED_IN on success. Failures leave state unchanged.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) error {
	id, err := c.provider.Authenticate(ctx, email, password)
	if err != nil {
		return err
	}
	as, err := c.provider.startSession(ctx, c.clientHash, id.ID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.current
	c.current = as
	c.resumed = true
	c.mu.Unlock()

	if prev != nil {
		if err := c.provider.store.DeleteAuthSession(ctx, prev.ID); err != nil {
			slog.Warn("failed to delete replaced session", "session_id", prev.ID, "error", err)
		}
	}
	c.emit(auth.EventSignedIn, id)
	return nil
}

// SignOut ends every session bound to this client and notifies SIGNED_OUT,
// also when no session was present.
func (c *Client) SignOut(ctx context.Context) error {
	if _, err := c.provider.store.DeleteAuthSessionsByClient(ctx, c.clientHash); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	c.mu.Lock()
	c.current = nil
	c.resumed = true
	c.mu.Unlock()

	c.emit(auth.EventSignedOut, nil)
	return nil
}

// Refresh validates the current session. An expired or revoked session is
// cleared with SIGNED_OUT; one past half its lifetime is rotated with
// TOKEN_REFRESHED. Does nothing before the session has been resumed.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	cur, resumed := c.current, c.resumed
	c.mu.Unlock()
	if !resumed || cur == nil {
		return nil
	}

	p := c.provider
	row, err := p.store.GetAuthSession(ctx, cur.ID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	now := p.now()

	var id *auth.Identity
	if row != nil && now.Before(row.ExpiresAt) {
		if id, err = p.identityFor(ctx, row); err != nil {
			return err
		}
	}
	if id == nil {
		if row != nil {
			if err := p.store.DeleteAuthSession(ctx, row.ID); err != nil {
				slog.Warn("failed to delete expired session", "session_id", row.ID, "error", err)
			}
		}
		if c.swap(cur.ID, nil) {
			c.emit(auth.EventSignedOut, nil)
		}
		return nil
	}

	if now.Sub(row.CreatedAt) < row.ExpiresAt.Sub(row.CreatedAt)/2 {
		if err := p.store.TouchAuthSession(ctx, row.ID); err != nil {
			slog.Warn("failed to touch session", "session_id", row.ID, "error", err)
		}
		return nil
	}

	next, err := p.startSession(ctx, c.clientHash, row.UserID)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	if !c.swap(cur.ID, next) {
		// Signed in or out concurrently; the rotation is obsolete.
		_ = p.store.DeleteAuthSession(ctx, next.ID)
		return nil
	}
	if err := p.store.DeleteAuthSession(ctx, row.ID); err != nil {
		slog.Warn("failed to delete rotated session", "session_id", row.ID, "error", err)
	}
	c.emit(auth.EventTokenRefreshed, id)
	return nil
}

// swap replaces the current session if it is still the one identified by expectID.
func (c *Client) swap(expectID string, next *storage.AuthSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ID != expectID {
		return false
	}
	c.current = next
	return true
}

// Subscribe registers fn for identity changes.
func (c *Client) Subscribe(fn auth.Listener) auth.Subscription {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return &subscription{client: c, id: id}
}

func (c *Client) emit(event auth.Event, id *auth.Identity) {
	c.lmu.Lock()
	ids := make([]uint64, 0, len(c.listeners))
	for k := range c.listeners {
		ids = append(ids, k)
	}
	slices.Sort(ids)
	fns := make([]auth.Listener, len(ids))
	for i, k := range ids {
		fns[i] = c.listeners[k]
	}
	c.lmu.Unlock()

	for _, fn := range fns {
		var cp *auth.Identity
		if id != nil {
			v := *id
			cp = &v
		}
		fn(event, cp)
	}
}

type subscription struct {
	client *Client
	id     uint64
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.lmu.Lock()
		delete(s.client.listeners, s.id)
		s.client.lmu.Unlock()
	})
}
