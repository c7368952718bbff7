package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

const (
	testEmail    = "editor@example.com"
	testPassword = "correct-horse"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []auth.Event
	ids    []*auth.Identity
}

func (r *recorder) listen(e auth.Event, id *auth.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.ids = append(r.ids, id)
}

func (r *recorder) last() (auth.Event, *auth.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return "", nil
	}
	return r.events[len(r.events)-1], r.ids[len(r.ids)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestProvider(t *testing.T) (*Provider, *storage.SQLiteStore, *fakeClock) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), &storage.User{ID: "u1", Email: testEmail, PasswordHash: hash}))

	tokens, err := auth.NewTokenIssuer(auth.JWTConfig{SigningKey: "test-secret", Issuer: "cms-portal"})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Now()}
	p := NewProvider(store, tokens, Config{SessionTTL: 10 * time.Hour})
	p.now = clock.Now
	return p, store, clock
}

func TestAuthenticate(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	id, err := p.Authenticate(ctx, "Editor@Example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, testEmail, id.Email)

	_, err = p.Authenticate(ctx, testEmail, "wrong-password")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, err = p.Authenticate(ctx, "nobody@example.com", testPassword)
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestClient_SignInAndResume(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	c := p.NewClient("cms-client-a")
	rec := &recorder{}
	c.Subscribe(rec.listen)

	id, err := c.GetCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)

	require.NoError(t, c.SignInWithPassword(ctx, testEmail, testPassword))
	ev, evID := rec.last()
	assert.Equal(t, auth.EventSignedIn, ev)
	require.NotNil(t, evID)
	assert.Equal(t, "u1", evID.ID)

	id, err = c.GetCurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.ID)

	// A new client with the same browser token resumes the session.
	resumed := p.NewClient("cms-client-a")
	id, err = resumed.GetCurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.ID)

	// A different browser does not.
	other := p.NewClient("cms-client-b")
	id, err = other.GetCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestClient_SignInFailureLeavesStateUnchanged(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	c := p.NewClient("cms-client-a")
	rec := &recorder{}
	c.Subscribe(rec.listen)

	err := c.SignInWithPassword(ctx, testEmail, "nope-nope")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	assert.Equal(t, 0, rec.count())
}

func TestClient_SignOut(t *testing.T) {
	p, store, clock := newTestProvider(t)
	ctx := context.Background()

	c := p.NewClient("cms-client-a")
	rec := &recorder{}
	c.Subscribe(rec.listen)

	// Sign-out without a session still notifies.
	require.NoError(t, c.SignOut(ctx))
	ev, id := rec.last()
	assert.Equal(t, auth.EventSignedOut, ev)
	assert.Nil(t, id)

	require.NoError(t, c.SignInWithPassword(ctx, testEmail, testPassword))
	require.NoError(t, c.SignOut(ctx))
	ev, _ = rec.last()
	assert.Equal(t, auth.EventSignedOut, ev)

	id, err := c.GetCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)

	latest, err := store.GetLatestAuthSession(ctx, auth.HashToken("cms-client-a"), clock.Now())
	require.NoError(t, err)
	assert.Nil(t, latest, "sign-out must remove resumable sessions")
}

func TestClient_RefreshRotatesPastHalfLife(t *testing.T) {
	p, store, clock := newTestProvider(t)
	ctx := context.Background()

	c := p.NewClient("cms-client-a")
	rec := &recorder{}
	c.Subscribe(rec.listen)
	require.NoError(t, c.SignInWithPassword(ctx, testEmail, testPassword))
	first := c.current.ID

	// Early in the lifetime: no rotation, no event.
	clock.Advance(time.Hour)
	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, first, c.current.ID)

	clock.Advance(5 * time.Hour)
	require.NoError(t, c.Refresh(ctx))
	ev, id := rec.last()
	assert.Equal(t, auth.EventTokenRefreshed, ev)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.ID)
	assert.NotEqual(t, first, c.current.ID)

	old, err := store.GetAuthSession(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, old, "rotated session row should be deleted")
}

func TestClient_RefreshExpired(t *testing.T) {
	p, _, clock := newTestProvider(t)
	ctx := context.Background()

	c := p.NewClient("cms-client-a")
	rec := &recorder{}
	c.Subscribe(rec.listen)
	require.NoError(t, c.SignInWithPassword(ctx, testEmail, testPassword))

	clock.Advance(11 * time.Hour)
	id, err := c.GetCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, id, "expired session has no identity")

	require.NoError(t, c.Refresh(ctx))
	ev, _ := rec.last()
	assert.Equal(t, auth.EventSignedOut, ev)

	// Second refresh is a no-op.
	n := rec.count()
	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, n, rec.count())
}

func TestClient_RefreshRevoked(t *testing.T) {
	p, store, _ := newTestProvider(t)
	ctx := context.Background()

	c := p.NewClient("cms-client-a")
	rec := &recorder{}
	c.Subscribe(rec.listen)
	require.NoError(t, c.SignInWithPassword(ctx, testEmail, testPassword))

	_, err := store.DeleteAuthSessionsByClient(ctx, auth.HashToken("cms-client-a"))
	require.NoError(t, err)

	require.NoError(t, c.Refresh(ctx))
	ev, _ := rec.last()
	assert.Equal(t, auth.EventSignedOut, ev)
}

func TestClient_SubscriptionOrderAndUnsubscribe(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()
	c := p.NewClient("cms-client-a")

	var mu sync.Mutex
	var order []string
	record := func(name string) auth.Listener {
		return func(auth.Event, *auth.Identity) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	c.Subscribe(record("first"))
	second := c.Subscribe(record("second"))
	c.Subscribe(record("third"))

	require.NoError(t, c.SignOut(ctx))
	assert.Equal(t, []string{"first", "second", "third"}, order)

	second.Unsubscribe()
	second.Unsubscribe()
	order = nil
	require.NoError(t, c.SignOut(ctx))
	assert.Equal(t, []string{"first", "third"}, order)
}

func TestTokens(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	tok, exp, err := p.IssueToken(ctx, testEmail, testPassword)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	id, err := p.ValidateToken(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)

	_, _, err = p.IssueToken(ctx, testEmail, "wrong-password")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, err = p.ValidateToken(ctx, "not-a-jwt")
	assert.Error(t, err)
}

func TestPruneExpired(t *testing.T) {
	p, _, clock := newTestProvider(t)
	ctx := context.Background()

	c := p.NewClient("cms-client-a")
	require.NoError(t, c.SignInWithPassword(ctx, testEmail, testPassword))

	n, err := p.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(11 * time.Hour)
	n, err = p.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
