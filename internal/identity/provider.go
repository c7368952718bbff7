// Package identity is the password-based identity service: it verifies
// credentials, keeps server-side sessions per browser client, and issues
// bearer tokens for the JSON API.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// dummyHash is verified against when the email is unknown, so both failure
// paths cost one argon2 evaluation.
var dummyHash, _ = auth.HashPassword("dummy-password-for-timing")

// Config holds Provider settings.
type Config struct {
	SessionTTL time.Duration // default 7 days
}

// Provider is the process-wide identity service shared by all browser clients.
type Provider struct {
	store  storage.Store
	tokens *auth.TokenIssuer
	ttl    time.Duration
	now    func() time.Time
}

// NewProvider creates a Provider. tokens may be nil when the JSON API is disabled.
func NewProvider(store storage.Store, tokens *auth.TokenIssuer, cfg Config) *Provider {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	return &Provider{store: store, tokens: tokens, ttl: cfg.SessionTTL, now: time.Now}
}

// Authenticate verifies email and password.
func (p *Provider) Authenticate(ctx context.Context, email, password string) (*auth.Identity, error) {
	u, err := p.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		_, _ = auth.VerifyPassword(password, dummyHash)
		return nil, ErrInvalidCredentials
	}
	ok, err := auth.VerifyPassword(password, u.PasswordHash)
	if err != nil {
		slog.Warn("stored password hash is unreadable", "user_id", u.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return &auth.Identity{ID: u.ID, Email: u.Email}, nil
}

// IssueToken authenticates and returns a signed bearer token with its expiry.
func (p *Provider) IssueToken(ctx context.Context, email, password string) (string, time.Time, error) {
	if p.tokens == nil {
		return "", time.Time{}, errors.New("token issuing is disabled")
	}
	id, err := p.Authenticate(ctx, email, password)
	if err != nil {
		return "", time.Time{}, err
	}
	return p.tokens.Issue(id)
}

// ValidateToken verifies a bearer token and that its subject still exists.
func (p *Provider) ValidateToken(ctx context.Context, token string) (*auth.Identity, error) {
	if p.tokens == nil {
		return nil, errors.New("token issuing is disabled")
	}
	id, err := p.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	u, err := p.store.GetUser(ctx, id.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return nil, errors.New("token subject no longer exists")
	}
	return &auth.Identity{ID: u.ID, Email: u.Email}, nil
}

// startSession creates a session row bound to clientHash.
func (p *Provider) startSession(ctx context.Context, clientHash, userID string) (*storage.AuthSession, error) {
	now := p.now()
	as := &storage.AuthSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		ClientHash: clientHash,
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.ttl),
	}
	if err := p.store.CreateAuthSession(ctx, as); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return as, nil
}

// identityFor loads the user behind a session. Returns nil if the user is gone.
func (p *Provider) identityFor(ctx context.Context, as *storage.AuthSession) (*auth.Identity, error) {
	u, err := p.store.GetUser(ctx, as.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return nil, nil
	}
	return &auth.Identity{ID: u.ID, Email: u.Email}, nil
}

// PruneExpired deletes expired session rows.
func (p *Provider) PruneExpired(ctx context.Context) (int64, error) {
	n, err := p.store.DeleteExpiredAuthSessions(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	if n > 0 {
		slog.Info("pruned expired sessions", "count", n)
	}
	return n, nil
}

// NewClient returns the identity client for one browser, keyed by its
// client token. Only the token's hash is persisted.
func (p *Provider) NewClient(clientToken string) *Client {
	return &Client{
		provider:   p,
		clientHash: auth.HashToken(clientToken),
		listeners:  make(map[uint64]auth.Listener),
	}
}
