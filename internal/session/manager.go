package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hatemosphere/cms-portal/internal/auth"
)

// ProviderFactory returns the identity provider for one browser client.
type ProviderFactory func(clientToken string) IdentityProvider

// ManagerConfig holds registry limits and cookie settings.
type ManagerConfig struct {
	Size    int           // max live browser clients (0 = default 10000)
	IdleTTL time.Duration // evict clients idle this long (0 = default 24h)
	Cookie  CookieOptions
}

// Manager maps browser clients (by cookie) to their Store. Idle clients are
// evicted and their Store closed.
type Manager struct {
	newProvider ProviderFactory
	roles       RoleLookup
	cookie      CookieOptions

	mu      sync.Mutex // serializes get-or-create
	clients *expirable.LRU[string, *Store]
}

// NewManager creates a Manager.
func NewManager(newProvider ProviderFactory, roles RoleLookup, cfg ManagerConfig) *Manager {
	if cfg.Size <= 0 {
		cfg.Size = 10000
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 24 * time.Hour
	}
	m := &Manager{
		newProvider: newProvider,
		roles:       roles,
		cookie:      cfg.Cookie,
	}
	m.clients = expirable.NewLRU[string, *Store](cfg.Size, func(key string, st *Store) {
		slog.Debug("evicting browser client", "client", key[:len(auth.TokenPrefix)+8])
		// Close waits for role lookups; keep it off the LRU lock.
		go st.Close()
	}, cfg.IdleTTL)
	return m
}

// Get returns the Store of the requesting browser, issuing a client cookie
// and creating an initializing Store on first contact.
func (m *Manager) Get(w http.ResponseWriter, r *http.Request) (*Store, error) {
	token := ""
	if c, err := r.Cookie(CookieName); err == nil && auth.ValidTokenFormat(c.Value) {
		token = c.Value
	}
	if token == "" {
		t, err := auth.GenerateToken()
		if err != nil {
			return nil, err
		}
		token = t
		SetCookie(w, token, m.cookie)
	}
	return m.store(token), nil
}

func (m *Manager) store(token string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.clients.Get(token); ok {
		m.clients.Add(token, st) // renew idle TTL
		return st
	}
	st := NewStore(m.newProvider(token), m.roles)
	m.clients.Add(token, st)
	go st.Initialize(context.Background())
	return st
}

// Len returns the number of live browser clients.
func (m *Manager) Len() int {
	return m.clients.Len()
}

// Close closes every Store.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.clients.Values() {
		st.Close()
	}
	m.clients.Purge()
}
