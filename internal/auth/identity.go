package auth

import "context"

// Identity is the authenticated subject reported by the identity provider.
// Holders keep a read-only copy for the lifetime of a session.
type Identity struct {
	ID    string // opaque subject id
	Email string // optional
}

// Event names an identity-provider notification.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener receives identity changes. id is nil when no identity is present.
type Listener func(event Event, id *Identity)

// Subscription is a handle to a registered Listener.
type Subscription interface {
	Unsubscribe()
}

type contextKey struct{}

// WithIdentity stores an Identity in the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns nil if no identity is set.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
