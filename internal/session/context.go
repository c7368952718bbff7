package session

import "context"

type storeKey struct{}
type sessionKey struct{}

// WithStore attaches the browser client's Store to the context.
func WithStore(ctx context.Context, st *Store) context.Context {
	return context.WithValue(ctx, storeKey{}, st)
}

// StoreFromContext returns the Store set by WithStore, or nil.
func StoreFromContext(ctx context.Context) *Store {
	st, _ := ctx.Value(storeKey{}).(*Store)
	return st
}

// WithSession attaches the snapshot a request was authorized with.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the snapshot set by WithSession.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
