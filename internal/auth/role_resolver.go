package auth

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// RoleSource reads the raw role value stored for an identity.
// Implementations return an error when no role row exists.
type RoleSource interface {
	GetRole(ctx context.Context, userID string) (string, error)
}

// RoleResolver turns stored role values into Roles.
// Concurrent lookups for the same identity are coalesced into one query.
// Results are not cached, so a role change takes effect on the next lookup.
type RoleResolver struct {
	source RoleSource
	sf     singleflight.Group
}

// NewRoleResolver creates a resolver backed by source.
func NewRoleResolver(source RoleSource) *RoleResolver {
	return &RoleResolver{source: source}
}

// GetRole returns the Role of userID. A stored value that is not a known
// role resolves to RoleMember.
func (r *RoleResolver) GetRole(ctx context.Context, userID string) (Role, error) {
	result, err, _ := r.sf.Do(userID, func() (any, error) {
		raw, err := r.source.GetRole(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("lookup role for %s: %w", userID, err)
		}
		return ParseRole(raw), nil
	})
	if err != nil {
		return RoleNone, err
	}
	return result.(Role), nil
}
