// Package gate decides whether a session may see a view.
package gate

import (
	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/session"
)

// Requirement is the access level a view needs.
type Requirement int

const (
	RequireIdentity Requirement = iota // any signed-in identity
	RequireAdmin                       // identity with the admin role
)

func (r Requirement) String() string {
	switch r {
	case RequireIdentity:
		return "identity"
	case RequireAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// State is the outcome of evaluating a Requirement.
type State int

const (
	Pending         State = iota // not enough information yet
	Unauthenticated              // no identity
	Forbidden                    // identity lacks the role
	Authorized
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Evaluate applies req to s. Loading is checked first, then identity, then
// role. An admin requirement stays Pending until the role is resolved: it
// never authorizes early and never forbids during the lookup.
func Evaluate(s session.Session, req Requirement) State {
	if s.Loading {
		return Pending
	}
	if s.Identity == nil {
		return Unauthenticated
	}
	switch req {
	case RequireIdentity:
		// member is the floor role, so the role cannot change the outcome.
		return Authorized
	case RequireAdmin:
		switch s.Role {
		case auth.RoleNone:
			return Pending
		case auth.RoleAdmin:
			return Authorized
		default:
			return Forbidden
		}
	default:
		return Forbidden
	}
}
