package auth

import (
	"fmt"
	"strings"
)

// Role is the authorization level attached to an identity.
type Role string

const (
	RoleNone   Role = ""       // not resolved yet, or no identity
	RoleMember Role = "member" // default for every identity
	RoleAdmin  Role = "admin"
)

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

// ParseRole converts a stored role value to a Role.
// Unknown or empty values map to RoleMember (least privilege).
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleMember
}

// ValidateRole is the strict variant of ParseRole used for operator input.
func ValidateRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "member":
		return RoleMember, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleNone, fmt.Errorf("unknown role: %q", s)
	}
}
