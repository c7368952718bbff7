package gate

import (
	"testing"

	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/session"
)

func TestEvaluate(t *testing.T) {
	alice := &auth.Identity{ID: "alice"}

	tests := []struct {
		name string
		sess session.Session
		req  Requirement
		want State
	}{
		{"loading identity", session.Session{Loading: true}, RequireIdentity, Pending},
		{"loading admin", session.Session{Loading: true}, RequireAdmin, Pending},
		{"loading wins over identity", session.Session{Loading: true, Identity: alice, Role: auth.RoleAdmin}, RequireAdmin, Pending},
		{"signed out identity", session.Session{}, RequireIdentity, Unauthenticated},
		{"signed out admin", session.Session{}, RequireAdmin, Unauthenticated},
		{"member identity", session.Session{Identity: alice, Role: auth.RoleMember}, RequireIdentity, Authorized},
		{"role lag identity", session.Session{Identity: alice}, RequireIdentity, Authorized},
		{"admin identity", session.Session{Identity: alice, Role: auth.RoleAdmin}, RequireIdentity, Authorized},
		{"role lag admin", session.Session{Identity: alice}, RequireAdmin, Pending},
		{"member admin", session.Session{Identity: alice, Role: auth.RoleMember}, RequireAdmin, Forbidden},
		{"admin admin", session.Session{Identity: alice, Role: auth.RoleAdmin}, RequireAdmin, Authorized},
		{"unknown role admin", session.Session{Identity: alice, Role: auth.Role("editor")}, RequireAdmin, Forbidden},
		{"unknown requirement", session.Session{Identity: alice, Role: auth.RoleAdmin}, Requirement(42), Forbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.sess, tt.req); got != tt.want {
				t.Errorf("Evaluate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStrings(t *testing.T) {
	if RequireAdmin.String() != "admin" || RequireIdentity.String() != "identity" {
		t.Error("unexpected requirement names")
	}
	for s, want := range map[State]string{
		Pending:         "pending",
		Unauthenticated: "unauthenticated",
		Forbidden:       "forbidden",
		Authorized:      "authorized",
		State(9):        "unknown",
	} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", int(s), s.String(), want)
		}
	}
}
