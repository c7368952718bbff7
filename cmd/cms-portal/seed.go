package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// seedUsers creates missing accounts and upserts every role. Existing
// passwords are never overwritten.
func seedUsers(ctx context.Context, store storage.Store, f *auth.UsersFile) error {
	for _, su := range f.Users {
		email := strings.ToLower(strings.TrimSpace(su.Email))
		role, err := auth.ValidateRole(su.Role)
		if err != nil {
			return fmt.Errorf("%s: %w", email, err)
		}

		u, err := store.GetUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", email, err)
		}
		if u == nil {
			hash, err := su.Hash()
			if err != nil {
				return fmt.Errorf("%s: %w", email, err)
			}
			u = &storage.User{ID: uuid.NewString(), Email: email, PasswordHash: hash, CreatedAt: time.Now()}
			if err := store.CreateUser(ctx, u); err != nil {
				return fmt.Errorf("create %s: %w", email, err)
			}
		}
		if err := store.SetRole(ctx, u.ID, string(role)); err != nil {
			return fmt.Errorf("set role for %s: %w", email, err)
		}
	}
	return nil
}
