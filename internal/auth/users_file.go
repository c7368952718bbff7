package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// UsersFile defines the accounts seeded at startup, loaded from YAML.
type UsersFile struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser is one account entry. Exactly one of Password and PasswordHash is set.
type SeedUser struct {
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`     // plaintext, hashed on load
	PasswordHash string `yaml:"passwordHash"` // PHC-formatted argon2id hash
	Role         string `yaml:"role"`         // "admin" or "member" (default)
}

// LoadUsersFile reads and validates a users file.
func LoadUsersFile(path string) (*UsersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var f UsersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that every entry is usable and emails are unique.
func (f *UsersFile) Validate() error {
	seen := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" || !strings.Contains(email, "@") {
			return fmt.Errorf("users[%d]: invalid email %q", i, u.Email)
		}
		if seen[email] {
			return fmt.Errorf("users[%d]: duplicate email %q", i, u.Email)
		}
		seen[email] = true

		if (u.Password == "") == (u.PasswordHash == "") {
			return fmt.Errorf("users[%d]: exactly one of password and passwordHash is required", i)
		}
		if _, err := ValidateRole(u.Role); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}
	return nil
}

// Hash returns the stored password hash for the entry, hashing the
// plaintext password if needed.
func (u SeedUser) Hash() (string, error) {
	if u.PasswordHash != "" {
		if !strings.HasPrefix(u.PasswordHash, "$argon2id$") {
			return "", errors.New("passwordHash must be an argon2id PHC string")
		}
		return u.PasswordHash, nil
	}
	return HashPassword(u.Password)
}
