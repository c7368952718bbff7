package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix is prepended to all generated client tokens.
	TokenPrefix = "cms-"
	// tokenRandBytes is the number of random bytes in a token (32 bytes = 64 hex chars).
	tokenRandBytes = 32
)

// GenerateToken creates a new random browser-client token with the "cms-" prefix.
// Format: "cms-" + 64 hex chars = 68 char token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenRandBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(b), nil
}

// ValidTokenFormat reports whether s looks like a token from GenerateToken.
func ValidTokenFormat(s string) bool {
	if !strings.HasPrefix(s, TokenPrefix) {
		return false
	}
	raw := strings.TrimPrefix(s, TokenPrefix)
	if len(raw) != tokenRandBytes*2 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// HashToken returns the SHA-256 hex digest of a token string.
// Only the hash is ever persisted.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
