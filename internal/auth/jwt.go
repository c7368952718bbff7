package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds configuration for API bearer tokens.
type JWTConfig struct {
	SigningKey string        // HMAC secret
	Issuer     string        // "iss" claim set on issue and verified on parse (empty = not verified)
	TTL        time.Duration // lifetime of issued tokens (default 1h)
}

// TokenIssuer signs and validates HS256 bearer tokens for the JSON API.
type TokenIssuer struct {
	config     JWTConfig
	key        []byte
	parserOpts []jwt.ParserOption
	now        func() time.Time
}

// Claims is the JWT payload issued to API clients.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewTokenIssuer creates a TokenIssuer for the given HMAC secret.
func NewTokenIssuer(config JWTConfig) (*TokenIssuer, error) {
	if config.SigningKey == "" {
		return nil, errors.New("jwt signing key is required")
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(config.Issuer))
	}

	return &TokenIssuer{
		config:     config,
		key:        []byte(config.SigningKey),
		parserOpts: parserOpts,
		now:        time.Now,
	}, nil
}

// Issue signs a token for the identity. Returns the token and its expiry.
func (ti *TokenIssuer) Issue(id *Identity) (string, time.Time, error) {
	if id == nil || id.ID == "" {
		return "", time.Time{}, errors.New("identity is required")
	}
	now := ti.now()
	exp := now.Add(ti.config.TTL)
	claims := Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    ti.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign JWT: %w", err)
	}
	return s, exp, nil
}

// Validate parses and verifies a token string, returning the identity it carries.
func (ti *TokenIssuer) Validate(tokenString string) (*Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return ti.key, nil
	}, ti.parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("JWT missing sub claim")
	}
	return &Identity{ID: claims.Subject, Email: claims.Email}, nil
}
