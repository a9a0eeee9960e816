package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"custodia.org/internal/ids"
)

const (
	defaultIssuer = "custodia-backoffice"
	defaultTTL    = 8 * time.Hour
	minKeyBytes   = 32
)

// Claims represents JWT claims used across the service.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 session tokens with a key supplied at
// construction.
type TokenService struct {
	key    []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithTokenTTL configures the default token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLeeway tolerates clock skew when checking exp, nbf and iat.
func WithLeeway(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d >= 0 {
			s.leeway = d
		}
	}
}

// NewTokenService constructs a TokenService. The key must be at least 32 bytes.
func NewTokenService(key []byte, opts ...TokenOption) (*TokenService, error) {
	if len(key) < minKeyBytes {
		return nil, ErrWeakKey
	}
	s := &TokenService{
		key:    append([]byte(nil), key...),
		issuer: defaultIssuer,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the default token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token for id. A non-positive ttl falls back to the configured default.
func (s *TokenService) Issue(id Identity, ttl time.Duration) (string, time.Time, error) {
	subject := strings.TrimSpace(id.SubjectID)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Email: strings.TrimSpace(id.Email),
		Role:  strings.TrimSpace(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.NewAt(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the signature, algorithm, issuer and validity window of token
// and returns the identity it carries. Every failure yields ErrInvalidToken.
func (s *TokenService) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, ErrInvalidToken
	}
	role := strings.TrimSpace(claims.Role)
	if role == "" {
		role = DefaultRole
	}
	return Identity{
		SubjectID: subject,
		Email:     strings.TrimSpace(claims.Email),
		Role:      role,
	}, nil
}
