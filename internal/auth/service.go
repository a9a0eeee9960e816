package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// LoginRequest is the body of the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the request shape before any store lookup.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.RuneLength(1, 256)),
	)
}

// Session is a freshly issued credential.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  Identity  `json:"identity"`
}

// Authenticator exchanges operator credentials for session tokens.
type Authenticator struct {
	admins AdminStore
	tokens *TokenService
}

func NewAuthenticator(admins AdminStore, tokens *TokenService) *Authenticator {
	return &Authenticator{admins: admins, tokens: tokens}
}

// Login verifies email and password. Unknown emails, disabled operators and
// wrong passwords all return ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, email, password string) (Session, error) {
	admin, err := a.admins.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		burnCompare(password)
		return Session{}, ErrInvalidCredentials
	case err != nil:
		return Session{}, fmt.Errorf("find admin: %w", err)
	}
	if err := VerifyPassword(admin.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if admin.Status != AdminStatusActive {
		return Session{}, ErrInvalidCredentials
	}
	id := admin.Identity()
	token, exp, err := a.tokens.Issue(id, 0)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, Identity: id}, nil
}

// Provision creates an operator with a bcrypt-hashed password.
func (a *Authenticator) Provision(ctx context.Context, email, password, role string) (*Admin, error) {
	if err := (LoginRequest{Email: email, Password: password}).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(role) == "" {
		role = DefaultRole
	}
	admin := &Admin{Email: email, PasswordHash: hash, Role: role, Status: AdminStatusActive}
	if err := a.admins.Create(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnCompare spends the same bcrypt work as a real comparison so unknown
// emails are not distinguishable by latency.
func burnCompare(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("custodia-timing-equaliser")
	})
	if dummyHash != "" {
		_ = VerifyPassword(dummyHash, password)
	}
}
