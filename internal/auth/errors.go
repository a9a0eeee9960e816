package auth

import "errors"

var (
	// ErrInvalidToken covers every verification failure. Callers must not
	// distinguish an expired token from a forged one.
	ErrInvalidToken = errors.New("invalid token")

	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrWeakKey            = errors.New("auth: signing key must be at least 32 bytes")
)
