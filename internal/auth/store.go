package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"custodia.org/internal/ids"
)

// AdminStore persists back-office operators.
type AdminStore interface {
	Create(ctx context.Context, a *Admin) error
	FindByEmail(ctx context.Context, email string) (*Admin, error)
	Find(ctx context.Context, id string) (*Admin, error)
}

// MemoryAdminStore implements AdminStore for development and tests.
type MemoryAdminStore struct {
	mu      sync.RWMutex
	byID    map[string]*Admin
	byEmail map[string]string
}

var _ AdminStore = (*MemoryAdminStore)(nil)

func NewMemoryAdminStore() *MemoryAdminStore {
	return &MemoryAdminStore{
		byID:    make(map[string]*Admin),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryAdminStore) Create(ctx context.Context, a *Admin) error {
	email := normalizeEmail(a.Email)
	if email == "" || a.PasswordHash == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return ErrAlreadyExists
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.Status == "" {
		a.Status = AdminStatusActive
	}
	now := time.Now().UTC()
	a.Email = email
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	s.byID[a.ID] = &cp
	s.byEmail[email] = a.ID
	return nil
}

func (s *MemoryAdminStore) FindByEmail(ctx context.Context, email string) (*Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryAdminStore) Find(ctx context.Context, id string) (*Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
