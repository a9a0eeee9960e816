package resource

import (
	"context"
	"sync"
	"time"

	"custodia.org/internal/ids"
	"custodia.org/internal/lifecycle"
)

type key struct {
	kind lifecycle.Kind
	id   string
}

// InMemory implements Repository with in-process concurrency safety.
type InMemory struct {
	mu   sync.RWMutex
	rows map[key]Resource
	now  func() time.Time
}

var _ Repository = (*InMemory)(nil)

// NewInMemory creates an empty repository.
func NewInMemory() *InMemory {
	return &InMemory{
		rows: make(map[key]Resource),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Get(ctx context.Context, kind lifecycle.Kind, id string) (Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[key{kind, id}]
	if !ok || r.Deleted() {
		return Resource{}, ErrNotFound
	}
	return clone(r), nil
}

// ConditionalUpdate is a compare-and-set on (live, status).
func (s *InMemory) ConditionalUpdate(ctx context.Context, kind lifecycle.Kind, id string, cond Condition, patch lifecycle.Patch) (Resource, error) {
	if err := ctx.Err(); err != nil {
		return Resource{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{kind, id}
	r, ok := s.rows[k]
	if !ok || r.Deleted() || r.Status != cond.Status {
		return Resource{}, ErrNotFound
	}
	r = ApplyPatch(r, patch)
	s.rows[k] = r
	return clone(r), nil
}

func (s *InMemory) Insert(ctx context.Context, r Resource) (Resource, error) {
	if r.ID == "" {
		r.ID = ids.New()
	}
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{r.Kind, r.ID}
	if _, exists := s.rows[k]; exists {
		return Resource{}, ErrConflict
	}
	s.rows[k] = clone(r)
	return clone(r), nil
}

func clone(r Resource) Resource {
	if r.DeclineReason != nil {
		v := *r.DeclineReason
		r.DeclineReason = &v
	}
	if r.LastActivity != nil {
		v := *r.LastActivity
		r.LastActivity = &v
	}
	if r.DeletedAt != nil {
		v := *r.DeletedAt
		r.DeletedAt = &v
	}
	return r
}
