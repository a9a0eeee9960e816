// Package transition orchestrates one administrative status change: payload
// validation, a guarded read, the lifecycle decision, a single conditional
// write and the audit record.
package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/lifecycle"
	"custodia.org/internal/obs"
	"custodia.org/internal/resource"
)

const maxTextRunes = 500

// ErrRejected is matched when the lifecycle table refuses the transition.
var ErrRejected = lifecycle.ErrRejected

// ValidationError carries per-field payload problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// ValidatePayload enforces the operator input limits.
func ValidatePayload(p lifecycle.Payload) error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Reason, validation.RuneLength(0, maxTextRunes)),
		validation.Field(&p.Notes, validation.RuneLength(0, maxTextRunes)),
	)
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for k, v := range verrs {
			fields[k] = v.Error()
		}
		return &ValidationError{Fields: fields}
	}
	return err
}

// Service applies transitions against a repository.
type Service struct {
	repo  resource.Repository
	audit *audit.Logger
	now   func() time.Time
	log   *slog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func NewService(repo resource.Repository, auditLog *audit.Logger, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		audit: auditLog,
		now:   time.Now,
		log:   obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a live resource.
func (s *Service) Get(ctx context.Context, kind lifecycle.Kind, id string) (resource.Resource, error) {
	r, err := s.repo.Get(ctx, kind, id)
	if err != nil && !errors.Is(err, resource.ErrNotFound) {
		return resource.Resource{}, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return r, err
}

// Apply runs action against the resource. Errors:
//   - *ValidationError for a bad payload (nothing is read or written);
//   - resource.ErrNotFound when the resource is absent, soft-deleted or was
//     changed by a concurrent writer between read and write;
//   - ErrRejected when the table does not allow the action;
//   - anything else is a storage failure.
func (s *Service) Apply(ctx context.Context, actor auth.Identity, kind lifecycle.Kind, id string, action lifecycle.Action, p lifecycle.Payload) (resource.Resource, error) {
	if err := ValidatePayload(p); err != nil {
		s.observe(kind, action, "invalid")
		return resource.Resource{}, err
	}

	current, err := s.repo.Get(ctx, kind, id)
	if errors.Is(err, resource.ErrNotFound) {
		s.observe(kind, action, "not_found")
		return resource.Resource{}, err
	}
	if err != nil {
		s.observe(kind, action, "error")
		return resource.Resource{}, fmt.Errorf("load %s %s: %w", kind, id, err)
	}

	decision, err := lifecycle.Apply(kind, current.Status, action, p, s.now())
	if err != nil {
		s.observe(kind, action, "rejected")
		return resource.Resource{}, fmt.Errorf("%s %s: %w", action, id, err)
	}

	updated, err := s.repo.ConditionalUpdate(ctx, kind, id, resource.Condition{Status: decision.From}, decision.Patch)
	if errors.Is(err, resource.ErrNotFound) {
		s.log.InfoContext(ctx, "transition lost race",
			"kind", kind, "id", id, "action", action, "expected_status", decision.From)
		s.observe(kind, action, "stale")
		return resource.Resource{}, err
	}
	if err != nil {
		s.observe(kind, action, "error")
		return resource.Resource{}, fmt.Errorf("update %s %s: %w", kind, id, err)
	}

	s.audit.Record(ctx, audit.Record{
		Actor:      audit.ActorFrom(actor),
		Action:     string(action),
		TargetType: string(kind),
		TargetID:   id,
		Details:    details(p),
		OccurredAt: decision.Patch.At,
	})
	s.observe(kind, action, "applied")
	return updated, nil
}

func (s *Service) observe(kind lifecycle.Kind, action lifecycle.Action, outcome string) {
	obs.Transitions.WithLabelValues(string(kind), string(action), outcome).Inc()
}

func details(p lifecycle.Payload) string {
	var parts []string
	if reason := strings.TrimSpace(p.Reason); reason != "" {
		parts = append(parts, reason)
	}
	if notes := strings.TrimSpace(p.Notes); notes != "" {
		parts = append(parts, "notes: "+notes)
	}
	return strings.Join(parts, "; ")
}
