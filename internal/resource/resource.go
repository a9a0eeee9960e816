// Package resource describes the accounts and merchants administered by the
// back office and the repository contract used to read and mutate them.
package resource

import (
	"context"
	"errors"
	"time"

	"custodia.org/internal/lifecycle"
)

var (
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("resource already exists")
)

// Resource is the persisted shape of an account or merchant. It is never
// written to clients directly; use View.
type Resource struct {
	ID            string
	Kind          lifecycle.Kind
	Status        lifecycle.Status
	DisplayName   string
	Email         string
	DeclineReason *string
	LastActivity  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time

	// Sensitive. Kept on the struct so storage round-trips are lossless.
	CredentialHash string
	InternalNotes  string
}

// Deleted reports whether the resource carries a deletion marker.
func (r Resource) Deleted() bool { return r.DeletedAt != nil }

// Condition guards a conditional update. The update only happens when the
// stored row is live and still carries Status.
type Condition struct {
	Status lifecycle.Status
}

// Repository is the storage contract used by the transition service.
//
// Get and ConditionalUpdate treat soft-deleted rows as absent and report
// ErrNotFound for them. ConditionalUpdate returns ErrNotFound when zero rows
// matched, which covers a concurrent writer changing the status first.
type Repository interface {
	Get(ctx context.Context, kind lifecycle.Kind, id string) (Resource, error)
	ConditionalUpdate(ctx context.Context, kind lifecycle.Kind, id string, cond Condition, patch lifecycle.Patch) (Resource, error)
	Insert(ctx context.Context, r Resource) (Resource, error)
}

// View is the outbound representation of a resource.
type View struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	DisplayName   string     `json:"display_name"`
	Email         string     `json:"email,omitempty"`
	DeclineReason string     `json:"decline_reason,omitempty"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ToView copies the allow-listed fields of r.
func ToView(r Resource) View {
	v := View{
		ID:           r.ID,
		Kind:         string(r.Kind),
		Status:       string(r.Status),
		DisplayName:  r.DisplayName,
		Email:        r.Email,
		LastActivity: r.LastActivity,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.DeclineReason != nil {
		v.DeclineReason = *r.DeclineReason
	}
	return v
}

// ApplyPatch returns a copy of r with patch applied.
func ApplyPatch(r Resource, patch lifecycle.Patch) Resource {
	r.Status = patch.Status
	switch {
	case patch.Reason != nil:
		reason := *patch.Reason
		r.DeclineReason = &reason
	case patch.ClearReason:
		r.DeclineReason = nil
	}
	r.UpdatedAt = patch.At
	activity := patch.At
	r.LastActivity = &activity
	if patch.SoftDelete {
		at := patch.At
		r.DeletedAt = &at
	}
	return r
}
