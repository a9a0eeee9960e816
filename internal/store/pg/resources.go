package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custodia.org/internal/ids"
	"custodia.org/internal/lifecycle"
	"custodia.org/internal/resource"
)

var _ resource.Repository = (*Store)(nil)

const resourceColumns = `id, status, display_name, email, decline_reason, last_activity,
	credential_hash, internal_notes, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner, kind lifecycle.Kind) (resource.Resource, error) {
	var (
		r            resource.Resource
		status       string
		reason       sql.NullString
		lastActivity sql.NullTime
		deletedAt    sql.NullTime
	)
	if err := row.Scan(&r.ID, &status, &r.DisplayName, &r.Email, &reason, &lastActivity,
		&r.CredentialHash, &r.InternalNotes, &r.CreatedAt, &r.UpdatedAt, &deletedAt); err != nil {
		return resource.Resource{}, err
	}
	r.Kind = kind
	r.Status = lifecycle.Status(status)
	if reason.Valid {
		v := reason.String
		r.DeclineReason = &v
	}
	if lastActivity.Valid {
		v := lastActivity.Time
		r.LastActivity = &v
	}
	if deletedAt.Valid {
		v := deletedAt.Time
		r.DeletedAt = &v
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, kind lifecycle.Kind, id string) (resource.Resource, error) {
	table, err := tableFor(kind)
	if err != nil {
		return resource.Resource{}, err
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`select %s from %s where id = $1 and deleted_at is null`, resourceColumns, table), id)
	r, err := scanResource(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return resource.Resource{}, resource.ErrNotFound
	}
	if err != nil {
		return resource.Resource{}, err
	}
	return r, nil
}

// ConditionalUpdate issues a single guarded UPDATE; the WHERE clause is the
// only concurrency control.
func (s *Store) ConditionalUpdate(ctx context.Context, kind lifecycle.Kind, id string, cond resource.Condition, patch lifecycle.Patch) (resource.Resource, error) {
	table, err := tableFor(kind)
	if err != nil {
		return resource.Resource{}, err
	}
	var reason sql.NullString
	if patch.Reason != nil {
		reason = sql.NullString{String: *patch.Reason, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		update %s set
			status = $3,
			decline_reason = case
				when $4::boolean then $5
				when $6::boolean then null
				else decline_reason
			end,
			updated_at = $7,
			last_activity = $7,
			deleted_at = case when $8::boolean then $7 else deleted_at end
		where id = $1 and deleted_at is null and status = $2
		returning %s`, table, resourceColumns),
		id, string(cond.Status), string(patch.Status),
		patch.Reason != nil, reason, patch.ClearReason,
		patch.At, patch.SoftDelete,
	)
	r, err := scanResource(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return resource.Resource{}, resource.ErrNotFound
	}
	if err != nil {
		return resource.Resource{}, err
	}
	return r, nil
}

func (s *Store) Insert(ctx context.Context, in resource.Resource) (resource.Resource, error) {
	table, err := tableFor(in.Kind)
	if err != nil {
		return resource.Resource{}, err
	}
	if in.ID == "" {
		in.ID = ids.New()
	}
	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = in.CreatedAt
	}
	var reason sql.NullString
	if in.DeclineReason != nil {
		reason = nullIfEmpty(*in.DeclineReason)
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		insert into %s (id, status, display_name, email, decline_reason, last_activity,
			credential_hash, internal_notes, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		returning %s`, table, resourceColumns),
		in.ID, string(in.Status), in.DisplayName, in.Email, reason, in.LastActivity,
		in.CredentialHash, in.InternalNotes, in.CreatedAt, in.UpdatedAt,
	)
	r, err := scanResource(row, in.Kind)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return resource.Resource{}, resource.ErrConflict
			case pgErrCheckViolation:
				return resource.Resource{}, fmt.Errorf("invalid %s status %q: %w", in.Kind, in.Status, err)
			}
		}
		return resource.Resource{}, err
	}
	return r, nil
}
