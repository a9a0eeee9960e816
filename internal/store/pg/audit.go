package pg

import (
	"context"
	"database/sql"

	"custodia.org/internal/audit"
)

// AuditStore persists audit records in the append-only audit_records table.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

func (s *AuditStore) Append(ctx context.Context, rec *audit.Record) error {
	return s.db.QueryRowContext(ctx, `
		insert into audit_records (id, actor_id, actor_email, actor_role, action,
			target_type, target_id, details, request_id, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		returning sequence`,
		rec.ID, rec.Actor.SubjectID, rec.Actor.Email, rec.Actor.Role, rec.Action,
		rec.TargetType, rec.TargetID, rec.Details, rec.RequestID, rec.OccurredAt,
	).Scan(&rec.Sequence)
}

func (s *AuditStore) List(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		select sequence, id, actor_id, actor_email, actor_role, action,
			target_type, target_id, details, request_id, occurred_at
		from audit_records
		where sequence > $1
			and ($2 = '' or target_type = $2)
			and ($3 = '' or target_id = $3)
		order by sequence asc
		limit $4`,
		f.AfterSequence, f.TargetType, f.TargetID, f.NormalizedLimit(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []audit.Record
	for rows.Next() {
		var r audit.Record
		if err := rows.Scan(&r.Sequence, &r.ID, &r.Actor.SubjectID, &r.Actor.Email, &r.Actor.Role,
			&r.Action, &r.TargetType, &r.TargetID, &r.Details, &r.RequestID, &r.OccurredAt); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}
