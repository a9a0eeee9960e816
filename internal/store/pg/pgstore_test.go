package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/lifecycle"
	"custodia.org/internal/resource"
)

var resourceCols = []string{
	"id", "status", "display_name", "email", "decline_reason", "last_activity",
	"credential_hash", "internal_notes", "created_at", "updated_at", "deleted_at",
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestGetExcludesDeletedRows(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`select .* from accounts where id = \$1 and deleted_at is null`).
		WithArgs("A1").
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow("A1", "Active", "Alice", "alice@example.com", nil, nil, "hash", "note", created, created, nil))

	r, err := s.Get(context.Background(), lifecycle.KindAccount, "A1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Kind != lifecycle.KindAccount || r.Status != lifecycle.AccountActive {
		t.Fatalf("unexpected resource: %+v", r)
	}
	if r.DeclineReason != nil || r.DeletedAt != nil {
		t.Fatalf("expected nil reason and deleted_at: %+v", r)
	}

	mock.ExpectQuery(`select .* from merchants where id = \$1 and deleted_at is null`).
		WithArgs("M404").
		WillReturnError(sql.ErrNoRows)
	if _, err := s.Get(context.Background(), lifecycle.KindMerchant, "M404"); !errors.Is(err, resource.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUnknownKind(t *testing.T) {
	s, _ := newMock(t)
	if _, err := s.Get(context.Background(), lifecycle.Kind("widgets"), "W1"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestConditionalUpdateGuardsOnStatus(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	reason := "fraud"
	patch := lifecycle.Patch{Status: lifecycle.AccountSuspended, Reason: &reason, At: at}

	mock.ExpectQuery(`update accounts set .* updated_at = \$7,\s+last_activity = \$7,.* where id = \$1 and deleted_at is null and status = \$2\s+returning`).
		WithArgs("A1", "Active", "Suspended", true, "fraud", false, at, false).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow("A1", "Suspended", "Alice", "alice@example.com", "fraud", at, "", "", at, at, nil))

	r, err := s.ConditionalUpdate(context.Background(), lifecycle.KindAccount, "A1",
		resource.Condition{Status: lifecycle.AccountActive}, patch)
	if err != nil {
		t.Fatalf("ConditionalUpdate: %v", err)
	}
	if r.Status != lifecycle.AccountSuspended || r.DeclineReason == nil || *r.DeclineReason != "fraud" {
		t.Fatalf("unexpected resource: %+v", r)
	}
	if r.LastActivity == nil || !r.LastActivity.Equal(at) {
		t.Fatalf("expected last activity %v, got %v", at, r.LastActivity)
	}
}

func TestConditionalUpdateNoRowsIsNotFound(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`update merchants set`).
		WithArgs("M1", "pending", "active", false, nil, true, at, false).
		WillReturnError(sql.ErrNoRows)

	_, err := s.ConditionalUpdate(context.Background(), lifecycle.KindMerchant, "M1",
		resource.Condition{Status: lifecycle.MerchantPending},
		lifecycle.Patch{Status: lifecycle.MerchantActive, ClearReason: true, At: at})
	if !errors.Is(err, resource.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConditionalUpdateSoftDelete(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	reason := "kyc"

	mock.ExpectQuery(`deleted_at = case when \$8::boolean then \$7 else deleted_at end`).
		WithArgs("A2", "Pending", "Inactive", true, "kyc", false, at, true).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow("A2", "Inactive", "", "", "kyc", nil, "", "", at, at, at))

	r, err := s.ConditionalUpdate(context.Background(), lifecycle.KindAccount, "A2",
		resource.Condition{Status: lifecycle.AccountPending},
		lifecycle.Patch{Status: lifecycle.AccountInactive, Reason: &reason, SoftDelete: true, At: at})
	if err != nil {
		t.Fatalf("ConditionalUpdate: %v", err)
	}
	if !r.Deleted() {
		t.Fatalf("expected soft-deleted row, got %+v", r)
	}
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`insert into merchants`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.Insert(context.Background(), resource.Resource{
		ID: "M1", Kind: lifecycle.KindMerchant, Status: lifecycle.MerchantPending,
	})
	if !errors.Is(err, resource.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestInsertReturnsRow(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`insert into accounts`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow("A9", "Pending", "Zed", "zed@example.com", nil, nil, "", "", now, now, nil))

	r, err := s.Insert(context.Background(), resource.Resource{
		ID: "A9", Kind: lifecycle.KindAccount, Status: lifecycle.AccountPending, DisplayName: "Zed",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if r.ID != "A9" || r.Kind != lifecycle.KindAccount {
		t.Fatalf("unexpected resource: %+v", r)
	}
}

func TestAuditAppendAssignsSequence(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := &audit.Record{
		ID:         "R1",
		Actor:      audit.Actor{SubjectID: "op-1", Email: "ops@example.com", Role: "admin"},
		Action:     "account.suspend",
		TargetType: "account",
		TargetID:   "A1",
		Details:    "fraud",
		RequestID:  "req-1",
		OccurredAt: at,
	}

	mock.ExpectQuery(`insert into audit_records .* returning sequence`).
		WithArgs("R1", "op-1", "ops@example.com", "admin", "account.suspend", "account", "A1", "fraud", "req-1", at).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(7)))

	if err := s.Audit().Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.Sequence != 7 {
		t.Fatalf("expected sequence 7, got %d", rec.Sequence)
	}
}

func TestAuditListOrdersAndFilters(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"sequence", "id", "actor_id", "actor_email", "actor_role", "action",
		"target_type", "target_id", "details", "request_id", "occurred_at"}

	mock.ExpectQuery(`from audit_records .* order by sequence asc`).
		WithArgs(int64(0), "merchant", "", 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "R1", "op", "o@x", "admin", "merchant.approve", "merchant", "M1", "", "r1", at).
			AddRow(int64(2), "R2", "op", "o@x", "admin", "merchant.suspend", "merchant", "M1", "late fees", "r2", at.Add(time.Second)))

	recs, err := s.Audit().List(context.Background(), audit.Filter{TargetType: "merchant"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].Sequence != 1 || recs[1].Details != "late fees" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if recs[0].Actor.Email != "o@x" {
		t.Fatalf("actor not scanned: %+v", recs[0].Actor)
	}
}

func TestAdminCreateAndFind(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	admins := s.Admins()

	mock.ExpectQuery(`insert into administrators`).
		WithArgs(sqlmock.AnyArg(), "ops@example.com", "hash", "admin", "active").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	a := &auth.Admin{Email: "  OPS@example.com ", PasswordHash: "hash"}
	if err := admins.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" || a.Email != "ops@example.com" || a.Role != auth.DefaultRole {
		t.Fatalf("unexpected admin: %+v", a)
	}

	mock.ExpectQuery(`insert into administrators`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	if err := admins.Create(context.Background(), &auth.Admin{Email: "ops@example.com", PasswordHash: "hash"}); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	cols := []string{"id", "email", "password_hash", "role", "status", "created_at", "updated_at"}
	mock.ExpectQuery(`from administrators where email = \$1`).
		WithArgs("ops@example.com").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(a.ID, "ops@example.com", "hash", "admin", "active", now, now))
	found, err := admins.FindByEmail(context.Background(), "Ops@Example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if found.ID != a.ID {
		t.Fatalf("expected %s, got %s", a.ID, found.ID)
	}

	mock.ExpectQuery(`from administrators where id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	if _, err := admins.Find(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdminCreateRejectsBlankInput(t *testing.T) {
	s, _ := newMock(t)
	if err := s.Admins().Create(context.Background(), &auth.Admin{Email: " "}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
