package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"custodia.org/internal/auth"
	"custodia.org/internal/ids"
)

// AdminStore persists back-office operators.
type AdminStore struct {
	db *sql.DB
}

var _ auth.AdminStore = (*AdminStore)(nil)

const adminColumns = `id, email, password_hash, role, status, created_at, updated_at`

func scanAdmin(row rowScanner) (*auth.Admin, error) {
	var a auth.Admin
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *AdminStore) Create(ctx context.Context, a *auth.Admin) error {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if email == "" || a.PasswordHash == "" {
		return auth.ErrInvalidInput
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.Role == "" {
		a.Role = auth.DefaultRole
	}
	if a.Status == "" {
		a.Status = auth.AdminStatusActive
	}
	a.Email = email
	err := s.db.QueryRowContext(ctx, `
		insert into administrators (id, email, password_hash, role, status)
		values ($1,$2,$3,$4,$5)
		returning created_at, updated_at`,
		a.ID, a.Email, a.PasswordHash, a.Role, a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *AdminStore) FindByEmail(ctx context.Context, email string) (*auth.Admin, error) {
	return scanAdmin(s.db.QueryRowContext(ctx,
		`select `+adminColumns+` from administrators where email = $1`,
		strings.ToLower(strings.TrimSpace(email))))
}

func (s *AdminStore) Find(ctx context.Context, id string) (*auth.Admin, error) {
	return scanAdmin(s.db.QueryRowContext(ctx,
		`select `+adminColumns+` from administrators where id = $1`, id))
}
