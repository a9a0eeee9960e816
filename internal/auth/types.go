package auth

import "time"

// DefaultRole is assumed when a verified token carries no role claim.
const DefaultRole = "admin"

// Identity is the authenticated caller attached to a request.
type Identity struct {
	SubjectID string `json:"subject_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// Admin status values.
const (
	AdminStatusActive   = "active"
	AdminStatusDisabled = "disabled"
)

// Admin is a back-office operator able to log in.
type Admin struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity returns the request identity for a.
func (a Admin) Identity() Identity {
	role := a.Role
	if role == "" {
		role = DefaultRole
	}
	return Identity{SubjectID: a.ID, Email: a.Email, Role: role}
}
