package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleUser       Role = "user"
)

// ParseRole normalizes s and rejects anything outside the known roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleSupervisor, RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

// AccountStatus gates authentication.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
)

// ParseStatus normalizes s and rejects unknown statuses.
func ParseStatus(s string) (AccountStatus, error) {
	switch st := AccountStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusInactive:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
}

// Account is a persisted identity. Accounts are deactivated, never deleted.
type Account struct {
	ID           string        `json:"id"`
	Username     string        `json:"username"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	Role         Role          `json:"role"`
	Department   string        `json:"department,omitempty"`
	Status       AccountStatus `json:"status"`
	LastLoginAt  *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Active reports whether the account may hold a session.
func (a Account) Active() bool { return a.Status == StatusActive }

// Identity is the authenticated caller resolved from a bearer token.
type Identity struct {
	AccountID string
	Username  string
	Email     string
	Role      Role
	TokenID   string
	ExpiresAt time.Time
}

// Session is the result of a successful login or refresh.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Account   Account   `json:"user"`
}
