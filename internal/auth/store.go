package auth

import (
	"context"
	"time"
)

// AccountStore describes persistence operations required by the auth subsystem.
type AccountStore interface {
	// CreateAccount fails with ErrConflict when username or email is taken.
	CreateAccount(ctx context.Context, a Account) (Account, error)
	AccountByID(ctx context.Context, id string) (Account, error)
	// AccountByLogin matches identifier against username or email, case-insensitively.
	AccountByLogin(ctx context.Context, identifier string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	UpdateAccount(ctx context.Context, a Account) (Account, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// RevocationStore remembers invalidated token ids until they would have expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
