package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"confhub.org/internal/auth"
)

const accountColumns = `id, username, email, password_hash, role, department, status, last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (auth.Account, error) {
	var (
		a         auth.Account
		lastLogin sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Role, &a.Department, &a.Status, &lastLogin, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return auth.Account{}, err
	}
	a.LastLoginAt = timePtr(lastLogin)
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a auth.Account) (auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into accounts (id, username, email, password_hash, role, department, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+accountColumns,
		a.ID, a.Username, a.Email, a.PasswordHash, string(a.Role), a.Department, string(a.Status), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	created, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.Account{}, auth.ErrConflict
		}
		return auth.Account{}, err
	}
	return created, nil
}

func (s *Store) AccountByID(ctx context.Context, id string) (auth.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return a, err
}

func (s *Store) AccountByLogin(ctx context.Context, identifier string) (auth.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where lower(username) = lower($1) or lower(email) = lower($1)
		limit 1
	`, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context) ([]auth.Account, error) {
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from accounts order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a auth.Account) (auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts
		set username = $2, email = $3, password_hash = $4, role = $5, department = $6, status = $7, updated_at = $8
		where id = $1
		returning `+accountColumns,
		a.ID, a.Username, a.Email, a.PasswordHash, string(a.Role), a.Department, string(a.Status), a.UpdatedAt.UTC())
	updated, err := scanAccount(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return auth.Account{}, auth.ErrNotFound
	case isUniqueViolation(err):
		return auth.Account{}, auth.ErrConflict
	case err != nil:
		return auth.Account{}, err
	}
	return updated, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update accounts set last_login_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// Revoke records tokenID until its natural expiry. Repeated calls keep the later expiry.
func (s *Store) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into revoked_tokens (token_id, expires_at)
		values ($1, $2)
		on conflict (token_id) do update
		set expires_at = greatest(revoked_tokens.expires_at, excluded.expires_at)
	`, tokenID, until.UTC())
	return err
}

func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from revoked_tokens where token_id = $1 and expires_at > $2)
	`, tokenID, s.now().UTC()).Scan(&revoked)
	return revoked, err
}

// PurgeRevocations drops entries whose tokens have expired.
func (s *Store) PurgeRevocations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from revoked_tokens where expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
