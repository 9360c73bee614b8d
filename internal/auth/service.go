package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service authenticates credentials and bearer tokens.
type Service struct {
	accounts AccountStore
	tokens   *TokenIssuer
	revoked  RevocationStore
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRevocationStore replaces the default in-memory block list.
func WithRevocationStore(store RevocationStore) ServiceOption {
	return func(s *Service) error {
		if store == nil {
			return errors.New("auth: revocation store is nil")
		}
		s.revoked = store
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(accounts AccountStore, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if accounts == nil {
		return nil, errors.New("auth: account store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		accounts: accounts,
		tokens:   tokens,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.revoked == nil {
		svc.revoked = NewMemoryRevocations()
	}
	return svc, nil
}

// Authenticate checks identifier (username or email) and password and issues a session.
// Unknown identifiers and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		burnPasswordCheck(password)
		return Session{}, ErrInvalidCredentials
	}
	acct, err := s.accounts.AccountByLogin(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		burnPasswordCheck(password)
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("auth: lookup account: %w", err)
	}
	if VerifyPassword(acct.PasswordHash, password) != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !acct.Active() {
		return Session{}, ErrAccountInactive
	}

	token, claims, err := s.tokens.Issue(acct.ID, acct.Role)
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	if err := s.accounts.TouchLastLogin(ctx, acct.ID, now); err != nil {
		return Session{}, fmt.Errorf("auth: record login: %w", err)
	}
	acct.LastLoginAt = &now
	return Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, Account: acct}, nil
}

// AuthenticateRequest resolves a bearer token into the caller identity. The
// account is reloaded so deactivation and role changes apply immediately.
func (s *Service) AuthenticateRequest(ctx context.Context, token string) (Identity, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Identity{}, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: check revocation: %w", err)
	}
	if revoked {
		return Identity{}, ErrInvalidToken
	}
	acct, err := s.accounts.AccountByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrInvalidToken
	}
	if err != nil {
		return Identity{}, fmt.Errorf("auth: load account: %w", err)
	}
	if !acct.Active() {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		AccountID: acct.ID,
		Username:  acct.Username,
		Email:     acct.Email,
		Role:      acct.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh exchanges a valid token for a new one and revokes the old token.
func (s *Service) Refresh(ctx context.Context, token string) (Session, error) {
	ident, err := s.AuthenticateRequest(ctx, token)
	if err != nil {
		return Session{}, err
	}
	acct, err := s.accounts.AccountByID(ctx, ident.AccountID)
	if err != nil {
		return Session{}, fmt.Errorf("auth: load account: %w", err)
	}
	next, claims, err := s.tokens.Issue(acct.ID, acct.Role)
	if err != nil {
		return Session{}, err
	}
	if err := s.revoked.Revoke(ctx, ident.TokenID, ident.ExpiresAt); err != nil {
		return Session{}, fmt.Errorf("auth: revoke previous token: %w", err)
	}
	return Session{Token: next, ExpiresAt: claims.ExpiresAt.Time, Account: acct}, nil
}

// Invalidate blocks token until it expires. Store failures are returned to the caller.
func (s *Service) Invalidate(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return err
	}
	if err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}
