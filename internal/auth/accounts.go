package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"confhub.org/internal/ids"
	"confhub.org/internal/validate"
)

// NewAccount is the input for creating an account.
type NewAccount struct {
	Username   string `json:"username" validate:"notblank,min=3,max=64"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	Role       string `json:"role" validate:"required,oneof=admin supervisor user"`
	Department string `json:"department" validate:"max=128"`
}

// AccountPatch changes selected account attributes. Nil fields are left untouched.
type AccountPatch struct {
	Role       *string `json:"role" validate:"omitempty,oneof=admin supervisor user"`
	Status     *string `json:"status" validate:"omitempty,oneof=active inactive"`
	Department *string `json:"department" validate:"omitempty,max=128"`
	Password   *string `json:"password" validate:"omitempty,min=8,max=72"`
}

// AccountService implements administrative account management.
type AccountService struct {
	store AccountStore
	now   func() time.Time
}

// NewAccountService wires the account store.
func NewAccountService(store AccountStore) *AccountService {
	return &AccountService{store: store, now: time.Now}
}

// Create validates input, hashes the password and persists an active account.
func (s *AccountService) Create(ctx context.Context, in NewAccount) (Account, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := validate.Struct(ctx, in); err != nil {
		return Account{}, err
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return Account{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Account{}, fmt.Errorf("auth: hash password: %w", err)
	}
	now := s.now().UTC()
	return s.store.CreateAccount(ctx, Account{
		ID:           ids.New(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		Department:   strings.TrimSpace(in.Department),
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (s *AccountService) Get(ctx context.Context, id string) (Account, error) {
	return s.store.AccountByID(ctx, strings.TrimSpace(id))
}

func (s *AccountService) List(ctx context.Context) ([]Account, error) {
	return s.store.ListAccounts(ctx)
}

// Update applies patch to the account identified by id.
func (s *AccountService) Update(ctx context.Context, id string, patch AccountPatch) (Account, error) {
	if err := validate.Struct(ctx, patch); err != nil {
		return Account{}, err
	}
	acct, err := s.store.AccountByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return Account{}, err
	}
	if patch.Role != nil {
		role, err := ParseRole(*patch.Role)
		if err != nil {
			return Account{}, err
		}
		acct.Role = role
	}
	if patch.Status != nil {
		status, err := ParseStatus(*patch.Status)
		if err != nil {
			return Account{}, err
		}
		acct.Status = status
	}
	if patch.Department != nil {
		acct.Department = strings.TrimSpace(*patch.Department)
	}
	if patch.Password != nil {
		hash, err := HashPassword(*patch.Password)
		if err != nil {
			return Account{}, fmt.Errorf("auth: hash password: %w", err)
		}
		acct.PasswordHash = hash
	}
	acct.UpdatedAt = s.now().UTC()
	return s.store.UpdateAccount(ctx, acct)
}

// Ensure creates the account unless one with the same username or email
// already exists. The bool reports whether a new account was created.
func (s *AccountService) Ensure(ctx context.Context, in NewAccount) (Account, bool, error) {
	for _, login := range []string{in.Username, in.Email} {
		if login = strings.TrimSpace(login); login == "" {
			continue
		}
		acct, err := s.store.AccountByLogin(ctx, login)
		if err == nil {
			return acct, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Account{}, false, err
		}
	}
	acct, err := s.Create(ctx, in)
	if errors.Is(err, ErrConflict) {
		acct, err = s.store.AccountByLogin(ctx, strings.TrimSpace(in.Username))
		return acct, false, err
	}
	if err != nil {
		return Account{}, false, err
	}
	return acct, true, nil
}
