package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"confhub.org/internal/validate"
)

const testSecret = "0123456789abcdef-test-secret"

type stubAccountStore struct {
	mu        sync.Mutex
	accounts  map[string]Account
	touched   map[string]time.Time
	touchFail error
}

func newStubAccountStore() *stubAccountStore {
	return &stubAccountStore{accounts: map[string]Account{}, touched: map[string]time.Time{}}
}

func (s *stubAccountStore) CreateAccount(_ context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Username, a.Username) || strings.EqualFold(existing.Email, a.Email) {
			return Account{}, ErrConflict
		}
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *stubAccountStore) AccountByID(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *stubAccountStore) AccountByLogin(_ context.Context, identifier string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, identifier) || strings.EqualFold(a.Email, identifier) {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (s *stubAccountStore) ListAccounts(context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (s *stubAccountStore) UpdateAccount(_ context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return Account{}, ErrNotFound
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *stubAccountStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchFail != nil {
		return s.touchFail
	}
	s.touched[id] = at
	return nil
}

type failingRevocations struct{ err error }

func (f failingRevocations) Revoke(context.Context, string, time.Time) error { return f.err }
func (f failingRevocations) IsRevoked(context.Context, string) (bool, error) { return false, nil }

func seedAccount(t *testing.T, store *stubAccountStore, username, email, password string, role Role, status AccountStatus) Account {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	acct := Account{ID: "acct-" + username, Username: username, Email: email, PasswordHash: hash, Role: role, Status: status}
	if _, err := store.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return acct
}

func newTestService(t *testing.T, store AccountStore, opts ...ServiceOption) *Service {
	t.Helper()
	issuer, err := NewTokenIssuer(testSecret, "confhub-test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	svc, err := NewService(store, issuer, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestTokenIssueAndParse(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, "confhub-test", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, claims, err := issuer.Issue("acct-1", RoleSupervisor)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parsed, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Subject != "acct-1" || parsed.Role != RoleSupervisor {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
	if parsed.ID == "" || parsed.ID != claims.ID {
		t.Fatalf("jti mismatch: %q vs %q", parsed.ID, claims.ID)
	}
	if parsed.Issuer != "confhub-test" {
		t.Fatalf("unexpected issuer: %s", parsed.Issuer)
	}
}

func TestTokenParseRejections(t *testing.T) {
	now := time.Now()
	issuer, _ := NewTokenIssuer(testSecret, "confhub-test", time.Minute, WithTokenClock(func() time.Time { return now }))
	token, _, err := issuer.Issue("acct-1", RoleUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, _ := NewTokenIssuer("another-secret-value-123", "confhub-test", time.Minute)
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	wrongIssuer, _ := NewTokenIssuer(testSecret, "someone-else", time.Minute)
	if _, err := wrongIssuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}

	later, _ := NewTokenIssuer(testSecret, "confhub-test", time.Minute, WithTokenClock(func() time.Time { return now.Add(2 * time.Minute) }))
	if _, err := later.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	for _, bad := range []string{"", "not-a-token", token + "x"} {
		if _, err := issuer.Parse(bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", bad, err)
		}
	}
}

func TestNewTokenIssuerValidation(t *testing.T) {
	if _, err := NewTokenIssuer("short", "", time.Hour); err == nil {
		t.Fatalf("expected error for short secret")
	}
	if _, err := NewTokenIssuer(testSecret, "", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	store := newStubAccountStore()
	seedAccount(t, store, "alice", "alice@example.org", "correct-horse", RoleSupervisor, StatusActive)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, WithClock(func() time.Time { return fixed }))

	sess, err := svc.Authenticate(context.Background(), "ALICE@example.org", "correct-horse")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if sess.Token == "" {
		t.Fatalf("expected token")
	}
	if sess.Account.LastLoginAt == nil || !sess.Account.LastLoginAt.Equal(fixed) {
		t.Fatalf("last login not reported: %v", sess.Account.LastLoginAt)
	}
	if got := store.touched["acct-alice"]; !got.Equal(fixed) {
		t.Fatalf("last login not persisted: %v", got)
	}

	ident, err := svc.AuthenticateRequest(context.Background(), sess.Token)
	if err != nil {
		t.Fatalf("AuthenticateRequest: %v", err)
	}
	if ident.AccountID != "acct-alice" || ident.Role != RoleSupervisor || ident.Email != "alice@example.org" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestAuthenticateFailuresShareShape(t *testing.T) {
	store := newStubAccountStore()
	seedAccount(t, store, "bob", "bob@example.org", "bob-password", RoleUser, StatusActive)
	svc := newTestService(t, store)

	_, errUnknown := svc.Authenticate(context.Background(), "nobody", "bob-password")
	_, errWrong := svc.Authenticate(context.Background(), "bob", "wrong-password")
	_, errEmpty := svc.Authenticate(context.Background(), "", "")
	for _, err := range []error{errUnknown, errWrong, errEmpty} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("failure messages differ: %q vs %q", errUnknown, errWrong)
	}
	if len(store.touched) != 0 {
		t.Fatalf("last login must not change on failure: %v", store.touched)
	}
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	store := newStubAccountStore()
	seedAccount(t, store, "carol", "carol@example.org", "carol-password", RoleUser, StatusInactive)
	svc := newTestService(t, store)

	sess, err := svc.Authenticate(context.Background(), "carol", "carol-password")
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if sess.Token != "" {
		t.Fatalf("no token may be issued for inactive account")
	}
	if _, err := svc.Authenticate(context.Background(), "carol", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password on inactive account must stay ErrInvalidCredentials, got %v", err)
	}
}

func TestInvalidateRejectsToken(t *testing.T) {
	store := newStubAccountStore()
	seedAccount(t, store, "dave", "dave@example.org", "dave-password", RoleAdmin, StatusActive)
	svc := newTestService(t, store)

	sess, err := svc.Authenticate(context.Background(), "dave", "dave-password")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := svc.Invalidate(context.Background(), sess.Token); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), sess.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after invalidate, got %v", err)
	}
	if _, err := svc.Refresh(context.Background(), sess.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh of invalidated token to fail, got %v", err)
	}
}

func TestInvalidateSurfacesStoreFailure(t *testing.T) {
	store := newStubAccountStore()
	seedAccount(t, store, "erin", "erin@example.org", "erin-password", RoleUser, StatusActive)
	boom := errors.New("revocation backend down")
	svc := newTestService(t, store, WithRevocationStore(failingRevocations{err: boom}))

	sess, err := svc.Authenticate(context.Background(), "erin", "erin-password")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := svc.Invalidate(context.Background(), sess.Token); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	store := newStubAccountStore()
	seedAccount(t, store, "frank", "frank@example.org", "frank-password", RoleUser, StatusActive)
	svc := newTestService(t, store)

	sess, err := svc.Authenticate(context.Background(), "frank", "frank-password")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	next, err := svc.Refresh(context.Background(), sess.Token)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.Token == sess.Token {
		t.Fatalf("expected a new token")
	}
	if _, err := svc.AuthenticateRequest(context.Background(), next.Token); err != nil {
		t.Fatalf("new token rejected: %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), sess.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("old token must be revoked, got %v", err)
	}
}

func TestAuthenticateRequestTracksAccountChanges(t *testing.T) {
	store := newStubAccountStore()
	acct := seedAccount(t, store, "gina", "gina@example.org", "gina-password", RoleSupervisor, StatusActive)
	svc := newTestService(t, store)

	sess, err := svc.Authenticate(context.Background(), "gina", "gina-password")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	acct, _ = store.AccountByID(context.Background(), acct.ID)
	acct.Role = RoleUser
	_, _ = store.UpdateAccount(context.Background(), acct)
	ident, err := svc.AuthenticateRequest(context.Background(), sess.Token)
	if err != nil {
		t.Fatalf("AuthenticateRequest: %v", err)
	}
	if ident.Role != RoleUser {
		t.Fatalf("expected demoted role, got %s", ident.Role)
	}

	acct.Status = StatusInactive
	_, _ = store.UpdateAccount(context.Background(), acct)
	if _, err := svc.AuthenticateRequest(context.Background(), sess.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("deactivated account must not authenticate, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	cases := []struct {
		role    Role
		allowed []Role
		ok      bool
	}{
		{RoleUser, ReviewerRoles, false},
		{RoleSupervisor, ReviewerRoles, true},
		{RoleAdmin, ReviewerRoles, true},
		{RoleSupervisor, AdminRoles, false},
		{RoleAdmin, AdminRoles, true},
		{"", StaffRoles, false},
	}
	for _, tc := range cases {
		err := Authorize(Identity{AccountID: "x", Role: tc.role}, tc.allowed...)
		if tc.ok && err != nil {
			t.Fatalf("role %q should be allowed in %v: %v", tc.role, tc.allowed, err)
		}
		if !tc.ok && !errors.Is(err, ErrForbidden) {
			t.Fatalf("role %q should be forbidden in %v, got %v", tc.role, tc.allowed, err)
		}
	}
}

func TestAuthorizeRegistrant(t *testing.T) {
	user := Identity{AccountID: "u", Role: RoleUser, Email: "Ann@Example.org"}
	if err := AuthorizeRegistrant(user, "ann@example.org"); err != nil {
		t.Fatalf("registrant should be allowed: %v", err)
	}
	if err := AuthorizeRegistrant(user, "someone@example.org"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := AuthorizeRegistrant(Identity{Role: RoleAdmin}, "someone@example.org"); err != nil {
		t.Fatalf("admin should be allowed: %v", err)
	}
	if err := AuthorizeRegistrant(Identity{Role: RoleSupervisor, Email: "sup@example.org"}, "someone@example.org"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("supervisor may not cancel others: %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatalf("unexpected identity in empty context")
	}
	ctx = ContextWithIdentity(ctx, Identity{AccountID: "acct-7", Role: RoleAdmin})
	ctx = ContextWithToken(ctx, "tok")
	id, ok := AccountIDFromContext(ctx)
	if !ok || id != "acct-7" {
		t.Fatalf("unexpected account id: %s, ok=%v", id, ok)
	}
	if !HasRole(ctx, RoleAdmin) || HasRole(ctx, RoleUser) {
		t.Fatalf("HasRole mismatch")
	}
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token: %q", tok)
	}
}

func TestAccountServiceCreateAndUpdate(t *testing.T) {
	store := newStubAccountStore()
	svc := NewAccountService(store)

	_, err := svc.Create(context.Background(), NewAccount{Username: "x", Email: "bad", Password: "short", Role: "root"})
	ve, ok := validate.As(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"username", "email", "password", "role"} {
		if _, ok := ve.Fields[field]; !ok {
			t.Fatalf("expected field %q in %v", field, ve.Fields)
		}
	}

	acct, err := svc.Create(context.Background(), NewAccount{
		Username: "helen", Email: "Helen@Example.org", Password: "helen-password", Role: "Supervisor", Department: "Finance",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if acct.Email != "helen@example.org" || acct.Role != RoleSupervisor || acct.Status != StatusActive {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if _, err := svc.Create(context.Background(), NewAccount{
		Username: "helen2", Email: "helen@example.org", Password: "helen-password", Role: "user",
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	inactive := string(StatusInactive)
	admin := string(RoleAdmin)
	updated, err := svc.Update(context.Background(), acct.ID, AccountPatch{Status: &inactive, Role: &admin})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != StatusInactive || updated.Role != RoleAdmin || updated.Department != "Finance" {
		t.Fatalf("unexpected updated account: %+v", updated)
	}

	bogus := "superuser"
	if _, err := svc.Update(context.Background(), acct.ID, AccountPatch{Role: &bogus}); err == nil {
		t.Fatalf("expected validation failure for unknown role")
	}
	if _, err := svc.Update(context.Background(), "missing", AccountPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountServiceEnsure(t *testing.T) {
	store := newStubAccountStore()
	svc := NewAccountService(store)
	in := NewAccount{Username: "root", Email: "root@example.org", Password: "root-password", Role: "admin"}

	first, created, err := svc.Ensure(context.Background(), in)
	if err != nil || !created {
		t.Fatalf("first Ensure: created=%v err=%v", created, err)
	}
	if first.Role != RoleAdmin || first.Status != StatusActive {
		t.Fatalf("unexpected account: %+v", first)
	}

	in.Password = "another-password"
	again, created, err := svc.Ensure(context.Background(), in)
	if err != nil || created {
		t.Fatalf("second Ensure: created=%v err=%v", created, err)
	}
	if again.ID != first.ID || again.PasswordHash != first.PasswordHash {
		t.Fatalf("existing account must be left untouched: %+v", again)
	}
	if len(store.accounts) != 1 {
		t.Fatalf("expected one account, got %d", len(store.accounts))
	}
}
