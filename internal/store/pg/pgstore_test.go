package pg

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"confhub.org/internal/auth"
	"confhub.org/internal/conference"
	"confhub.org/internal/registration"
)

var regColumns = []string{
	"registration_id", "registration_type", "conference_id", "status", "name", "email", "phone", "organization", "job_title",
	"payload", "submitted_by", "approver_id", "decided_at", "comments", "cancelled_by", "cancelled_at", "created_at", "updated_at",
}

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := New(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func teamRegistration() registration.Registration {
	return registration.Registration{
		ID:           "REG-A-AAAAAAAA",
		Type:         registration.TypeTeam,
		ConferenceID: "conf-1",
		Status:       registration.StatusPendingApproval,
		Applicant:    registration.Applicant{Name: "Sam Staff", Email: "sam@example.org"},
		Payload: registration.TeamPayload{
			StaffID:         "S-100",
			Department:      "Finance",
			SupervisorName:  "Pat Boss",
			SupervisorEmail: "pat@example.org",
			Justification:   "Budget planning track",
		},
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
}

func pendingRow(r registration.Registration) *sqlmock.Rows {
	payload, _ := registration.EncodePayload(r.Payload)
	return sqlmock.NewRows(regColumns).AddRow(
		r.ID, string(r.Type), r.ConferenceID, string(r.Status), r.Applicant.Name, r.Applicant.Email, "", "", "",
		payload, nil, nil, nil, "", nil, nil, r.CreatedAt, r.UpdatedAt)
}

func TestCreateWithinCapacity(t *testing.T) {
	s, mock := newMockStore(t)
	reg := teamRegistration()

	mock.ExpectBegin()
	mock.ExpectQuery("select status, capacity from conferences where id = \\$1 for update").
		WithArgs("conf-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "capacity"}).AddRow("published", 2))
	mock.ExpectQuery("select count\\(\\*\\) from registrations").
		WithArgs("conf-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("insert into registrations").WillReturnRows(pendingRow(reg))
	mock.ExpectCommit()

	created, err := s.CreateWithinCapacity(context.Background(), reg)
	if err != nil {
		t.Fatalf("CreateWithinCapacity: %v", err)
	}
	if created.ID != reg.ID || created.Status != registration.StatusPendingApproval {
		t.Fatalf("unexpected registration: %+v", created)
	}
	team, ok := created.Payload.(registration.TeamPayload)
	if !ok || team.SupervisorEmail != "pat@example.org" {
		t.Fatalf("payload not restored: %#v", created.Payload)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateWithinCapacityRejections(t *testing.T) {
	cases := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
		want  error
	}{
		{
			name: "missing conference",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("select status, capacity from conferences").WillReturnError(sql.ErrNoRows)
			},
			want: registration.ErrConferenceNotFound,
		},
		{
			name: "draft conference",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("select status, capacity from conferences").
					WillReturnRows(sqlmock.NewRows([]string{"status", "capacity"}).AddRow("draft", 2))
			},
			want: registration.ErrConferenceClosed,
		},
		{
			name: "full",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("select status, capacity from conferences").
					WillReturnRows(sqlmock.NewRows([]string{"status", "capacity"}).AddRow("published", 2))
				mock.ExpectQuery("select count\\(\\*\\) from registrations").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
			},
			want: registration.ErrConferenceFull,
		},
		{
			name: "id collision",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("select status, capacity from conferences").
					WillReturnRows(sqlmock.NewRows([]string{"status", "capacity"}).AddRow("published", 2))
				mock.ExpectQuery("select count\\(\\*\\) from registrations").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectQuery("insert into registrations").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
			},
			want: registration.ErrDuplicateRegistrationID,
		},
		{
			name: "conference removed before insert",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("select status, capacity from conferences").
					WillReturnRows(sqlmock.NewRows([]string{"status", "capacity"}).AddRow("published", 2))
				mock.ExpectQuery("select count\\(\\*\\) from registrations").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectQuery("insert into registrations").WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "registrations_conference_id_fkey"})
			},
			want: registration.ErrConferenceNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectBegin()
			tc.setup(mock)
			mock.ExpectRollback()

			_, err := s.CreateWithinCapacity(context.Background(), teamRegistration())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	s, mock := newMockStore(t)
	reg := teamRegistration()
	at := fixedNow.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("from registrations where registration_id = \\$1 for update").
		WithArgs(reg.ID).
		WillReturnRows(pendingRow(reg))
	mock.ExpectExec("update registrations").
		WithArgs(reg.ID, "approved", sqlmock.AnyArg(), sqlmock.AnyArg(), "ok", sqlmock.AnyArg(), sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.Transition(context.Background(), reg.ID, registration.StatusPendingApproval, registration.Change{
		To: registration.StatusApproved, ActorID: "acct-sup", Comments: "ok", At: at,
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Status != registration.StatusApproved || got.ApproverID != "acct-sup" || got.DecidedAt == nil {
		t.Fatalf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionFromWrongStatus(t *testing.T) {
	s, mock := newMockStore(t)
	reg := teamRegistration()
	reg.Status = registration.StatusApproved

	mock.ExpectBegin()
	mock.ExpectQuery("from registrations where registration_id = \\$1 for update").WillReturnRows(pendingRow(reg))
	mock.ExpectRollback()

	_, err := s.Transition(context.Background(), reg.ID, registration.StatusPendingApproval, registration.Change{To: registration.StatusApproved})
	if !errors.Is(err, registration.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("from registrations where registration_id = \\$1 for update").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	_, err = s.Transition(context.Background(), "missing", registration.StatusPendingApproval, registration.Change{To: registration.StatusApproved})
	if !errors.Is(err, registration.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListBuildsFilters(t *testing.T) {
	s, mock := newMockStore(t)
	reg := teamRegistration()

	mock.ExpectQuery("select count\\(\\*\\) from registrations where status = \\$1 and conference_id = \\$2").
		WithArgs("pending_approval", "conf-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery("order by created_at desc, registration_id desc limit \\$3 offset \\$4").
		WithArgs("pending_approval", "conf-1", 20, 20).
		WillReturnRows(pendingRow(reg))

	res, err := s.List(context.Background(),
		registration.Filter{Status: registration.StatusPendingApproval, ConferenceID: "conf-1"},
		registration.Page{Page: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 21 || len(res.Items) != 1 || res.PerPage != registration.DefaultPerPage {
		t.Fatalf("unexpected page: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateConferenceStatusStale(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "title", "description", "starts_at", "ends_at", "location", "capacity", "fee", "currency", "status", "created_at", "updated_at"}

	mock.ExpectQuery("update conferences set status").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("from conferences where id = \\$1").
		WithArgs("conf-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("conf-1", "Summit", "", fixedNow, fixedNow, "", 10, 0, "", "ongoing", fixedNow, fixedNow))

	_, err := s.UpdateConferenceStatus(context.Background(), "conf-1", conference.StatusPublished, conference.StatusCancelled, fixedNow)
	if !errors.Is(err, conference.ErrInvalidStatusChange) {
		t.Fatalf("expected ErrInvalidStatusChange, got %v", err)
	}
}

func TestCreateAccountConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into accounts").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.CreateAccount(context.Background(), auth.Account{ID: "a1", Username: "sam", Email: "sam@example.org", Role: auth.RoleUser, Status: auth.StatusActive})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAccountByLoginNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("where lower\\(username\\) = lower\\(\\$1\\) or lower\\(email\\) = lower\\(\\$1\\)").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.AccountByLogin(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevocations(t *testing.T) {
	s, mock := newMockStore(t)
	until := fixedNow.Add(time.Hour)

	mock.ExpectExec("insert into revoked_tokens").WithArgs("jti-1", until).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select exists").WithArgs("jti-1", fixedNow).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("delete from revoked_tokens").WithArgs(fixedNow).WillReturnResult(sqlmock.NewResult(0, 3))

	if err := s.Revoke(context.Background(), "jti-1", until); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err := s.IsRevoked(context.Background(), "jti-1")
	if err != nil || !revoked {
		t.Fatalf("IsRevoked = %v, %v", revoked, err)
	}
	n, err := s.PurgeRevocations(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("PurgeRevocations = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, name := range []string{"0001_init.up.sql", "0001_init.down.sql"} {
		if _, err := fs.Stat(Migrations(), name); err != nil {
			t.Fatalf("missing migration %s: %v", name, err)
		}
	}
	seeds, err := fs.ReadDir(Seeds(), ".")
	if err != nil || len(seeds) == 0 {
		t.Fatalf("expected seed files, got %v (%v)", seeds, err)
	}
}
