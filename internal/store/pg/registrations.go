package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"confhub.org/internal/conference"
	"confhub.org/internal/registration"
)

const registrationColumns = `registration_id, registration_type, conference_id, status, name, email, phone, organization, job_title,
	payload, submitted_by, approver_id, decided_at, comments, cancelled_by, cancelled_at, created_at, updated_at`

func scanRegistration(row rowScanner) (registration.Registration, error) {
	var (
		r           registration.Registration
		payload     []byte
		submittedBy sql.NullString
		approverID  sql.NullString
		cancelledBy sql.NullString
		decidedAt   sql.NullTime
		cancelledAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Type, &r.ConferenceID, &r.Status,
		&r.Applicant.Name, &r.Applicant.Email, &r.Applicant.Phone, &r.Applicant.Organization, &r.Applicant.JobTitle,
		&payload, &submittedBy, &approverID, &decidedAt, &r.Comments, &cancelledBy, &cancelledAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return registration.Registration{}, err
	}
	r.SubmittedBy = submittedBy.String
	r.ApproverID = approverID.String
	r.CancelledBy = cancelledBy.String
	r.DecidedAt = timePtr(decidedAt)
	r.CancelledAt = timePtr(cancelledAt)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.Payload, err = registration.DecodePayload(r.Type, payload)
	if err != nil {
		return registration.Registration{}, fmt.Errorf("decode payload for %s: %w", r.ID, err)
	}
	return r, nil
}

// CreateWithinCapacity locks the conference row so that concurrent
// submissions for the same conference serialize on the capacity check.
func (s *Store) CreateWithinCapacity(ctx context.Context, r registration.Registration) (registration.Registration, error) {
	payload, err := registration.EncodePayload(r.Payload)
	if err != nil {
		return registration.Registration{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registration.Registration{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status   conference.Status
		capacity int
	)
	err = tx.QueryRowContext(ctx, `select status, capacity from conferences where id = $1 for update`, r.ConferenceID).Scan(&status, &capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return registration.Registration{}, registration.ErrConferenceNotFound
	}
	if err != nil {
		return registration.Registration{}, err
	}
	if !status.AcceptsRegistrations() {
		return registration.Registration{}, registration.ErrConferenceClosed
	}
	counted, err := countCounted(ctx, tx, r.ConferenceID)
	if err != nil {
		return registration.Registration{}, err
	}
	if counted >= capacity {
		return registration.Registration{}, registration.ErrConferenceFull
	}

	created, err := scanRegistration(tx.QueryRowContext(ctx, `
		insert into registrations (registration_id, registration_type, conference_id, status, name, email, phone, organization, job_title,
			payload, submitted_by, approver_id, decided_at, comments, cancelled_by, cancelled_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		returning `+registrationColumns,
		r.ID, string(r.Type), r.ConferenceID, string(r.Status),
		r.Applicant.Name, r.Applicant.Email, r.Applicant.Phone, r.Applicant.Organization, r.Applicant.JobTitle,
		payload, nullIfEmpty(r.SubmittedBy), nullIfEmpty(r.ApproverID), nullTime(r.DecidedAt), r.Comments,
		nullIfEmpty(r.CancelledBy), nullTime(r.CancelledAt), r.CreatedAt.UTC(), r.UpdatedAt.UTC()))
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return registration.Registration{}, registration.ErrDuplicateRegistrationID
		case isForeignKeyViolation(err):
			// conference_id is the only foreign key on registrations
			return registration.Registration{}, registration.ErrConferenceNotFound
		}
		return registration.Registration{}, err
	}
	if err := tx.Commit(); err != nil {
		return registration.Registration{}, err
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, id string) (registration.Registration, error) {
	r, err := scanRegistration(s.db.QueryRowContext(ctx, `select `+registrationColumns+` from registrations where registration_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return registration.Registration{}, registration.ErrNotFound
	}
	return r, err
}

// List returns matches newest first.
func (s *Store) List(ctx context.Context, f registration.Filter, p registration.Page) (registration.ListResult, error) {
	p = p.Normalize()
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.ConferenceID != "" {
		add("conference_id = $%d", f.ConferenceID)
	}
	if f.Type != "" {
		add("registration_type = $%d", string(f.Type))
	}
	if f.ApplicantEmail != "" {
		add("lower(email) = lower($%d)", f.ApplicantEmail)
	}
	cond := ""
	if len(where) > 0 {
		cond = " where " + strings.Join(where, " and ")
	}

	res := registration.ListResult{Page: p.Page, PerPage: p.PerPage, Items: []registration.Registration{}}
	if err := s.db.QueryRowContext(ctx, `select count(*) from registrations`+cond, args...).Scan(&res.Total); err != nil {
		return registration.ListResult{}, err
	}

	args = append(args, p.PerPage, p.Offset())
	query := fmt.Sprintf(`select %s from registrations%s order by created_at desc, registration_id desc limit $%d offset $%d`,
		registrationColumns, cond, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return registration.ListResult{}, err
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return registration.ListResult{}, err
		}
		res.Items = append(res.Items, r)
	}
	if err := rows.Err(); err != nil {
		return registration.ListResult{}, err
	}
	return res, nil
}

// Transition locks the row, checks that it is still in from and writes the change.
func (s *Store) Transition(ctx context.Context, id string, from registration.Status, c registration.Change) (registration.Registration, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registration.Registration{}, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanRegistration(tx.QueryRowContext(ctx,
		`select `+registrationColumns+` from registrations where registration_id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return registration.Registration{}, registration.ErrNotFound
	}
	if err != nil {
		return registration.Registration{}, err
	}
	if current.Status != from || !registration.CanTransition(from, c.To) {
		return registration.Registration{}, fmt.Errorf("%w: registration %s is %s", registration.ErrInvalidStateTransition, id, current.Status)
	}

	next := current.Apply(c)
	if _, err := tx.ExecContext(ctx, `
		update registrations
		set status = $2, approver_id = $3, decided_at = $4, comments = $5, cancelled_by = $6, cancelled_at = $7, updated_at = $8
		where registration_id = $1
	`, id, string(next.Status), nullIfEmpty(next.ApproverID), nullTime(next.DecidedAt), next.Comments,
		nullIfEmpty(next.CancelledBy), nullTime(next.CancelledAt), next.UpdatedAt); err != nil {
		return registration.Registration{}, err
	}
	if err := tx.Commit(); err != nil {
		return registration.Registration{}, err
	}
	return next, nil
}

func (s *Store) CountByStatus(ctx context.Context, conferenceID string) (map[registration.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		select status, count(*) from registrations
		where conference_id = $1
		group by status
	`, conferenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[registration.Status]int)
	for rows.Next() {
		var (
			st registration.Status
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
