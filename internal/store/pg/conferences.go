package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"confhub.org/internal/conference"
	"confhub.org/internal/registration"
)

const conferenceColumns = `id, title, description, starts_at, ends_at, location, capacity, fee, currency, status, created_at, updated_at`

func scanConference(row rowScanner) (conference.Conference, error) {
	var c conference.Conference
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.StartsAt, &c.EndsAt, &c.Location,
		&c.Capacity, &c.Fee, &c.Currency, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) CreateConference(ctx context.Context, c conference.Conference) (conference.Conference, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into conferences (id, title, description, starts_at, ends_at, location, capacity, fee, currency, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		returning `+conferenceColumns,
		c.ID, c.Title, c.Description, c.StartsAt.UTC(), c.EndsAt.UTC(), c.Location,
		c.Capacity, c.Fee, c.Currency, string(c.Status), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	created, err := scanConference(row)
	if err != nil {
		if isUniqueViolation(err) {
			return conference.Conference{}, fmt.Errorf("conference %s already exists", c.ID)
		}
		return conference.Conference{}, err
	}
	return created, nil
}

func (s *Store) ConferenceByID(ctx context.Context, id string) (conference.Conference, error) {
	c, err := scanConference(s.db.QueryRowContext(ctx, `select `+conferenceColumns+` from conferences where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return conference.Conference{}, conference.ErrNotFound
	}
	return c, err
}

func (s *Store) ListConferences(ctx context.Context, status conference.Status) ([]conference.Conference, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+conferenceColumns+`
		from conferences
		where $1 = '' or status = $1
		order by starts_at, id
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []conference.Conference{}
	for rows.Next() {
		c, err := scanConference(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateConferenceStatus(ctx context.Context, id string, from, to conference.Status, at time.Time) (conference.Conference, error) {
	c, err := scanConference(s.db.QueryRowContext(ctx, `
		update conferences set status = $3, updated_at = $4
		where id = $1 and status = $2
		returning `+conferenceColumns,
		id, string(from), string(to), at.UTC()))
	if !errors.Is(err, sql.ErrNoRows) {
		return c, err
	}
	current, err := s.ConferenceByID(ctx, id)
	if err != nil {
		return conference.Conference{}, err
	}
	return conference.Conference{}, fmt.Errorf("%w: status is %s", conference.ErrInvalidStatusChange, current.Status)
}

func (s *Store) CountedRegistrations(ctx context.Context, conferenceID string) (int, error) {
	return countCounted(ctx, s.db, conferenceID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countCounted(ctx context.Context, q queryer, conferenceID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		select count(*) from registrations
		where conference_id = $1 and status in (`+countedStatusList+`)
	`, conferenceID).Scan(&n)
	return n, err
}

var countedStatusList = func() string {
	var list string
	for i, st := range registration.CountedStatuses() {
		if i > 0 {
			list += ", "
		}
		list += "'" + string(st) + "'"
	}
	return list
}()
