package conference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound            = errors.New("conference: not found")
	ErrInvalidStatusChange = errors.New("conference: invalid status change")
)

// Status is the conference lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var statusChanges = map[Status][]Status{
	StatusDraft:     {StatusPublished, StatusCancelled},
	StatusPublished: {StatusOngoing, StatusCancelled, StatusDraft},
	StatusOngoing:   {StatusCompleted, StatusCancelled},
}

// ParseStatus normalizes s and rejects unknown statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusDraft, StatusPublished, StatusOngoing, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("conference: unknown status %q", s)
	}
}

// CanChangeTo reports whether next is reachable from s in one step.
func (s Status) CanChangeTo(next Status) bool {
	for _, allowed := range statusChanges[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptsRegistrations is true only while the conference is published.
func (s Status) AcceptsRegistrations() bool { return s == StatusPublished }

type Conference struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Location    string    `json:"location,omitempty"`
	Capacity    int       `json:"capacity"`
	Fee         int64     `json:"fee"`
	Currency    string    `json:"currency,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Availability is capacity minus registrations in counted statuses.
type Availability struct {
	ConferenceID string `json:"conference_id"`
	Capacity     int    `json:"capacity"`
	Counted      int    `json:"counted"`
	Available    int    `json:"available"`
}

// NewAvailability clamps the available count at zero.
func NewAvailability(c Conference, counted int) Availability {
	avail := c.Capacity - counted
	if avail < 0 {
		avail = 0
	}
	return Availability{ConferenceID: c.ID, Capacity: c.Capacity, Counted: counted, Available: avail}
}

// Store persists conferences.
type Store interface {
	CreateConference(ctx context.Context, c Conference) (Conference, error)
	ConferenceByID(ctx context.Context, id string) (Conference, error)
	// ListConferences returns every conference when status is empty.
	ListConferences(ctx context.Context, status Status) ([]Conference, error)
	// UpdateConferenceStatus changes status only if it still equals from.
	UpdateConferenceStatus(ctx context.Context, id string, from, to Status, at time.Time) (Conference, error)
	// CountedRegistrations counts registrations that occupy a seat.
	CountedRegistrations(ctx context.Context, conferenceID string) (int, error)
}
