package registration

import (
	"context"
	"strings"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Status         Status
	ConferenceID   string
	Type           Type
	ApplicantEmail string
}

// Page selects a window of a listing, 1-based.
type Page struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Normalize applies defaults and caps PerPage at MaxPerPage.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int { return (p.Page - 1) * p.PerPage }

// Matches reports whether r satisfies f.
func (f Filter) Matches(r Registration) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.ConferenceID != "" && r.ConferenceID != f.ConferenceID {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.ApplicantEmail != "" && !strings.EqualFold(r.Applicant.Email, f.ApplicantEmail) {
		return false
	}
	return true
}

type ListResult struct {
	Items   []Registration `json:"items"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

// Store persists registrations. Only the workflow writes through it.
type Store interface {
	// CreateWithinCapacity inserts r if its conference exists, accepts
	// registrations and has a free seat, atomically with respect to other
	// submissions. It fails with ErrConferenceNotFound, ErrConferenceClosed,
	// ErrConferenceFull or ErrDuplicateRegistrationID.
	CreateWithinCapacity(ctx context.Context, r Registration) (Registration, error)
	Get(ctx context.Context, id string) (Registration, error)
	List(ctx context.Context, f Filter, p Page) (ListResult, error)
	// Transition applies c only if the stored status still equals from.
	// It fails with ErrNotFound or ErrInvalidStateTransition and then leaves
	// the record untouched.
	Transition(ctx context.Context, id string, from Status, c Change) (Registration, error)
	CountByStatus(ctx context.Context, conferenceID string) (map[Status]int, error)
}
