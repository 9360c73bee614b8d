package registration

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound                = errors.New("registration: not found")
	ErrConferenceNotFound      = errors.New("registration: conference not found")
	ErrConferenceClosed        = errors.New("registration: conference is not open for registration")
	ErrConferenceFull          = errors.New("registration: conference is full")
	ErrInvalidStateTransition  = errors.New("registration: invalid state transition")
	ErrDuplicateRegistrationID = errors.New("registration: duplicate registration id")
)

// Type selects the payload schema and the initial status.
type Type string

const (
	TypeAttendee Type = "attendee"
	TypeSpeaker  Type = "speaker"
	TypeTeam     Type = "team"
)

// ParseType normalizes s and rejects unknown registration types.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeAttendee, TypeSpeaker, TypeTeam:
		return t, nil
	default:
		return "", fmt.Errorf("registration: unknown type %q", s)
	}
}

// InitialStatus is the status a new registration of this type starts in.
func (t Type) InitialStatus() Status {
	if t == TypeTeam {
		return StatusPendingApproval
	}
	return StatusConfirmed
}

type Status string

const (
	StatusConfirmed       Status = "confirmed"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusCancelled       Status = "cancelled"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusConfirmed, StatusPendingApproval, StatusApproved, StatusRejected, StatusCancelled}

// ParseStatus normalizes s and rejects unknown statuses.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("registration: unknown status %q", s)
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool { return s != StatusPendingApproval }

// Counted reports whether a registration in s occupies a seat.
func (s Status) Counted() bool { return s != StatusCancelled && s != StatusRejected }

// CountedStatuses lists the statuses that occupy a seat.
func CountedStatuses() []Status {
	out := make([]Status, 0, len(Statuses))
	for _, s := range Statuses {
		if s.Counted() {
			out = append(out, s)
		}
	}
	return out
}

// CanTransition reports whether from -> to is an edge of the workflow.
func CanTransition(from, to Status) bool {
	if from != StatusPendingApproval {
		return false
	}
	switch to {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

type Applicant struct {
	Name         string `json:"name" validate:"notblank,max=200"`
	Email        string `json:"email" validate:"required,email,max=254"`
	Phone        string `json:"phone,omitempty" validate:"max=32"`
	Organization string `json:"organization,omitempty" validate:"max=200"`
	JobTitle     string `json:"job_title,omitempty" validate:"max=200"`
}

// Registration is one applicant's request for one conference.
type Registration struct {
	ID           string     `json:"registration_id"`
	Type         Type       `json:"registration_type"`
	Applicant    Applicant  `json:"applicant"`
	ConferenceID string     `json:"conference_id"`
	Status       Status     `json:"status"`
	Payload      Payload    `json:"-"`
	SubmittedBy  string     `json:"submitted_by,omitempty"`
	ApproverID   string     `json:"approver_id,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	Comments     string     `json:"comments,omitempty"`
	CancelledBy  string     `json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (r Registration) MarshalJSON() ([]byte, error) {
	type plain Registration
	return json.Marshal(struct {
		plain
		Details Payload `json:"details,omitempty"`
	}{plain(r), r.Payload})
}

// Change describes a status transition and the audit fields it sets.
type Change struct {
	To       Status
	ActorID  string
	Comments string
	At       time.Time
}

// Apply returns r after the change. It does not check the transition.
func (r Registration) Apply(c Change) Registration {
	at := c.At.UTC()
	r.Status = c.To
	r.UpdatedAt = at
	switch c.To {
	case StatusApproved, StatusRejected:
		r.ApproverID = c.ActorID
		r.DecidedAt = &at
		r.Comments = c.Comments
	case StatusCancelled:
		r.CancelledBy = c.ActorID
		r.CancelledAt = &at
	}
	return r
}
