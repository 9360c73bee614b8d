package conference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"confhub.org/internal/audit"
	"confhub.org/internal/auth"
	"confhub.org/internal/ids"
	"confhub.org/internal/validate"
)

// NewConference is the input for creating a conference.
type NewConference struct {
	Title       string    `json:"title" validate:"notblank,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"required"`
	Location    string    `json:"location" validate:"max=200"`
	Capacity    int       `json:"capacity" validate:"gt=0"`
	Fee         int64     `json:"fee" validate:"gte=0"`
	Currency    string    `json:"currency" validate:"omitempty,len=3"`
	Status      string    `json:"status" validate:"omitempty,oneof=draft published"`
}

// Service manages conferences.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Create validates and stores a conference. Only admins may create conferences.
func (s *Service) Create(ctx context.Context, actor auth.Identity, in NewConference) (Conference, error) {
	if err := auth.Authorize(actor, auth.AdminRoles...); err != nil {
		return Conference{}, err
	}
	verr := &validate.ValidationError{}
	if err := validate.Struct(ctx, in); err != nil {
		ve, ok := validate.As(err)
		if !ok {
			return Conference{}, err
		}
		verr.Merge(ve)
	}
	if !in.StartsAt.IsZero() && !in.EndsAt.IsZero() && in.EndsAt.Before(in.StartsAt) {
		verr.Add("ends_at", "must not be before starts_at")
	}
	if err := verr.OrNil(); err != nil {
		return Conference{}, err
	}

	status := StatusDraft
	if in.Status != "" {
		status = Status(in.Status)
	}
	now := s.now().UTC()
	c, err := s.store.CreateConference(ctx, Conference{
		ID:          ids.New(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt.UTC(),
		Location:    strings.TrimSpace(in.Location),
		Capacity:    in.Capacity,
		Fee:         in.Fee,
		Currency:    strings.ToUpper(in.Currency),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Conference{}, err
	}
	_ = audit.LogEvent(ctx, "conference.created", map[string]any{"conference_id": c.ID, "status": string(c.Status)})
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (Conference, error) {
	return s.store.ConferenceByID(ctx, strings.TrimSpace(id))
}

func (s *Service) List(ctx context.Context, status Status) ([]Conference, error) {
	return s.store.ListConferences(ctx, status)
}

// ChangeStatus moves a conference along its lifecycle.
func (s *Service) ChangeStatus(ctx context.Context, actor auth.Identity, id string, to Status) (Conference, error) {
	if err := auth.Authorize(actor, auth.AdminRoles...); err != nil {
		return Conference{}, err
	}
	current, err := s.store.ConferenceByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return Conference{}, err
	}
	if !current.Status.CanChangeTo(to) {
		return Conference{}, fmt.Errorf("%w: %s to %s", ErrInvalidStatusChange, current.Status, to)
	}
	updated, err := s.store.UpdateConferenceStatus(ctx, current.ID, current.Status, to, s.now().UTC())
	if err != nil {
		return Conference{}, err
	}
	_ = audit.LogEvent(ctx, "conference.status_changed", map[string]any{
		"conference_id": updated.ID,
		"from":          string(current.Status),
		"to":            string(updated.Status),
	})
	return updated, nil
}

// Availability reports remaining seats.
func (s *Service) Availability(ctx context.Context, id string) (Availability, error) {
	c, err := s.store.ConferenceByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return Availability{}, err
	}
	counted, err := s.store.CountedRegistrations(ctx, c.ID)
	if err != nil {
		return Availability{}, err
	}
	return NewAvailability(c, counted), nil
}
