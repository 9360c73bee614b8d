package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"confhub.org/internal/auth"
	"confhub.org/internal/conference"
	"confhub.org/internal/registration"
)

var (
	_ auth.AccountStore             = (*Store)(nil)
	_ conference.Store              = (*Store)(nil)
	_ registration.Store            = (*Store)(nil)
	_ registration.ConferenceReader = (*Store)(nil)
)

// Store keeps everything in process memory behind one lock, which makes every
// operation atomic. It backs development runs and tests.
type Store struct {
	mu            sync.RWMutex
	accounts      map[string]auth.Account
	conferences   map[string]conference.Conference
	registrations map[string]registration.Registration
	order         []string
}

func New() *Store {
	return &Store{
		accounts:      make(map[string]auth.Account),
		conferences:   make(map[string]conference.Conference),
		registrations: make(map[string]registration.Registration),
	}
}

// Accounts ------------------------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, a auth.Account) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return auth.Account{}, auth.ErrConflict
	}
	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Username, a.Username) || strings.EqualFold(existing.Email, a.Email) {
			return auth.Account{}, auth.ErrConflict
		}
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) AccountByID(_ context.Context, id string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return a, nil
}

func (s *Store) AccountByLogin(_ context.Context, identifier string) (auth.Account, error) {
	identifier = strings.TrimSpace(identifier)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, identifier) || strings.EqualFold(a.Email, identifier) {
			return a, nil
		}
	}
	return auth.Account{}, auth.ErrNotFound
}

func (s *Store) ListAccounts(context.Context) ([]auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateAccount(_ context.Context, a auth.Account) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	for id, existing := range s.accounts {
		if id != a.ID && (strings.EqualFold(existing.Username, a.Username) || strings.EqualFold(existing.Email, a.Email)) {
			return auth.Account{}, auth.ErrConflict
		}
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	a.LastLoginAt = &at
	s.accounts[id] = a
	return nil
}

// Conferences ---------------------------------------------------------------

func (s *Store) CreateConference(_ context.Context, c conference.Conference) (conference.Conference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conferences[c.ID]; ok {
		return conference.Conference{}, fmt.Errorf("conference %s already exists", c.ID)
	}
	s.conferences[c.ID] = c
	return c, nil
}

func (s *Store) ConferenceByID(_ context.Context, id string) (conference.Conference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conferences[id]
	if !ok {
		return conference.Conference{}, conference.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListConferences(_ context.Context, status conference.Status) ([]conference.Conference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]conference.Conference, 0, len(s.conferences))
	for _, c := range s.conferences {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateConferenceStatus(_ context.Context, id string, from, to conference.Status, at time.Time) (conference.Conference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conferences[id]
	if !ok {
		return conference.Conference{}, conference.ErrNotFound
	}
	if c.Status != from {
		return conference.Conference{}, fmt.Errorf("%w: status is %s", conference.ErrInvalidStatusChange, c.Status)
	}
	c.Status = to
	c.UpdatedAt = at.UTC()
	s.conferences[id] = c
	return c, nil
}

func (s *Store) CountedRegistrations(_ context.Context, conferenceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countedLocked(conferenceID), nil
}

func (s *Store) countedLocked(conferenceID string) int {
	n := 0
	for _, r := range s.registrations {
		if r.ConferenceID == conferenceID && r.Status.Counted() {
			n++
		}
	}
	return n
}

// Registrations -------------------------------------------------------------

func (s *Store) CreateWithinCapacity(_ context.Context, r registration.Registration) (registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conferences[r.ConferenceID]
	if !ok {
		return registration.Registration{}, registration.ErrConferenceNotFound
	}
	if !c.Status.AcceptsRegistrations() {
		return registration.Registration{}, registration.ErrConferenceClosed
	}
	if s.countedLocked(c.ID) >= c.Capacity {
		return registration.Registration{}, registration.ErrConferenceFull
	}
	if _, taken := s.registrations[r.ID]; taken {
		return registration.Registration{}, registration.ErrDuplicateRegistrationID
	}
	s.registrations[r.ID] = r
	s.order = append(s.order, r.ID)
	return r, nil
}

func (s *Store) Get(_ context.Context, id string) (registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[id]
	if !ok {
		return registration.Registration{}, registration.ErrNotFound
	}
	return r, nil
}

// List returns matches newest first.
func (s *Store) List(_ context.Context, f registration.Filter, p registration.Page) (registration.ListResult, error) {
	p = p.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []registration.Registration
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.registrations[s.order[i]]
		if f.Matches(r) {
			matches = append(matches, r)
		}
	}
	res := registration.ListResult{Total: len(matches), Page: p.Page, PerPage: p.PerPage, Items: []registration.Registration{}}
	if off := p.Offset(); off < len(matches) {
		end := off + p.PerPage
		if end > len(matches) {
			end = len(matches)
		}
		res.Items = append(res.Items, matches[off:end]...)
	}
	return res, nil
}

func (s *Store) Transition(_ context.Context, id string, from registration.Status, c registration.Change) (registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	if !ok {
		return registration.Registration{}, registration.ErrNotFound
	}
	if r.Status != from || !registration.CanTransition(from, c.To) {
		return registration.Registration{}, fmt.Errorf("%w: registration %s is %s", registration.ErrInvalidStateTransition, id, r.Status)
	}
	r = r.Apply(c)
	s.registrations[id] = r
	return r, nil
}

func (s *Store) CountByStatus(_ context.Context, conferenceID string) (map[registration.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[registration.Status]int)
	for _, r := range s.registrations {
		if r.ConferenceID == conferenceID {
			out[r.Status]++
		}
	}
	return out, nil
}
