package notify

import (
	"context"
	"errors"
	"time"

	"confhub.org/internal/obs"
)

// Kind names a notification template.
type Kind string

const (
	KindConfirmation     Kind = "registration.confirmation"
	KindPending          Kind = "registration.pending"
	KindSupervisorReview Kind = "registration.supervisor_review"
	KindApproved         Kind = "registration.approved"
	KindRejected         Kind = "registration.rejected"
	KindCancelled        Kind = "registration.cancelled"
)

// Message is one outbound notification. Data feeds the template for Kind.
type Message struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	To        string            `json:"to"`
	Name      string            `json:"name,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ErrNoRecipient is returned for messages without an address.
var ErrNoRecipient = errors.New("notify: message has no recipient")

// Dispatcher delivers or enqueues a message. Callers treat failures as non-fatal.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, msg Message) error

func (f DispatcherFunc) Dispatch(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogDispatcher writes messages to the service log instead of delivering them.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	obs.Logger().Info().
		Str("notification_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Str("to", msg.To).
		Interface("data", msg.Data).
		Msg("notification")
	return nil
}
