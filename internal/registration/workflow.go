package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"confhub.org/internal/audit"
	"confhub.org/internal/auth"
	"confhub.org/internal/conference"
	"confhub.org/internal/ids"
	"confhub.org/internal/notify"
	"confhub.org/internal/obs"
	"confhub.org/internal/validate"
)

const (
	idPrefix          = "REG"
	defaultIDAttempts = 5
)

// IDGenerator produces candidate registration ids.
type IDGenerator interface {
	Next() (string, error)
}

// ConferenceReader resolves conferences for summaries and message content.
type ConferenceReader interface {
	ConferenceByID(ctx context.Context, id string) (conference.Conference, error)
}

// Result is a persisted registration plus non-fatal notification warnings.
type Result struct {
	Registration Registration `json:"registration"`
	Warnings     []string     `json:"warnings,omitempty"`
}

// Summary is the dashboard view of one conference.
type Summary struct {
	ConferenceID string         `json:"conference_id"`
	Title        string         `json:"title"`
	Capacity     int            `json:"capacity"`
	Counted      int            `json:"counted"`
	Available    int            `json:"available"`
	ByStatus     map[Status]int `json:"by_status"`
}

// Workflow is the only writer of registration state.
type Workflow struct {
	store       Store
	conferences ConferenceReader
	notifier    notify.Dispatcher
	ids         IDGenerator
	idAttempts  int
	now         func() time.Time
	tracer      trace.Tracer
}

// Option configures a Workflow.
type Option func(*Workflow)

func WithClock(fn func() time.Time) Option {
	return func(w *Workflow) {
		if fn != nil {
			w.now = fn
		}
	}
}

func WithIDGenerator(g IDGenerator) Option {
	return func(w *Workflow) {
		if g != nil {
			w.ids = g
		}
	}
}

// WithIDAttempts bounds retries after id collisions.
func WithIDAttempts(n int) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.idAttempts = n
		}
	}
}

// NewWorkflow wires the workflow. A nil notifier logs messages instead of sending them.
func NewWorkflow(store Store, conferences ConferenceReader, notifier notify.Dispatcher, opts ...Option) *Workflow {
	if notifier == nil {
		notifier = notify.LogDispatcher{}
	}
	w := &Workflow{
		store:       store,
		conferences: conferences,
		notifier:    notifier,
		ids:         ids.NewReadableGenerator(idPrefix),
		idAttempts:  defaultIDAttempts,
		now:         time.Now,
		tracer:      obs.Tracer("confhub.org/internal/registration"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Submit validates sub, reserves a seat and stores the registration in the
// initial status for its type. Notifications are attempted afterwards.
func (w *Workflow) Submit(ctx context.Context, sub Submission) (res Result, err error) {
	ctx, span := w.start(ctx, "submit", attribute.String("conference_id", sub.ConferenceID))
	defer func() { w.finish(span, "submit", err) }()

	if err := sub.Validate(ctx); err != nil {
		return Result{}, err
	}

	now := w.now().UTC()
	reg := Registration{
		Type:         sub.Type,
		Applicant:    sub.Applicant,
		ConferenceID: sub.ConferenceID,
		Status:       sub.Type.InitialStatus(),
		Payload:      sub.Payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if ident, ok := auth.IdentityFromContext(ctx); ok {
		reg.SubmittedBy = ident.AccountID
	}

	var created Registration
	for attempt := 1; ; attempt++ {
		reg.ID, err = w.ids.Next()
		if err != nil {
			return Result{}, fmt.Errorf("registration: generate id: %w", err)
		}
		created, err = w.store.CreateWithinCapacity(ctx, reg)
		if errors.Is(err, ErrDuplicateRegistrationID) && attempt < w.idAttempts {
			obs.Logger().Warn().Str("registration_id", reg.ID).Int("attempt", attempt).Msg("registration id collision, retrying")
			continue
		}
		if errors.Is(err, ErrConferenceNotFound) {
			return Result{}, fmt.Errorf("%w: %w", ErrConferenceNotFound, validate.NewError("conference_id", "does not exist"))
		}
		if err != nil {
			return Result{}, err
		}
		break
	}
	span.SetAttributes(attribute.String("registration_id", created.ID))

	_ = audit.LogEvent(ctx, "registration.submitted", map[string]any{
		"registration_id": created.ID,
		"conference_id":   created.ConferenceID,
		"type":            string(created.Type),
		"status":          string(created.Status),
	})

	res = Result{Registration: created}
	title := w.conferenceTitle(ctx, created.ConferenceID)
	kind := notify.KindConfirmation
	if created.Status == StatusPendingApproval {
		kind = notify.KindPending
	}
	w.dispatch(ctx, &res, applicantMessage(kind, created, title), "confirmation")
	if team, ok := created.Payload.(TeamPayload); ok && team.SupervisorEmail != "" {
		msg := notify.Message{
			Kind: notify.KindSupervisorReview,
			To:   team.SupervisorEmail,
			Name: team.SupervisorName,
			Data: messageData(created, title),
		}
		w.dispatch(ctx, &res, msg, "supervisor")
	}
	return res, nil
}

// Approve moves a pending registration to approved. Only reviewers may approve.
func (w *Workflow) Approve(ctx context.Context, actor auth.Identity, id, comments string) (Result, error) {
	return w.decide(ctx, actor, id, StatusApproved, strings.TrimSpace(comments))
}

// Reject moves a pending registration to rejected. Comments are mandatory.
func (w *Workflow) Reject(ctx context.Context, actor auth.Identity, id, comments string) (Result, error) {
	return w.decide(ctx, actor, id, StatusRejected, strings.TrimSpace(comments))
}

func (w *Workflow) decide(ctx context.Context, actor auth.Identity, id string, to Status, comments string) (res Result, err error) {
	op := "approve"
	kind := notify.KindApproved
	if to == StatusRejected {
		op = "reject"
		kind = notify.KindRejected
	}
	ctx, span := w.start(ctx, op, attribute.String("registration_id", id))
	defer func() { w.finish(span, op, err) }()

	if err := auth.Authorize(actor, auth.ReviewerRoles...); err != nil {
		return Result{}, err
	}
	if to == StatusRejected && comments == "" {
		return Result{}, validate.NewError("comments", "is required")
	}

	updated, err := w.store.Transition(ctx, id, StatusPendingApproval, Change{
		To:       to,
		ActorID:  actor.AccountID,
		Comments: comments,
		At:       w.now(),
	})
	if err != nil {
		return Result{}, err
	}

	_ = audit.LogEvent(ctx, "registration."+string(to), map[string]any{
		"registration_id": updated.ID,
		"comments":        comments,
	})
	res = Result{Registration: updated}
	w.dispatch(ctx, &res, applicantMessage(kind, updated, w.conferenceTitle(ctx, updated.ConferenceID)), "outcome")
	return res, nil
}

// Cancel withdraws a registration that is still awaiting a decision. The
// registrant and admins may cancel.
func (w *Workflow) Cancel(ctx context.Context, actor auth.Identity, id string) (res Result, err error) {
	ctx, span := w.start(ctx, "cancel", attribute.String("registration_id", id))
	defer func() { w.finish(span, "cancel", err) }()

	current, err := w.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if err := auth.AuthorizeRegistrant(actor, current.Applicant.Email); err != nil {
		return Result{}, err
	}
	if !CanTransition(current.Status, StatusCancelled) {
		return Result{}, fmt.Errorf("%w: cannot cancel a %s registration", ErrInvalidStateTransition, current.Status)
	}
	updated, err := w.store.Transition(ctx, id, current.Status, Change{
		To:      StatusCancelled,
		ActorID: actor.AccountID,
		At:      w.now(),
	})
	if err != nil {
		return Result{}, err
	}

	_ = audit.LogEvent(ctx, "registration.cancelled", map[string]any{"registration_id": updated.ID})
	res = Result{Registration: updated}
	w.dispatch(ctx, &res, applicantMessage(notify.KindCancelled, updated, w.conferenceTitle(ctx, updated.ConferenceID)), "cancellation")
	return res, nil
}

// Get returns a registration to staff or to its registrant.
func (w *Workflow) Get(ctx context.Context, actor auth.Identity, id string) (Registration, error) {
	reg, err := w.store.Get(ctx, id)
	if err != nil {
		return Registration{}, err
	}
	if auth.Authorize(actor, auth.StaffRoles...) == nil || auth.IsRegistrant(actor, reg.Applicant.Email) {
		return reg, nil
	}
	return Registration{}, auth.ErrForbidden
}

// List returns a page of registrations to staff.
func (w *Workflow) List(ctx context.Context, actor auth.Identity, f Filter, p Page) (ListResult, error) {
	if err := auth.Authorize(actor, auth.StaffRoles...); err != nil {
		return ListResult{}, err
	}
	return w.store.List(ctx, f, p.Normalize())
}

// Summary reports per-status counts and seat usage for one conference.
func (w *Workflow) Summary(ctx context.Context, actor auth.Identity, conferenceID string) (Summary, error) {
	if err := auth.Authorize(actor, auth.StaffRoles...); err != nil {
		return Summary{}, err
	}
	c, err := w.conferences.ConferenceByID(ctx, conferenceID)
	if err != nil {
		return Summary{}, err
	}
	counts, err := w.store.CountByStatus(ctx, c.ID)
	if err != nil {
		return Summary{}, err
	}
	byStatus := make(map[Status]int, len(Statuses))
	counted := 0
	for _, s := range Statuses {
		byStatus[s] = counts[s]
		if s.Counted() {
			counted += counts[s]
		}
	}
	avail := conference.NewAvailability(c, counted)
	return Summary{
		ConferenceID: c.ID,
		Title:        c.Title,
		Capacity:     c.Capacity,
		Counted:      counted,
		Available:    avail.Available,
		ByStatus:     byStatus,
	}, nil
}

// dispatch sends msg and downgrades a failure to a warning on res.
func (w *Workflow) dispatch(ctx context.Context, res *Result, msg notify.Message, label string) {
	msg.ID = ids.New()
	msg.CreatedAt = w.now().UTC()
	err := w.notifier.Dispatch(ctx, msg)
	obs.ObserveNotification(string(msg.Kind), err)
	if err == nil {
		return
	}
	obs.Logger().Warn().Err(err).
		Str("registration_id", res.Registration.ID).
		Str("kind", string(msg.Kind)).
		Msg("notification failed")
	res.Warnings = append(res.Warnings, fmt.Sprintf("%s notification could not be sent", label))
}

func (w *Workflow) conferenceTitle(ctx context.Context, id string) string {
	if w.conferences == nil {
		return ""
	}
	c, err := w.conferences.ConferenceByID(ctx, id)
	if err != nil {
		return ""
	}
	return c.Title
}

func (w *Workflow) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return w.tracer.Start(ctx, "registration."+op, trace.WithAttributes(attrs...))
}

func (w *Workflow) finish(span trace.Span, op string, err error) {
	obs.ObserveTransition(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func applicantMessage(kind notify.Kind, r Registration, title string) notify.Message {
	return notify.Message{
		Kind: kind,
		To:   r.Applicant.Email,
		Name: r.Applicant.Name,
		Data: messageData(r, title),
	}
}

func messageData(r Registration, title string) map[string]string {
	data := map[string]string{
		"registration_id":   r.ID,
		"registration_type": string(r.Type),
		"status":            string(r.Status),
		"conference_id":     r.ConferenceID,
		"conference_title":  title,
		"applicant_name":    r.Applicant.Name,
		"applicant_email":   r.Applicant.Email,
	}
	if r.Comments != "" {
		data["comments"] = r.Comments
	}
	if team, ok := r.Payload.(TeamPayload); ok {
		data["department"] = team.Department
		data["supervisor_name"] = team.SupervisorName
		data["justification"] = team.Justification
	}
	return data
}
