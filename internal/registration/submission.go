package registration

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"confhub.org/internal/validate"
)

// Submission is a validated, strongly typed registration request.
type Submission struct {
	Type         Type      `json:"registration_type" validate:"required,oneof=attendee speaker team"`
	ConferenceID string    `json:"conference_id" validate:"notblank,max=64"`
	Applicant    Applicant `json:"applicant"`
	Payload      Payload   `json:"-" validate:"-"`
}

var envelopeKeys = map[string]struct{}{
	"registration_type": {},
	"conference_id":     {},
	"name":              {},
	"email":             {},
	"phone":             {},
	"organization":      {},
	"job_title":         {},
}

// ParseSubmission turns a flat JSON object into a Submission. Fields outside
// the schema of the declared type are kept in the payload's Extra map.
// Problems are reported together as a *validate.ValidationError.
func ParseSubmission(ctx context.Context, raw map[string]json.RawMessage) (Submission, error) {
	verr := &validate.ValidationError{}
	str := func(key string) string {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			return ""
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			verr.Add(key, "must be a string")
			return ""
		}
		return strings.TrimSpace(s)
	}

	var sub Submission
	typeName := str("registration_type")
	sub.ConferenceID = str("conference_id")
	sub.Applicant = Applicant{
		Name:         str("name"),
		Email:        strings.ToLower(str("email")),
		Phone:        str("phone"),
		Organization: str("organization"),
		JobTitle:     str("job_title"),
	}

	switch t, err := ParseType(typeName); {
	case typeName == "":
		verr.Add("registration_type", "is required")
	case err != nil:
		verr.Add("registration_type", "must be one of: attendee, speaker, team")
	default:
		sub.Type = t
		p, perr := buildPayload(t, raw, envelopeKeys)
		verr.Merge(perr)
		sub.Payload = p
	}

	sub.validateInto(ctx, verr)
	if err := verr.OrNil(); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// Validate checks the envelope, the applicant and the type-specific payload.
func (s Submission) Validate(ctx context.Context) error {
	verr := &validate.ValidationError{}
	s.validateInto(ctx, verr)
	return verr.OrNil()
}

func (s Submission) validateInto(ctx context.Context, verr *validate.ValidationError) {
	collect(verr, validate.Struct(ctx, s))
	if _, err := ParseType(string(s.Type)); err != nil {
		return
	}
	switch {
	case s.Payload == nil:
		verr.Add("registration_type", "has no details")
	case s.Payload.Type() != s.Type:
		verr.Add("registration_type", "does not match details")
	default:
		collect(verr, validate.Struct(ctx, s.Payload))
	}
}

func collect(verr *validate.ValidationError, err error) {
	if err == nil {
		return
	}
	if ve, ok := validate.As(err); ok {
		verr.Merge(ve)
		return
	}
	verr.Add("_", err.Error())
}

func buildPayload(t Type, raw map[string]json.RawMessage, skip map[string]struct{}) (Payload, *validate.ValidationError) {
	known := payloadKeys[t]
	isKnown := make(map[string]struct{}, len(known))
	fields := make(map[string]json.RawMessage, len(known))
	for _, k := range known {
		isKnown[k] = struct{}{}
		if v, ok := raw[k]; ok && string(v) != "null" {
			fields[k] = v
		}
	}
	var extra map[string]any
	for k, v := range raw {
		if _, ok := skip[k]; ok {
			continue
		}
		if _, ok := isKnown[k]; ok {
			continue
		}
		var x any
		if err := json.Unmarshal(v, &x); err != nil {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = x
	}

	b, err := json.Marshal(fields)
	if err != nil {
		return nil, validate.NewError("_", "could not read details")
	}
	var verr *validate.ValidationError
	decode := func(dst any) {
		if err := json.Unmarshal(b, dst); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) && typeErr.Field != "" {
				verr = validate.NewError(typeErr.Field, "has the wrong type")
				return
			}
			verr = validate.NewError("_", "could not read details")
		}
	}

	switch t {
	case TypeAttendee:
		var p AttendeePayload
		decode(&p)
		p.DietaryNotes = strings.TrimSpace(p.DietaryNotes)
		p.Extra = extra
		return p, verr
	case TypeSpeaker:
		var p SpeakerPayload
		decode(&p)
		trim(&p.Biography, &p.PresentationTitle, &p.PresentationAbstract)
		for i := range p.Topics {
			p.Topics[i] = strings.TrimSpace(p.Topics[i])
		}
		p.Extra = extra
		return p, verr
	case TypeTeam:
		var p TeamPayload
		decode(&p)
		trim(&p.StaffID, &p.Department, &p.SupervisorName, &p.SupervisorEmail, &p.Justification, &p.GradeLevel)
		p.SupervisorEmail = strings.ToLower(p.SupervisorEmail)
		p.Extra = extra
		return p, verr
	default:
		return nil, validate.NewError("registration_type", "must be one of: attendee, speaker, team")
	}
}

func trim(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}
