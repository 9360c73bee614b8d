package registration

import (
	"encoding/json"
	"fmt"
)

// Payload is the type-specific part of a registration. Exactly one of
// AttendeePayload, SpeakerPayload and TeamPayload.
type Payload interface {
	Type() Type
	extra() map[string]any
}

type AttendeePayload struct {
	DietaryNotes string         `json:"dietary_notes,omitempty" validate:"max=1000"`
	Extra        map[string]any `json:"-"`
}

type SpeakerPayload struct {
	Biography            string         `json:"biography" validate:"notblank,max=5000"`
	PresentationTitle    string         `json:"presentation_title" validate:"notblank,max=200"`
	PresentationAbstract string         `json:"presentation_abstract,omitempty" validate:"max=5000"`
	Topics               []string       `json:"topics,omitempty" validate:"max=10,dive,notblank,max=64"`
	Extra                map[string]any `json:"-"`
}

// TeamPayload is the internal-staff schema. GradeLevel is optional.
type TeamPayload struct {
	StaffID         string         `json:"staff_id" validate:"notblank,max=64"`
	Department      string         `json:"department" validate:"notblank,max=128"`
	SupervisorName  string         `json:"supervisor_name" validate:"notblank,max=200"`
	SupervisorEmail string         `json:"supervisor_email" validate:"required,email,max=254"`
	Justification   string         `json:"justification" validate:"notblank,max=2000"`
	GradeLevel      string         `json:"grade_level,omitempty" validate:"max=32"`
	Extra           map[string]any `json:"-"`
}

func (AttendeePayload) Type() Type { return TypeAttendee }
func (SpeakerPayload) Type() Type  { return TypeSpeaker }
func (TeamPayload) Type() Type     { return TypeTeam }

func (p AttendeePayload) extra() map[string]any { return p.Extra }
func (p SpeakerPayload) extra() map[string]any  { return p.Extra }
func (p TeamPayload) extra() map[string]any     { return p.Extra }

func (p AttendeePayload) MarshalJSON() ([]byte, error) {
	type plain AttendeePayload
	return marshalWithExtra(plain(p), p.Extra)
}

func (p SpeakerPayload) MarshalJSON() ([]byte, error) {
	type plain SpeakerPayload
	return marshalWithExtra(plain(p), p.Extra)
}

func (p TeamPayload) MarshalJSON() ([]byte, error) {
	type plain TeamPayload
	return marshalWithExtra(plain(p), p.Extra)
}

// marshalWithExtra flattens extra keys next to the known fields. Known fields win.
func marshalWithExtra(known any, extra map[string]any) ([]byte, error) {
	b, err := json.Marshal(known)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	merged := make(map[string]json.RawMessage, len(extra)+8)
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, taken := merged[k]; taken {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("registration: encode extra field %q: %w", k, err)
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

var payloadKeys = map[Type][]string{
	TypeAttendee: {"dietary_notes"},
	TypeSpeaker:  {"biography", "presentation_title", "presentation_abstract", "topics"},
	TypeTeam:     {"staff_id", "department", "supervisor_name", "supervisor_email", "justification", "grade_level"},
}

// EncodePayload serializes p for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// DecodePayload restores a stored payload of type t without validating it.
func DecodePayload(t Type, data []byte) (Payload, error) {
	raw := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("registration: decode payload: %w", err)
		}
	}
	p, verr := buildPayload(t, raw, nil)
	if verr != nil {
		return nil, fmt.Errorf("registration: decode payload: %w", verr)
	}
	return p, nil
}
