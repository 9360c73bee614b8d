package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"confhub.org/internal/audit"
	"confhub.org/internal/auth"
	"confhub.org/internal/conference"
	"confhub.org/internal/obs"
	"confhub.org/internal/registration"
	"confhub.org/internal/validate"
)

var errEmptyBody = errors.New("request body is required")

// decodeJSON reads exactly one JSON value into dst and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// writeDecodeError answers a body that could not be read.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, "malformed request body: "+err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"message": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeValidation(w http.ResponseWriter, r *http.Request, ve *validate.ValidationError) {
	writeErrorBody(w, r, http.StatusUnprocessableEntity, map[string]any{
		"message": "validation failed",
		"errors":  ve.Fields,
	})
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="confhub"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

// handleError maps domain errors to responses. Unknown errors are logged and
// reported as a generic 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := validate.As(err); ok {
		writeValidation(w, r, ve)
		return
	}
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, r, "invalid credentials")
	case errors.Is(err, auth.ErrAccountInactive):
		writeUnauthorized(w, r, "account inactive")
	case errors.Is(err, auth.ErrInvalidToken):
		writeUnauthorized(w, r, "invalid token")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, registration.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "registration not found")
	case errors.Is(err, conference.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "conference not found")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "account not found")
	case errors.Is(err, registration.ErrConferenceFull):
		writeErrorBody(w, r, http.StatusBadRequest, map[string]any{"message": "conference is full", "code": "conference_full"})
	case errors.Is(err, registration.ErrConferenceClosed):
		writeErrorBody(w, r, http.StatusBadRequest, map[string]any{"message": "conference is not open for registration", "code": "conference_closed"})
	case errors.Is(err, registration.ErrInvalidStateTransition):
		writeErrorBody(w, r, http.StatusBadRequest, map[string]any{"message": "registration is not in a state that allows this action", "code": "invalid_state_transition"})
	case errors.Is(err, conference.ErrInvalidStatusChange):
		writeErrorBody(w, r, http.StatusBadRequest, map[string]any{"message": "conference status change not allowed", "code": "invalid_status_change"})
	case errors.Is(err, registration.ErrDuplicateRegistrationID):
		writeErrorBody(w, r, http.StatusConflict, map[string]any{"message": "could not allocate a registration id, retry", "code": "duplicate_registration_id"})
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "username or email already in use")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid input")
	default:
		obs.Logger().Error().Err(err).
			Str("request_id", audit.RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("unhandled error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
