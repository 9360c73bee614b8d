package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"confhub.org/internal/registration"
	"confhub.org/internal/validate"
)

type submitResponse struct {
	RegistrationID string                    `json:"registration_id"`
	Status         registration.Status       `json:"status"`
	Registration   registration.Registration `json:"registration"`
	Warnings       []string                  `json:"warnings,omitempty"`
}

type decisionRequest struct {
	Comments string `json:"comments"`
}

func (a *API) handleSubmitRegistration(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	sub, err := registration.ParseSubmission(r.Context(), raw)
	if err != nil {
		handleError(w, r, err)
		return
	}
	res, err := a.svc.Workflow.Submit(r.Context(), sub)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/registrations/"+res.Registration.ID)
	writeJSON(w, http.StatusCreated, submitResponse{
		RegistrationID: res.Registration.ID,
		Status:         res.Registration.Status,
		Registration:   res.Registration,
		Warnings:       res.Warnings,
	})
}

func (a *API) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := a.svc.Workflow.Get(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (a *API) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	f, p, verr := parseListQuery(r)
	if !verr.Empty() {
		writeValidation(w, r, verr)
		return
	}
	res, err := a.svc.Workflow.List(r.Context(), identity(r), f, p)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleApproveRegistration(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDecision(w, r)
	if !ok {
		return
	}
	res, err := a.svc.Workflow.Approve(r.Context(), identity(r), chi.URLParam(r, "id"), req.Comments)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRejectRegistration(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDecision(w, r)
	if !ok {
		return
	}
	res, err := a.svc.Workflow.Reject(r.Context(), identity(r), chi.URLParam(r, "id"), req.Comments)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleCancelRegistration(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Workflow.Cancel(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeDecision accepts an empty body as a decision without comments.
func decodeDecision(w http.ResponseWriter, r *http.Request) (decisionRequest, bool) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeDecodeError(w, r, err)
		return decisionRequest{}, false
	}
	return req, true
}

func parseListQuery(r *http.Request) (registration.Filter, registration.Page, *validate.ValidationError) {
	q := r.URL.Query()
	verr := &validate.ValidationError{}
	var f registration.Filter

	if s := strings.TrimSpace(q.Get("status")); s != "" {
		st, err := registration.ParseStatus(s)
		if err != nil {
			verr.Add("status", "unknown registration status")
		}
		f.Status = st
	}
	if t := strings.TrimSpace(q.Get("registration_type")); t != "" {
		typ, err := registration.ParseType(t)
		if err != nil {
			verr.Add("registration_type", "must be one of: attendee, speaker, team")
		}
		f.Type = typ
	}
	f.ConferenceID = strings.TrimSpace(q.Get("conference_id"))
	f.ApplicantEmail = strings.TrimSpace(q.Get("email"))

	positive := func(key string) int {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			return 0
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			verr.Add(key, "must be a positive integer")
			return 0
		}
		return n
	}
	p := registration.Page{Page: positive("page"), PerPage: positive("per_page")}
	return f, p.Normalize(), verr
}
