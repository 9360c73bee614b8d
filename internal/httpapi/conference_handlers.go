package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"confhub.org/internal/conference"
	"confhub.org/internal/validate"
)

type conferenceResponse struct {
	conference.Conference
	Availability conference.Availability `json:"availability"`
}

type statusChangeRequest struct {
	Status string `json:"status"`
}

func (a *API) handleListConferences(w http.ResponseWriter, r *http.Request) {
	var status conference.Status
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		st, err := conference.ParseStatus(s)
		if err != nil {
			writeValidation(w, r, validate.NewError("status", "unknown conference status"))
			return
		}
		status = st
	}
	items, err := a.svc.Conferences.List(r.Context(), status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleGetConference(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := a.svc.Conferences.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	avail, err := a.svc.Conferences.Availability(r.Context(), c.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conferenceResponse{Conference: c, Availability: avail})
}

func (a *API) handleCreateConference(w http.ResponseWriter, r *http.Request) {
	var in conference.NewConference
	if err := decodeJSON(r, &in); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	c, err := a.svc.Conferences.Create(r.Context(), identity(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/conferences/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleConferenceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	to, err := conference.ParseStatus(req.Status)
	if err != nil {
		writeValidation(w, r, validate.NewError("status", "unknown conference status"))
		return
	}
	c, err := a.svc.Conferences.ChangeStatus(r.Context(), identity(r), chi.URLParam(r, "id"), to)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleConferenceSummary(w http.ResponseWriter, r *http.Request) {
	s, err := a.svc.Workflow.Summary(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
