package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"confhub.org/internal/audit"
	"confhub.org/internal/auth"
)

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Accounts.List(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var in auth.NewAccount
	if err := decodeJSON(r, &in); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	acct, err := a.svc.Accounts.Create(r.Context(), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.created", map[string]any{"account_id": acct.ID, "account_role": string(acct.Role)})
	w.Header().Set("Location", "/v1/accounts/"+acct.ID)
	writeJSON(w, http.StatusCreated, acct)
}

func (a *API) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := a.svc.Accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var patch auth.AccountPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	acct, err := a.svc.Accounts.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.updated", map[string]any{"account_id": acct.ID})
	writeJSON(w, http.StatusOK, acct)
}
