package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"confhub.org/internal/audit"
	"confhub.org/internal/auth"
	"confhub.org/internal/validate"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	verr := &validate.ValidationError{}
	if strings.TrimSpace(req.Identifier) == "" {
		verr.Add("identifier", "is required")
	}
	if req.Password == "" {
		verr.Add("password", "is required")
	}
	if !verr.Empty() {
		writeValidation(w, r, verr)
		return
	}

	session, err := a.svc.Auth.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAccountInactive) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"identifier": strings.TrimSpace(req.Identifier)})
		}
		handleError(w, r, err)
		return
	}
	ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{AccountID: session.Account.ID, Role: session.Account.Role})
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"expires_at": session.ExpiresAt})
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	if err := a.svc.Auth.Invalidate(r.Context(), token); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	session, err := a.svc.Auth.Refresh(r.Context(), token)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	account, err := a.svc.Accounts.Get(r.Context(), identity(r).AccountID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": account})
}
