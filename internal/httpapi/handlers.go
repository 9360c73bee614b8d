package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"confhub.org/internal/auth"
	"confhub.org/internal/conference"
	"confhub.org/internal/obs"
	"confhub.org/internal/registration"
)

// ReadyProbe reports whether backing services are reachable. A nil DB is always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the domain entry points the HTTP layer drives.
type Services struct {
	Auth        *auth.Service
	Accounts    *auth.AccountService
	Conferences *conference.Service
	Workflow    *registration.Workflow
}

// API is the HTTP layer.
type API struct {
	router       chi.Router
	svc          Services
	readyProbe   ReadyProbe
	version      string
	rateBurst    int
	ratePerSec   float64
	maxBodyBytes int64
	allowOrigins []string
	proxies      TrustedProxies
}

// Option configures the API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithAllowedOrigins replaces the default localhost-only CORS allow list.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) {
		if len(origins) > 0 {
			a.allowOrigins = origins
		}
	}
}

// WithTrustedProxies lets requests from these networks name the client in X-Forwarded-For.
func WithTrustedProxies(proxies TrustedProxies) Option {
	return func(a *API) {
		a.proxies = proxies
	}
}

func New(svc Services, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		svc:          svc,
		readyProbe:   rp,
		version:      version,
		rateBurst:    40,
		ratePerSec:   20,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.middleware()...)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)
		r.Post("/auth/login", a.handleLogin)
		r.Get("/conferences", a.handleListConferences)
		r.Get("/conferences/{id}", a.handleGetConference)
		r.With(a.optionalAuth).Post("/registrations", a.handleSubmitRegistration)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)
			r.Post("/auth/logout", a.handleLogout)
			r.Post("/auth/refresh", a.handleRefresh)
			r.Get("/me", a.handleMe)
			r.Get("/registrations/{id}", a.handleGetRegistration)
			r.Post("/registrations/{id}/cancel", a.handleCancelRegistration)

			r.Group(func(r chi.Router) {
				r.Use(requireRoles(auth.StaffRoles...))
				r.Get("/registrations", a.handleListRegistrations)
				r.Get("/conferences/{id}/summary", a.handleConferenceSummary)
			})
			r.Group(func(r chi.Router) {
				r.Use(requireRoles(auth.ReviewerRoles...))
				r.Post("/registrations/{id}/approve", a.handleApproveRegistration)
				r.Post("/registrations/{id}/reject", a.handleRejectRegistration)
			})
			r.Group(func(r chi.Router) {
				r.Use(requireRoles(auth.AdminRoles...))
				r.Post("/conferences", a.handleCreateConference)
				r.Post("/conferences/{id}/status", a.handleConferenceStatus)
				r.Get("/accounts", a.handleListAccounts)
				r.Post("/accounts", a.handleCreateAccount)
				r.Get("/accounts/{id}", a.handleGetAccount)
				r.Patch("/accounts/{id}", a.handleUpdateAccount)
			})
		})
	})
	return r
}

// middleware is the chain every route runs behind. Logging and metrics sit
// outside Recover so a panicking request is still recorded as a 500.
func (a *API) middleware() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestID,
		LoggingJSON,
		obs.Instrument,
		Recover,
		SecurityHeaders,
		CORS(a.allowOrigins),
		func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBodyBytes) },
		func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec, a.proxies) },
	}
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    obs.ServiceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
