// Package router arma el router chi de la API v2.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	adminctrl "github.com/dropDatabas3/passgate/internal/http/v2/controllers/admin"
	authctrl "github.com/dropDatabas3/passgate/internal/http/v2/controllers/auth"
	healthctrl "github.com/dropDatabas3/passgate/internal/http/v2/controllers/health"
	mectrl "github.com/dropDatabas3/passgate/internal/http/v2/controllers/me"
	httperrors "github.com/dropDatabas3/passgate/internal/http/v2/errors"
	"github.com/dropDatabas3/passgate/internal/http/v2/helpers"
	mw "github.com/dropDatabas3/passgate/internal/http/v2/middlewares"
	"github.com/dropDatabas3/passgate/internal/rate"
)

// Deps contiene todo lo que el router necesita.
type Deps struct {
	Auth    *authctrl.AuthController
	Me      *mectrl.MeController
	Invites *adminctrl.InvitesController
	Health  *healthctrl.HealthController

	Sessions  mw.SessionValidator
	Users     mw.UserLookup
	Transport helpers.SessionTransport

	// Limiters opcionales (nil = sin rate limit).
	CeremonyLimiter rate.Limiter
	GeneralLimiter  rate.Limiter
	TrustProxy      bool
	CORSOrigins     []string

	// MetricsPath vacío => /metrics no se expone.
	MetricsPath    string
	MetricsHandler http.Handler
}

// New registra todas las rutas.
//
// Cadena por grupo: Recover → RequestID → SecurityHeaders → (CORS) → NoStore →
// RateLimit → Logging → Metrics → [RequireSession → RequireAdmin] → handler.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.Funcs(mw.WithRecover(), mw.WithRequestID(), mw.WithSecurityHeaders())...)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httperrors.WriteErrorCtx(req.Context(), w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httperrors.WriteErrorCtx(req.Context(), w, httperrors.ErrMethodNotAllowed)
	})

	// ===========================================================================
	// Probes y métricas
	// ===========================================================================
	r.Group(func(r chi.Router) {
		r.Use(mw.Funcs(mw.WithMetrics())...)
		r.Get("/healthz", d.Health.Healthz)
		r.Get("/readyz", d.Health.Readyz)
	})
	if d.MetricsPath != "" && d.MetricsHandler != nil {
		r.Method(http.MethodGet, d.MetricsPath, d.MetricsHandler)
	}

	// ===========================================================================
	// API v2
	// ===========================================================================
	r.Route("/v2", func(r chi.Router) {
		r.Use(mw.Funcs(mw.WithCORS(d.CORSOrigins), mw.WithNoStore())...)

		registerAuthRoutes(r, d)
		registerAccountRoutes(r, d)
	})

	return r
}

// registerAuthRoutes: ceremonias con cupo propio por IP y endpoint.
func registerAuthRoutes(r chi.Router, d Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.Funcs(
			mw.WithRateLimit(mw.RateLimitConfig{
				Limiter: d.CeremonyLimiter,
				Scope:   "ceremony",
				KeyFunc: mw.IPPathRateKey(d.TrustProxy),
			}),
			mw.WithLogging(d.TrustProxy),
			mw.WithMetrics(),
		)...)

		r.Post("/auth/register/begin", d.Auth.BeginRegistration)
		r.Post("/auth/register/finish", d.Auth.FinishRegistration)
		r.Post("/auth/login/begin", d.Auth.BeginLogin)
		r.Post("/auth/login/finish", d.Auth.FinishLogin)
	})
}

// registerAccountRoutes: sesión, cuenta y admin con el cupo general.
func registerAccountRoutes(r chi.Router, d Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.Funcs(
			mw.WithRateLimit(mw.RateLimitConfig{
				Limiter: d.GeneralLimiter,
				Scope:   "general",
				KeyFunc: mw.IPRateKey(d.TrustProxy),
			}),
			mw.WithLogging(d.TrustProxy),
			mw.WithMetrics(),
		)...)

		r.Post("/auth/logout", d.Auth.Logout)
		r.Get("/auth/status", d.Auth.Status)

		r.Group(func(r chi.Router) {
			r.Use(mw.Funcs(mw.RequireSession(d.Sessions, d.Users, d.Transport))...)

			r.Get("/me", d.Me.Get)
			r.Delete("/me/credentials/{id}", d.Me.DeleteCredential)
			r.Post("/me/link-invite", d.Me.LinkInvite)

			r.Group(func(r chi.Router) {
				r.Use(mw.Funcs(mw.RequireAdmin())...)

				r.Get("/admin/invites", d.Invites.List)
				r.Post("/admin/invites", d.Invites.Create)
				r.Delete("/admin/invites/{code}", d.Invites.Revoke)
			})
		})
	})
}
