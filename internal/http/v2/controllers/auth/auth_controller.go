// Package auth contiene los controllers de ceremonias WebAuthn y sesión.
package auth

import (
	"context"
	"net/http"

	dto "github.com/dropDatabas3/passgate/internal/http/v2/dto/auth"
	httperrors "github.com/dropDatabas3/passgate/internal/http/v2/errors"
	"github.com/dropDatabas3/passgate/internal/http/v2/helpers"
	svc "github.com/dropDatabas3/passgate/internal/http/v2/services/auth"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
	"github.com/dropDatabas3/passgate/internal/session"
)

// Deps del controller.
type Deps struct {
	Service    svc.Service
	Validator  helpers.Validator
	Transport  helpers.SessionTransport
	TrustProxy bool
}

// AuthController maneja /v2/auth/*.
type AuthController struct {
	deps Deps
}

func NewAuthController(d Deps) *AuthController {
	return &AuthController{deps: d}
}

// BeginRegistration POST /v2/auth/register/begin
func (c *AuthController) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dto.BeginRegistrationRequest
	if err := helpers.ReadJSON(w, r, &req, c.deps.Validator); err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	resp, err := c.deps.Service.BeginRegistration(ctx, req)
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// FinishRegistration POST /v2/auth/register/finish
func (c *AuthController) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	c.finish(w, r, "AuthController.FinishRegistration", c.deps.Service.FinishRegistration)
}

// BeginLogin POST /v2/auth/login/begin
func (c *AuthController) BeginLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dto.BeginLoginRequest
	if err := helpers.ReadJSON(w, r, &req, c.deps.Validator); err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	resp, err := c.deps.Service.BeginLogin(ctx, req)
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// FinishLogin POST /v2/auth/login/finish
func (c *AuthController) FinishLogin(w http.ResponseWriter, r *http.Request) {
	c.finish(w, r, "AuthController.FinishLogin", c.deps.Service.FinishLogin)
}

type finishFunc func(ctx context.Context, in dto.FinishRequest, meta session.IssueMeta) (*dto.SessionResponse, error)

// finish es común a ambos finish: decodifica, verifica y entrega la sesión
// en cookie y en el body.
func (c *AuthController) finish(w http.ResponseWriter, r *http.Request, op string, fn finishFunc) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op(op))

	var req dto.FinishRequest
	if err := helpers.ReadJSON(w, r, &req, c.deps.Validator); err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}

	meta := session.IssueMeta{UserAgent: r.UserAgent(), IP: helpers.ClientIP(r, c.deps.TrustProxy)}
	resp, err := fn(ctx, req, meta)
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}

	c.deps.Transport.SetCookie(w, resp.Token, resp.ExpiresAt)
	helpers.WriteJSON(w, http.StatusOK, resp)
	log.Debug("session issued", logger.String("user_id", resp.UserID))
}

// Logout POST /v2/auth/logout. Siempre 204: no revela si la sesión existía.
func (c *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := c.deps.Service.Logout(ctx, c.deps.Transport.Token(r)); err != nil {
		logger.From(ctx).Error("logout revoke failed", logger.Layer("controller"), logger.Op("AuthController.Logout"), logger.Err(err))
	}
	c.deps.Transport.ClearCookie(w)
	helpers.NoContent(w)
}

// Status GET /v2/auth/status
func (c *AuthController) Status(w http.ResponseWriter, r *http.Request) {
	resp := c.deps.Service.Status(r.Context(), c.deps.Transport.Token(r))
	helpers.WriteJSON(w, http.StatusOK, resp)
}
