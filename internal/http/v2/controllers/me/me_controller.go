// Package me contiene el controller de la cuenta del usuario autenticado.
package me

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/passgate/internal/http/v2/errors"
	"github.com/dropDatabas3/passgate/internal/http/v2/helpers"
	mw "github.com/dropDatabas3/passgate/internal/http/v2/middlewares"
	svc "github.com/dropDatabas3/passgate/internal/http/v2/services/me"
)

// MeController maneja /v2/me/*. Todas las rutas van detrás de RequireSession.
type MeController struct {
	service   svc.Service
	transport helpers.SessionTransport
}

func NewMeController(service svc.Service, transport helpers.SessionTransport) *MeController {
	return &MeController{service: service, transport: transport}
}

// Get GET /v2/me
func (c *MeController) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := c.service.Get(ctx, mw.MustGetUser(ctx))
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// DeleteCredential DELETE /v2/me/credentials/{id}
// Borrar una credencial revoca todas las sesiones, incluida la actual.
func (c *MeController) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := c.service.RemoveCredential(ctx, mw.MustGetUser(ctx), chi.URLParam(r, "id")); err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	c.transport.ClearCookie(w)
	helpers.NoContent(w)
}

// LinkInvite POST /v2/me/link-invite
func (c *MeController) LinkInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := c.service.LinkInvite(ctx, mw.MustGetUser(ctx))
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, resp)
}
