// Package admin contiene los controllers de administración.
package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	dto "github.com/dropDatabas3/passgate/internal/http/v2/dto/admin"
	httperrors "github.com/dropDatabas3/passgate/internal/http/v2/errors"
	"github.com/dropDatabas3/passgate/internal/http/v2/helpers"
	mw "github.com/dropDatabas3/passgate/internal/http/v2/middlewares"
	svc "github.com/dropDatabas3/passgate/internal/http/v2/services/admin"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// InvitesController maneja /v2/admin/invites. Requiere sesión admin.
type InvitesController struct {
	service   svc.InvitesService
	validator helpers.Validator
}

func NewInvitesController(service svc.InvitesService, v helpers.Validator) *InvitesController {
	return &InvitesController{service: service, validator: v}
}

// List GET /v2/admin/invites?active=true
func (c *InvitesController) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httperrors.WriteErrorCtx(ctx, w, httperrors.ErrBadRequest.WithDetail("active debe ser booleano"))
			return
		}
		activeOnly = b
	}

	resp, err := c.service.List(ctx, activeOnly)
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Create POST /v2/admin/invites
func (c *InvitesController) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dto.CreateInviteRequest
	if err := helpers.ReadJSON(w, r, &req, c.validator); err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	resp, err := c.service.Create(ctx, mw.MustGetUser(ctx), req)
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, resp)
}

// Revoke DELETE /v2/admin/invites/{code}
func (c *InvitesController) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")

	if err := c.service.Revoke(ctx, code); err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	logger.From(ctx).Info("invite revoked", logger.Layer("controller"), logger.Invite(code))
	helpers.NoContent(w)
}
