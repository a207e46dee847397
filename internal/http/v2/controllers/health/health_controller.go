// Package health contiene el controller de readiness.
package health

import (
	"net/http"

	"github.com/dropDatabas3/passgate/internal/http/v2/helpers"
	svc "github.com/dropDatabas3/passgate/internal/http/v2/services/health"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// HealthController maneja /readyz y /healthz.
type HealthController struct {
	service svc.HealthService
}

func NewHealthController(service svc.HealthService) *HealthController {
	return &HealthController{service: service}
}

// Readyz GET /readyz: 503 si alguna dependencia no responde.
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := c.service.Check(ctx)

	if resp.Version != "" {
		w.Header().Set("X-Service-Version", resp.Version)
	}
	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
		logger.From(ctx).Warn("readiness check failed", logger.Layer("controller"), logger.Any("components", resp.Components))
	}
	helpers.WriteJSON(w, status, resp)
}

// Healthz GET /healthz: liveness, no toca dependencias.
func (c *HealthController) Healthz(w http.ResponseWriter, _ *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
