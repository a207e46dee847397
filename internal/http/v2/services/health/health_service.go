// Package health contiene el service de readiness.
package health

import (
	"context"
	"time"

	dto "github.com/dropDatabas3/passgate/internal/http/v2/dto/health"
)

// Pinger es cualquier dependencia que puede responder un ping (store, cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Component es una dependencia chequeada por /readyz.
type Component struct {
	Name   string
	Driver string
	Pinger Pinger
}

type HealthService interface {
	Check(ctx context.Context) dto.HealthResponse
}

type Deps struct {
	Version    string
	Components []Component
	// Timeout por chequeo. Default 2s.
	Timeout time.Duration
}

type healthService struct {
	deps Deps
}

func NewHealthService(d Deps) HealthService {
	if d.Timeout <= 0 {
		d.Timeout = 2 * time.Second
	}
	return &healthService{deps: d}
}

// Check pinga cada componente. Cualquiera caído => unavailable.
func (s *healthService) Check(ctx context.Context) dto.HealthResponse {
	resp := dto.HealthResponse{
		Status:     "ready",
		Version:    s.deps.Version,
		Components: make(map[string]dto.ComponentStatus, len(s.deps.Components)),
	}
	for _, c := range s.deps.Components {
		cctx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
		err := c.Pinger.Ping(cctx)
		cancel()

		st := dto.ComponentStatus{Status: "ok", Driver: c.Driver}
		if err != nil {
			st.Status = "down"
			st.Error = err.Error()
			resp.Status = "unavailable"
		}
		resp.Components[c.Name] = st
	}
	return resp
}
