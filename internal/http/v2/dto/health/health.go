// Package health contiene los DTOs de /readyz.
package health

// HealthResponse respuesta de readiness.
type HealthResponse struct {
	// ready | unavailable
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentStatus `json:"components"`
}

type ComponentStatus struct {
	Status string `json:"status"`
	Driver string `json:"driver,omitempty"`
	Error  string `json:"error,omitempty"`
}
