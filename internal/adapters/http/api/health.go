package api

import (
	"context"
	"net/http"
	"time"
)

// HealthDependencies defines the interface for readiness checks.
type HealthDependencies interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	deps HealthDependencies
	now  func() time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps HealthDependencies) *HealthHandler {
	return &HealthHandler{deps: deps, now: time.Now}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleHealth handles GET /healthz. It returns 503 when storage is unreachable.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp, status := h.check(r.Context())
	writeJSON(w, status, resp)
}

// HandleInfo handles GET /api.
func (h *HealthHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	resp, status := h.check(r.Context())
	resp.Message = "Event-Driven Lead Scoring API Running"
	writeJSON(w, status, resp)
}

func (h *HealthHandler) check(ctx context.Context) (healthResponse, int) {
	resp := healthResponse{Status: "ok", Store: "connected", Timestamp: h.now().UTC()}
	if err := h.deps.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = "disconnected"
		return resp, http.StatusServiceUnavailable
	}
	return resp, http.StatusOK
}
