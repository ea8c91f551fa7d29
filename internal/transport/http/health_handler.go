package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"fixflow/internal/license"
)

// Pinger reports storage connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports process and storage health
type HealthHandler struct {
	db      Pinger
	manager *license.Manager
	started time.Time
}

// NewHealthHandler creates the health handler
func NewHealthHandler(db Pinger, manager *license.Manager) *HealthHandler {
	return &HealthHandler{db: db, manager: manager, started: time.Now()}
}

type healthResponse struct {
	Status        string         `json:"status"`
	Database      string         `json:"database"`
	LicenseStatus license.Status `json:"license_status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

// Health answers liveness plus a cheap readiness probe
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Database:      "ok",
		LicenseStatus: h.manager.Snapshot().Status,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
