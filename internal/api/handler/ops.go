package handler

import (
	"net/http"
	"time"

	"github.com/packgate/packgate/internal/api/models"
	"github.com/packgate/packgate/internal/api/response"
	"github.com/packgate/packgate/internal/resilience"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	supervisor *resilience.DegradationSupervisor
	version    string
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(supervisor *resilience.DegradationSupervisor, version string) *OpsHandler {
	return &OpsHandler{
		supervisor: supervisor,
		version:    version,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:  "ok",
		Version: h.version,
		Time:    time.Now(),
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - per-algorithm health, breaker
// states, and the current resource snapshot.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.supervisor.SystemHealth())
}
