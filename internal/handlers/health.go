package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inkroom/internal/monitoring"
	"github.com/charlesng35/inkroom/pkg/response"
)

// HealthHandler serves liveness and readiness reports.
type HealthHandler struct {
	manager *monitoring.HealthManager
}

func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

type healthResponse struct {
	monitoring.HealthReport
	CheckedAt time.Time `json:"checked_at"`
}

// GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	h.write(c, h.manager.Evaluate(c.Request.Context()))
}

// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	h.write(c, h.manager.EvaluateLiveness(c.Request.Context()))
}

// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	h.write(c, h.manager.EvaluateReadiness(c.Request.Context()))
}

func (h *HealthHandler) write(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if !report.Success {
		status = http.StatusServiceUnavailable
	}
	response.JSON(c, status, healthResponse{HealthReport: report, CheckedAt: time.Now().UTC()})
}
