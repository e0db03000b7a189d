package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/container"
)

// HealthChecker reports component health
type HealthChecker interface {
	Health(ctx context.Context) *container.HealthStatus
}

// Handlers contains the ops request handlers
type Handlers struct {
	health HealthChecker
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(health HealthChecker, logger Logger) *Handlers {
	return &Handlers{health: health, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string                               `json:"status"`
	Timestamp  string                               `json:"timestamp"`
	Components map[string]container.ComponentHealth `json:"components"`
}

const healthTimeout = 2 * time.Second

// HealthCheck handles GET /health. Any unhealthy component turns the
// response into a 503.
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := h.health.Health(ctx)

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: status.Components,
	}
	code := http.StatusOK
	if !status.Overall {
		response.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.logger.Error("Health check failed", "components", status.Components)
	}

	c.JSON(code, response)
}
