package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/argus-obs/argus/pkg/database"
	"github.com/argus-obs/argus/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only argus's own components (database, investigator queue) are checked.
// The LLM provider is excluded so an upstream model outage never makes an
// orchestrator restart the agent.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.deps.DBClient != nil {
		_, err := database.Health(reqCtx, s.deps.DBClient.DB())
		if err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.deps.Invest != nil {
		snap := s.deps.Invest.Snapshot()
		if snap.QueueMax > 0 && snap.QueueDepth >= snap.QueueMax {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["investigator"] = HealthCheck{Status: healthStatusDegraded, Message: "queue full"}
		} else {
			checks["investigator"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
