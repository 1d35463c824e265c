package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/argus-obs/argus/pkg/database"
	"github.com/argus-obs/argus/pkg/version"
)

// systemStatusHandler handles GET /api/v1/system/status. Every section is
// optional; a missing collaborator simply leaves its field empty.
func (s *Server) systemStatusHandler(c *echo.Context) error {
	resp := &SystemStatusResponse{
		Mode:   s.cfg.Mode,
		Tenant: s.tenant(),
	}

	if s.deps.Budget != nil {
		snap := s.deps.Budget.Snapshot()
		resp.Budget = &snap
	}
	if s.deps.Invest != nil {
		snap := s.deps.Invest.Snapshot()
		resp.Investigator = &snap
	}
	if s.deps.Scheduler != nil {
		resp.Tasks = s.deps.Scheduler.Snapshot()
	}
	if s.deps.CollectorHealth != nil {
		resp.Collectors = s.deps.CollectorHealth()
	}
	if s.deps.ConnManager != nil {
		resp.WSConnections = s.deps.ConnManager.ActiveConnections()
	}
	if s.deps.DBClient != nil {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if health, err := database.Health(reqCtx, s.deps.DBClient.DB()); err == nil {
			resp.Database = health
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// listAuditHandler handles GET /api/v1/audit.
func (s *Server) listAuditHandler(c *echo.Context) error {
	if s.deps.Ops == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage not available")
	}
	entries, err := s.deps.Ops.ListAudit(c.Request().Context(), s.tenant(), listLimit(c))
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// versionHandler handles GET /api/v1/version.
func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &VersionResponse{
		Name:    version.AppName,
		Version: version.GitCommit,
	})
}
