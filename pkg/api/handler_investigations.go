package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/investigator"
)

const defaultListLimit = 50

// CreateInvestigationRequest asks for a manual investigation of a described
// problem. The description becomes the investigation trigger.
type CreateInvestigationRequest struct {
	Description string `json:"description"`
}

// listLimit parses the limit query parameter with a sane default.
func listLimit(c *echo.Context) int {
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return defaultListLimit
}

// listInvestigationsHandler handles GET /api/v1/investigations.
func (s *Server) listInvestigationsHandler(c *echo.Context) error {
	if s.deps.Ops == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage not available")
	}
	invs, err := s.deps.Ops.ListInvestigations(c.Request().Context(), s.tenant(), listLimit(c))
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"investigations": invs, "count": len(invs)})
}

// getInvestigationHandler handles GET /api/v1/investigations/:id.
func (s *Server) getInvestigationHandler(c *echo.Context) error {
	if s.deps.Ops == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage not available")
	}
	inv, err := s.deps.Ops.GetInvestigation(c.Request().Context(), s.tenant(), c.Param("id"))
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

// createInvestigationHandler handles POST /api/v1/investigations. Manual
// requests go through the same budget-gated queue as automatic ones.
func (s *Server) createInvestigationHandler(c *echo.Context) error {
	if s.deps.Invest == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "investigator not available")
	}
	var req CreateInvestigationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "description is required")
	}

	e := events.New(events.SourceAPI, events.TypeManualInvestigation, s.tenant())
	e.Severity = events.SeverityUrgent
	e.Message = req.Description
	e.Data["requested_by"] = extractAuthor(c)

	switch status := s.deps.Invest.Enqueue(c.Request().Context(), e, ""); status {
	case investigator.Queued:
		return c.JSON(http.StatusAccepted, map[string]string{"status": string(status)})
	case investigator.DroppedBudget:
		return echo.NewHTTPError(http.StatusTooManyRequests, "AI budget exhausted")
	default:
		return echo.NewHTTPError(http.StatusServiceUnavailable, "investigation queue full")
	}
}
