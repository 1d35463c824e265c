package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// --- Request types ---

// AcknowledgeRequest optionally bounds how long the acknowledgment holds.
type AcknowledgeRequest struct {
	ExpiresInSeconds int `json:"expires_in_seconds"`
}

// MuteRequest sets how long a rule stays muted. Zero means one hour.
type MuteRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

const defaultMuteDuration = time.Hour

// --- Handlers ---

// listAlertsHandler handles GET /api/v1/alerts.
func (s *Server) listAlertsHandler(c *echo.Context) error {
	if s.deps.Engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alerting not available")
	}
	includeResolved := c.QueryParam("include_resolved") == "true"
	alerts := s.deps.Engine.ActiveAlerts(includeResolved)
	return c.JSON(http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// acknowledgeAlertHandler handles POST /api/v1/alerts/:id/acknowledge.
func (s *Server) acknowledgeAlertHandler(c *echo.Context) error {
	if s.deps.Engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alerting not available")
	}
	var req AcknowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var expiresAt *time.Time
	if req.ExpiresInSeconds > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresInSeconds) * time.Second)
		expiresAt = &t
	}
	if !s.deps.Engine.Acknowledge(c.Request().Context(), c.Param("id"), extractAuthor(c), expiresAt) {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "acknowledged"})
}

// unacknowledgeAlertHandler handles POST /api/v1/alerts/:id/unacknowledge.
func (s *Server) unacknowledgeAlertHandler(c *echo.Context) error {
	if s.deps.Engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alerting not available")
	}
	if !s.deps.Engine.Unacknowledge(c.Request().Context(), c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "active"})
}

// resolveAlertHandler handles POST /api/v1/alerts/:id/resolve.
func (s *Server) resolveAlertHandler(c *echo.Context) error {
	if s.deps.Engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alerting not available")
	}
	if !s.deps.Engine.Resolve(c.Request().Context(), c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "resolved"})
}

// listRulesHandler handles GET /api/v1/rules.
func (s *Server) listRulesHandler(c *echo.Context) error {
	if s.deps.Engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alerting not available")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"rules": s.deps.Engine.Rules(),
		"muted": s.deps.Engine.MutedRules(),
	})
}

// muteRuleHandler handles POST /api/v1/rules/:id/mute.
func (s *Server) muteRuleHandler(c *echo.Context) error {
	if s.deps.Engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alerting not available")
	}
	var req MuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	duration := defaultMuteDuration
	if req.DurationSeconds > 0 {
		duration = time.Duration(req.DurationSeconds) * time.Second
	}
	until := time.Now().Add(duration)
	if !s.deps.Engine.Mute(c.Request().Context(), c.Param("id"), extractAuthor(c), until) {
		return echo.NewHTTPError(http.StatusNotFound, "rule not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "muted", "until": until})
}

// unmuteRuleHandler handles POST /api/v1/rules/:id/unmute.
func (s *Server) unmuteRuleHandler(c *echo.Context) error {
	if s.deps.Engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alerting not available")
	}
	if !s.deps.Engine.Unmute(c.Request().Context(), c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "rule not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "unmuted"})
}
