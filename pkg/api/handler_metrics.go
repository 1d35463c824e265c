package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// --- Query parsing ---

// timeRange parses from/to query parameters (RFC 3339). Defaults to the
// trailing hour.
func timeRange(c *echo.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.Add(-time.Hour), now

	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp")
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp")
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "to must be after from")
	}
	return from, to, nil
}

// bucketSize parses the bucket query parameter. Defaults to five minutes.
func bucketSize(c *echo.Context) time.Duration {
	if v := c.QueryParam("bucket"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= time.Minute {
			return d
		}
	}
	return 5 * time.Minute
}

func (s *Server) telemetryReady() error {
	if s.deps.Telemetry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "telemetry not available")
	}
	return nil
}

// --- Handlers ---

// listServicesHandler handles GET /api/v1/services. Defaults to the
// trailing day so rarely invoked services still show up.
func (s *Server) listServicesHandler(c *echo.Context) error {
	if err := s.telemetryReady(); err != nil {
		return err
	}
	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now
	if c.QueryParam("from") != "" || c.QueryParam("to") != "" {
		var err error
		from, to, err = timeRange(c)
		if err != nil {
			return err
		}
	}

	services, err := s.deps.Telemetry.QueryServiceSummary(c.Request().Context(), s.tenant(), from, to)
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"services": services, "count": len(services)})
}

// functionMetricsHandler handles GET /api/v1/services/:service/functions.
func (s *Server) functionMetricsHandler(c *echo.Context) error {
	if err := s.telemetryReady(); err != nil {
		return err
	}
	from, to, err := timeRange(c)
	if err != nil {
		return err
	}
	buckets, err := s.deps.Telemetry.QueryFunctionMetrics(
		c.Request().Context(), s.tenant(), c.Param("service"), from, to, bucketSize(c))
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"buckets": buckets})
}

// requestMetricsHandler handles GET /api/v1/services/:service/requests.
func (s *Server) requestMetricsHandler(c *echo.Context) error {
	if err := s.telemetryReady(); err != nil {
		return err
	}
	from, to, err := timeRange(c)
	if err != nil {
		return err
	}
	buckets, err := s.deps.Telemetry.QueryRequestMetrics(
		c.Request().Context(), s.tenant(), c.Param("service"), from, to, bucketSize(c))
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"buckets": buckets})
}

// listTracesHandler handles GET /api/v1/services/:service/traces.
func (s *Server) listTracesHandler(c *echo.Context) error {
	if err := s.telemetryReady(); err != nil {
		return err
	}
	from, to, err := timeRange(c)
	if err != nil {
		return err
	}
	traces, err := s.deps.Telemetry.QueryTraceSummary(
		c.Request().Context(), s.tenant(), c.Param("service"), from, to, listLimit(c))
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"traces": traces, "count": len(traces)})
}

// getTraceHandler handles GET /api/v1/traces/:id.
func (s *Server) getTraceHandler(c *echo.Context) error {
	if err := s.telemetryReady(); err != nil {
		return err
	}
	spans, err := s.deps.Telemetry.QueryTrace(c.Request().Context(), s.tenant(), c.Param("id"))
	if err != nil {
		return mapStorageError(err)
	}
	if len(spans) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "trace not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"trace_id": c.Param("id"), "spans": spans})
}

// errorGroupsHandler handles GET /api/v1/services/:service/errors.
func (s *Server) errorGroupsHandler(c *echo.Context) error {
	if err := s.telemetryReady(); err != nil {
		return err
	}
	from, to, err := timeRange(c)
	if err != nil {
		return err
	}
	groups, err := s.deps.Telemetry.QueryErrorGroups(
		c.Request().Context(), s.tenant(), c.Param("service"), from, to, listLimit(c))
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"error_groups": groups, "count": len(groups)})
}

// dependencySummaryHandler handles GET /api/v1/services/:service/dependencies.
func (s *Server) dependencySummaryHandler(c *echo.Context) error {
	if err := s.telemetryReady(); err != nil {
		return err
	}
	from, to, err := timeRange(c)
	if err != nil {
		return err
	}
	deps, err := s.deps.Telemetry.QueryDependencySummary(
		c.Request().Context(), s.tenant(), c.Param("service"), from, to)
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"dependencies": deps, "count": len(deps)})
}

// deployHistoryHandler handles GET /api/v1/services/:service/deploys.
func (s *Server) deployHistoryHandler(c *echo.Context) error {
	if err := s.telemetryReady(); err != nil {
		return err
	}
	deploys, err := s.deps.Telemetry.QueryDeployHistory(
		c.Request().Context(), s.tenant(), c.Param("service"), listLimit(c))
	if err != nil {
		return mapStorageError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deploys": deploys, "count": len(deploys)})
}
