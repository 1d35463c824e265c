package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// ActionDecisionRequest approves or rejects a pending action.
type ActionDecisionRequest struct {
	Approved bool `json:"approved"`
}

// actionResponseHandler handles POST /api/v1/actions/:id/response. The REST
// path mirrors the WebSocket action_response message for clients without a
// live stream connection.
func (s *Server) actionResponseHandler(c *echo.Context) error {
	if s.deps.Actions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "actions not available")
	}
	var req ActionDecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !s.deps.Actions.HandleResponse(c.Param("id"), req.Approved, extractAuthor(c)) {
		return echo.NewHTTPError(http.StatusNotFound, "no pending action with that id")
	}
	return c.JSON(http.StatusOK, &ActionDecisionResponse{Resolved: true})
}
