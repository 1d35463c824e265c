package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to the
// ConnectionManager. With no configured origin allowlist the library's
// default same-host origin check applies.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.deps.ConnManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Server.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Server.AllowedWSOrigins
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.deps.ConnManager.HandleConnection(c.Request().Context(), conn)
	return nil
}
