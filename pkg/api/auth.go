package api

import (
	echo "github.com/labstack/echo/v5"
)

// authorHeaders in priority order: oauth2-proxy identity first, then
// kube-rbac-proxy.
var authorHeaders = []string{"X-Forwarded-User", "X-Forwarded-Email", "X-Remote-User"}

// extractAuthor resolves the acting user from proxy identity headers,
// falling back to "api-client" for direct callers.
func extractAuthor(c *echo.Context) string {
	for _, h := range authorHeaders {
		if v := c.Request().Header.Get(h); v != "" {
			return v
		}
	}
	return "api-client"
}
