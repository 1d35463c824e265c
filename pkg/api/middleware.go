package api

import (
	echo "github.com/labstack/echo/v5"
)

// securityHeaders sets hardening response headers on every route.
func securityHeaders() echo.MiddlewareFunc {
	headers := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
		"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			for k, v := range headers {
				h.Set(k, v)
			}
			return next(c)
		}
	}
}
