package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/argus-obs/argus/pkg/storage"
)

// mapStorageError maps repository errors to HTTP error responses.
func mapStorageError(err error) *echo.HTTPError {
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	// Unexpected error
	slog.Error("Unexpected storage error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
