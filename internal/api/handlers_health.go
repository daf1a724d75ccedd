// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	sessions SessionManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, sessions SessionManager) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		sessions: sessions,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	running := 0
	for _, s := range h.sessions.ListSessions() {
		if !s.Status.Terminal() {
			running++
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    h.version,
		"sessions":   running,
		"goroutines": runtime.NumGoroutine(),
	})
}
