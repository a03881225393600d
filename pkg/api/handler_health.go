package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/mcpjam/inspector/pkg/models"
	"github.com/mcpjam/inspector/pkg/version"
)

// healthHandler reports process liveness plus per-server probe results.
// The process is "degraded" (not down) while a connected server fails its
// ping probe.
func (s *Server) healthHandler(c *echo.Context) error {
	resp := models.HealthResponse{
		Status:  "ok",
		Version: version.Full(),
	}
	if s.health != nil {
		resp.Servers = s.health.GetStatuses()
		if !s.health.IsHealthy() {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}
