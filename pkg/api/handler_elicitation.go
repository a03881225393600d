package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/mcpjam/inspector/pkg/models"
)

// listElicitationsHandler handles GET /elicitation: a snapshot of the
// currently open requests, for UIs that attach after the open event.
func (s *Server) listElicitationsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.OpenElicitations())
}

// respondElicitationHandler handles POST /elicitation/respond. Exactly one
// response per request id wins; late and duplicate responses get NOT_FOUND.
// An accept whose content fails the requested schema leaves the request
// open so a corrected response can still land.
func (s *Server) respondElicitationHandler(c *echo.Context) error {
	var req models.ElicitationRespondRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.RequestID == "" {
		return validationError(c, "requestId is required")
	}
	if req.Action == "" {
		return validationError(c, "action is required")
	}
	if err := s.manager.RespondToElicitation(req.RequestID, req.Action, req.Content); err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "responded"})
}
