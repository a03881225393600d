package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/mcpjam/inspector/pkg/models"
)

// addServerHandler handles POST /servers: register the config and connect
// immediately. The record is returned even when the connect fails, so the
// UI can show the failure state and offer a retry.
func (s *Server) addServerHandler(c *echo.Context) error {
	var req models.AddServerRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}

	rec, err := s.manager.AddServer(req.ID, req.Name, req.Config)
	if err != nil {
		return mapError(c, err)
	}

	ctx, cancel := opContext(c, opTimeout)
	defer cancel()
	rec, err = s.manager.Connect(ctx, rec.ID)
	if err != nil {
		s.logger.Warn("Server added but connect failed", "server", rec.ID, "error", err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// listServersHandler handles GET /servers.
func (s *Server) listServersHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.ListServers())
}

// getServerHandler handles GET /servers/:id.
func (s *Server) getServerHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return validationError(c, "server id is required")
	}
	rec, err := s.manager.GetServer(id)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// removeServerHandler handles DELETE /servers/:id.
func (s *Server) removeServerHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return validationError(c, "server id is required")
	}
	if err := s.manager.RemoveServer(id); err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "removed"})
}

// reconnectServerHandler handles POST /servers/:id/reconnect: tear down
// any live session and dial a fresh generation.
func (s *Server) reconnectServerHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return validationError(c, "server id is required")
	}
	ctx, cancel := opContext(c, opTimeout)
	defer cancel()
	rec, err := s.manager.Reconnect(ctx, id)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// disconnectServerHandler handles POST /servers/:id/disconnect. The record
// survives for a later reconnect.
func (s *Server) disconnectServerHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return validationError(c, "server id is required")
	}
	if err := s.manager.Disconnect(id); err != nil {
		return mapError(c, err)
	}
	rec, err := s.manager.GetServer(id)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// pingServerHandler handles POST /servers/:id/ping.
func (s *Server) pingServerHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return validationError(c, "server id is required")
	}
	ctx, cancel := opContext(c, pingTimeout)
	defer cancel()
	elapsed, err := s.manager.Ping(ctx, id)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"serverId":  id,
		"latencyMs": elapsed.Milliseconds(),
	})
}

// setLogLevelHandler handles POST /servers/:id/loglevel.
func (s *Server) setLogLevelHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return validationError(c, "server id is required")
	}
	var req models.SetLogLevelRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.Level == "" {
		return validationError(c, "level is required")
	}
	ctx, cancel := opContext(c, opTimeout)
	defer cancel()
	if err := s.manager.SetLogLevel(ctx, id, req.Level); err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
