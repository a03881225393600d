package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/mcpjam/inspector/pkg/mcp"
	"github.com/mcpjam/inspector/pkg/models"
)

// listToolsHandler handles POST /tools/list. The pagination cursor passes
// through verbatim.
func (s *Server) listToolsHandler(c *echo.Context) error {
	var req models.ListToolsRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.ServerID == "" {
		return validationError(c, "serverId is required")
	}
	ctx, cancel := opContext(c, opTimeout)
	defer cancel()
	result, err := s.manager.ListTools(ctx, req.ServerID, req.Cursor)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// executeToolHandler handles POST /tools/execute. In-band tool errors come
// back as Result.IsError with a 200; only dispatch failures map to the
// error taxonomy. Task-augmented results carry the raw task envelope.
func (s *Server) executeToolHandler(c *echo.Context) error {
	var req models.ExecuteToolRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.ServerID == "" {
		return validationError(c, "serverId is required")
	}
	if req.ToolName == "" {
		return validationError(c, "toolName is required")
	}

	ctx, cancel := opContext(c, opTimeout)
	defer cancel()
	outcome, err := s.manager.CallTool(ctx, mcp.ToolCallRequest{
		Server:      req.ServerID,
		Tool:        req.ToolName,
		Arguments:   req.Parameters,
		TaskOptions: req.TaskOptions,
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, models.ExecuteToolResponse{
		Result: outcome.Result,
		Task:   outcome.Task,
	})
}

// listResourcesHandler handles POST /resources/list.
func (s *Server) listResourcesHandler(c *echo.Context) error {
	var req models.ListResourcesRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.ServerID == "" {
		return validationError(c, "serverId is required")
	}
	ctx, cancel := opContext(c, opTimeout)
	defer cancel()
	result, err := s.manager.ListResources(ctx, req.ServerID, req.Cursor)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// readResourceHandler handles POST /resources/read.
func (s *Server) readResourceHandler(c *echo.Context) error {
	var req models.ReadResourceRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.ServerID == "" {
		return validationError(c, "serverId is required")
	}
	if req.URI == "" {
		return validationError(c, "uri is required")
	}
	ctx, cancel := opContext(c, opTimeout)
	defer cancel()
	result, err := s.manager.ReadResource(ctx, req.ServerID, req.URI)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// listPromptsHandler handles POST /prompts/list.
func (s *Server) listPromptsHandler(c *echo.Context) error {
	var req models.ListPromptsRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.ServerID == "" {
		return validationError(c, "serverId is required")
	}
	ctx, cancel := opContext(c, opTimeout)
	defer cancel()
	result, err := s.manager.ListPrompts(ctx, req.ServerID, req.Cursor)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// getPromptHandler handles POST /prompts/get.
func (s *Server) getPromptHandler(c *echo.Context) error {
	var req models.GetPromptRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.ServerID == "" {
		return validationError(c, "serverId is required")
	}
	if req.Name == "" {
		return validationError(c, "name is required")
	}
	ctx, cancel := opContext(c, opTimeout)
	defer cancel()
	result, err := s.manager.GetPrompt(ctx, req.ServerID, req.Name, req.Arguments)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
