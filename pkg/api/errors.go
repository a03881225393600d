package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/mcpjam/inspector/pkg/agent"
	"github.com/mcpjam/inspector/pkg/config"
	"github.com/mcpjam/inspector/pkg/elicitation"
	"github.com/mcpjam/inspector/pkg/llm"
	"github.com/mcpjam/inspector/pkg/mcp"
)

// Error codes surfaced on the wire as {code, message}.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeFeatureNotSupported = "FEATURE_NOT_SUPPORTED"
	CodeServerUnreachable   = "SERVER_UNREACHABLE"
	CodeTimeout             = "TIMEOUT"
	CodeInternalError       = "INTERNAL_ERROR"
)

// ErrorBody is the JSON error envelope every failed request returns.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// apiError writes a typed error response.
func apiError(c *echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorBody{Code: code, Message: message})
}

// validationError is the common 400 shape for malformed bodies and
// parameters.
func validationError(c *echo.Context, message string) error {
	return apiError(c, http.StatusBadRequest, CodeValidationError, message)
}

// mapError maps a core-layer error onto the wire taxonomy and writes the
// response. Cancelled requests produce no body: the client is gone.
func mapError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return apiError(c, http.StatusGatewayTimeout, CodeTimeout, "operation deadline exceeded")

	case errors.Is(err, mcp.ErrServerNotFound),
		errors.Is(err, elicitation.ErrNotFound),
		errors.Is(err, agent.ErrApprovalNotFound):
		return apiError(c, http.StatusNotFound, CodeNotFound, err.Error())

	case errors.Is(err, mcp.ErrServerExists):
		return apiError(c, http.StatusConflict, CodeValidationError, err.Error())

	case errors.Is(err, mcp.ErrAuthRequired):
		return apiError(c, http.StatusUnauthorized, CodeUnauthorized, err.Error())

	case errors.Is(err, mcp.ErrStdioForbidden),
		errors.Is(err, mcp.ErrInsecureURL):
		return apiError(c, http.StatusForbidden, CodeForbidden, err.Error())

	case errors.Is(err, mcp.ErrFeatureNotSupported):
		return apiError(c, http.StatusBadRequest, CodeFeatureNotSupported, err.Error())

	case errors.Is(err, mcp.ErrNotConnected):
		return apiError(c, http.StatusBadGateway, CodeServerUnreachable, err.Error())

	case errors.Is(err, config.ErrMissingRequiredField),
		errors.Is(err, config.ErrInvalidValue),
		errors.Is(err, elicitation.ErrInvalidAction),
		errors.Is(err, elicitation.ErrInvalidContent),
		errors.Is(err, agent.ErrInvalidDecision),
		errors.Is(err, agent.ErrInvalidTurn),
		errors.Is(err, llm.ErrUnknownProvider),
		errors.Is(err, llm.ErrMissingAPIKey):
		return validationError(c, err.Error())
	}

	slog.Error("Unexpected error on HTTP edge",
		"method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
	return apiError(c, http.StatusInternalServerError, CodeInternalError, "internal server error")
}
