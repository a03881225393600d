package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mcpjam/inspector/pkg/agent"
	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/models"
)

// chatTurnDone is the closing frame of a chat response stream, written
// after the last engine event and before the [DONE] sentinel.
type chatTurnDone struct {
	Type   string            `json:"type"` // always "done"
	Result *agent.TurnResult `json:"result"`
}

// chatHandler handles POST /chat. The response is an SSE stream of chat
// events; the turn runs on the request context, so a client disconnect
// cancels the model stream and any in-flight tool calls.
func (s *Server) chatHandler(c *echo.Context) error {
	if s.engine == nil {
		return apiError(c, http.StatusServiceUnavailable, CodeInternalError, "chat engine not configured")
	}

	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.Provider == "" || req.Model == "" {
		return validationError(c, "provider and model are required")
	}
	if len(req.Messages) == 0 {
		return validationError(c, "messages must not be empty")
	}

	w := newSSEWriter(c)
	ctx := c.Request().Context()

	// Approval and elicitation waits can be long; keep the stream warm.
	stopKeepAlive := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sseKeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = w.KeepAlive()
			case <-stopKeepAlive:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	result, err := s.engine.Run(ctx, req.TurnRequest(), func(p events.ChatEventPayload) {
		// A failed write means the client is gone; the request context
		// cancellation tears the turn down.
		_ = w.Send(p)
	})
	close(stopKeepAlive)

	if err != nil && result == nil {
		// The turn never started (driver resolution, validation). The
		// stream is already open, so the error goes out in-band.
		_ = w.Send(events.ChatEventPayload{
			Type:      events.EventTypeChatError,
			Message:   err.Error(),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
		_ = w.SendDone()
		return nil
	}

	_ = w.Send(chatTurnDone{Type: "done", Result: result})
	_ = w.SendDone()
	return nil
}

// chatApproveHandler handles POST /chat/approve, resolving one pending
// tool approval. Each approval resolves exactly once: a second decision
// for the same id gets NOT_FOUND.
func (s *Server) chatApproveHandler(c *echo.Context) error {
	if s.engine == nil {
		return apiError(c, http.StatusServiceUnavailable, CodeInternalError, "chat engine not configured")
	}

	var req models.ChatApproveRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.ApprovalID == "" {
		return validationError(c, "approvalId is required")
	}
	if err := s.engine.Approvals().Resolve(req.ApprovalID, agent.Decision(req.Decision)); err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "resolved"})
}
