package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mcpjam/inspector/pkg/events"
)

const (
	// sseRetryHint tells EventSource clients how long to wait before
	// reconnecting.
	sseRetryHint = 1500 * time.Millisecond

	// sseKeepAliveInterval bounds the gap between writes so intermediaries
	// don't drop an idle stream.
	sseKeepAliveInterval = 25 * time.Second

	// sseDoneSentinel terminates chat response streams.
	sseDoneSentinel = "[DONE]"
)

// sseWriter serializes SSE frames onto one response. Safe for concurrent
// senders: chat turns emit from the turn loop, progress callbacks, and the
// elicitation mirror at once.
type sseWriter struct {
	mu sync.Mutex
	w  *echo.Response
}

// newSSEWriter sets the stream headers and sends the retry hint.
func newSSEWriter(c *echo.Context) *sseWriter {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	resp, _ := echo.UnwrapResponse(c.Response())
	s := &sseWriter{w: resp}
	s.writeRaw(fmt.Sprintf("retry: %d\n\n", sseRetryHint.Milliseconds()))
	return s
}

// Send writes one data frame. Marshal failures are dropped: payload shapes
// are fixed at compile time.
func (s *sseWriter) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return s.SendRaw(data)
}

// SendRaw writes pre-marshaled JSON as one data frame.
func (s *sseWriter) SendRaw(data []byte) error {
	return s.writeRaw("data: " + string(data) + "\n\n")
}

// SendDone writes the end-of-stream sentinel.
func (s *sseWriter) SendDone() error {
	return s.writeRaw("data: " + sseDoneSentinel + "\n\n")
}

// KeepAlive writes a comment frame.
func (s *sseWriter) KeepAlive() error {
	return s.writeRaw(": keep-alive\n\n")
}

func (s *sseWriter) writeRaw(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// streamTopicHandler serves one hub topic as an SSE stream. Ring replay
// arrives first, then live events; queue overflow surfaces as dropped-N
// markers synthesized by the hub.
func (s *Server) streamTopicHandler(topic events.Topic) echo.HandlerFunc {
	return func(c *echo.Context) error {
		sub, err := s.hub.Subscribe(topic)
		if err != nil {
			return apiError(c, http.StatusServiceUnavailable, CodeInternalError, err.Error())
		}
		defer sub.Close()

		w := newSSEWriter(c)
		ctx := c.Request().Context()

		for {
			// Bound each wait by the keep-alive interval so idle streams
			// still see periodic bytes.
			recvCtx, cancel := context.WithTimeout(ctx, sseKeepAliveInterval)
			data, err := sub.Receive(recvCtx)
			cancel()

			switch {
			case err == nil:
				if err := w.SendRaw(data); err != nil {
					return nil
				}
			case ctx.Err() != nil:
				// Client disconnected.
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				if err := w.KeepAlive(); err != nil {
					return nil
				}
			case errors.Is(err, events.ErrSubscriberClosed):
				return nil
			default:
				return nil
			}
		}
	}
}
