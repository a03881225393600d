package api

import (
	"net/http"
	"strings"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /ws/events to a WebSocket multiplexing hub topics:
// the client subscribes to topics with JSON messages and receives the same
// payloads the SSE endpoints serve.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return apiError(c, http.StatusServiceUnavailable, CodeInternalError, "WebSocket not available")
	}

	opts := &websocket.AcceptOptions{}
	if len(s.settings.CORSOrigins) > 0 {
		opts.OriginPatterns = originPatterns(s.settings.CORSOrigins)
	} else {
		// Same-origin deployments: the UI is served from this process.
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}

// originPatterns reduces configured origins to the host patterns the
// websocket library matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		patterns = append(patterns, o)
	}
	return patterns
}
