// Package api is the HTTP edge: it adapts HTTP requests to manager and
// chat-engine operations, serves the SSE event streams, and brokers OAuth
// requests for browser clients.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mcpjam/inspector/pkg/agent"
	"github.com/mcpjam/inspector/pkg/config"
	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/mcp"
)

const (
	// Ambient deadlines per operation class. Chat turns carry their own
	// budget inside the engine.
	opTimeout   = 30 * time.Second
	pingTimeout = 5 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Server wires the HTTP routes to the core components. All dependencies
// are injected; nil optional ones disable their routes with a 503.
type Server struct {
	settings    *config.Settings
	manager     *mcp.Manager
	engine      *agent.Engine
	hub         *events.Hub
	connManager *events.ConnectionManager
	health      *mcp.HealthMonitor

	echo       *echo.Echo
	httpServer *http.Server
	oauth      *oauthProxy
	logger     *slog.Logger
}

// NewServer builds the edge and registers all routes.
func NewServer(
	settings *config.Settings,
	manager *mcp.Manager,
	engine *agent.Engine,
	hub *events.Hub,
	connManager *events.ConnectionManager,
	health *mcp.HealthMonitor,
) *Server {
	s := &Server{
		settings:    settings,
		manager:     manager,
		engine:      engine,
		hub:         hub,
		connManager: connManager,
		health:      health,
		echo:        echo.New(),
		oauth:       newOAuthProxy(settings.WebMode),
		logger:      slog.Default().With("component", "api"),
	}

	s.echo.Use(requestLogger())
	s.echo.Use(securityHeaders())
	if len(settings.CORSOrigins) > 0 {
		s.echo.Use(corsMiddleware(settings.CORSOrigins))
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.healthHandler)

	// Server lifecycle.
	e.POST("/servers", s.addServerHandler)
	e.GET("/servers", s.listServersHandler)
	e.GET("/servers/:id", s.getServerHandler)
	e.DELETE("/servers/:id", s.removeServerHandler)
	e.POST("/servers/:id/reconnect", s.reconnectServerHandler)
	e.POST("/servers/:id/disconnect", s.disconnectServerHandler)
	e.POST("/servers/:id/ping", s.pingServerHandler)
	e.POST("/servers/:id/loglevel", s.setLogLevelHandler)

	// Session operations.
	e.POST("/tools/list", s.listToolsHandler)
	e.POST("/tools/execute", s.executeToolHandler)
	e.POST("/resources/list", s.listResourcesHandler)
	e.POST("/resources/read", s.readResourceHandler)
	e.POST("/prompts/list", s.listPromptsHandler)
	e.POST("/prompts/get", s.getPromptHandler)

	// Elicitation broker.
	e.GET("/elicitation", s.listElicitationsHandler)
	e.POST("/elicitation/respond", s.respondElicitationHandler)

	// Chat.
	e.POST("/chat", s.chatHandler)
	e.POST("/chat/approve", s.chatApproveHandler)

	// Event streams.
	e.GET("/rpc/stream", s.streamTopicHandler(events.TopicRPCLog))
	e.GET("/elicitation/stream", s.streamTopicHandler(events.TopicElicitation))
	e.GET("/xray/stream", s.streamTopicHandler(events.TopicXRay))
	e.GET("/chat/stream", s.streamTopicHandler(events.TopicChatToken))
	e.GET("/servers/stream", s.streamTopicHandler(events.TopicServerStatus))
	e.GET("/ws/events", s.wsHandler)

	// OAuth broker.
	e.GET("/oauth/metadata", s.oauthMetadataHandler)
	e.POST("/oauth/proxy", s.oauthProxyHandler)
}

// Start begins serving on addr. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// opContext narrows a request context to the ambient operation deadline.
func opContext(c *echo.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), timeout)
}
