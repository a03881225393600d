// Inspector server — manages MCP client sessions, streams protocol
// traffic to UI clients, and runs tool-calling chat turns against them.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mcpjam/inspector/pkg/agent"
	"github.com/mcpjam/inspector/pkg/api"
	"github.com/mcpjam/inspector/pkg/config"
	"github.com/mcpjam/inspector/pkg/elicitation"
	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/llm"
	"github.com/mcpjam/inspector/pkg/masking"
	"github.com/mcpjam/inspector/pkg/mcp"
	"github.com/mcpjam/inspector/pkg/version"
)

func main() {
	envPath := flag.String("env-file", ".env", "Path to an optional .env file")
	flag.Parse()

	// Load .env before reading the environment contract
	if err := godotenv.Load(*envPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Could not load .env file, continuing with existing environment",
				"path", *envPath, "error", err)
		}
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	settings, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: settings.LogLevel,
	})))

	slog.Info("Starting inspector",
		"version", version.Full(),
		"addr", settings.Addr(),
		"web_mode", settings.WebMode)

	ctx := context.Background()

	// 1. Core event and masking infrastructure. The hub closes last so
	// sessions tearing down can still publish their final status events.
	hub := events.NewHub()
	defer hub.Close()
	masker := masking.NewService()
	broker := elicitation.NewBroker(hub, elicitation.DefaultTimeout)

	// 2. MCP client manager
	manager := mcp.NewManager(hub, masker, broker, settings.WebMode)
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Error("Error closing MCP manager", "error", err)
		}
	}()

	// 3. Optional server preload from file
	if settings.ServersFile != "" {
		servers, err := config.LoadServersFile(settings.ServersFile)
		if err != nil {
			slog.Error("Failed to load servers file",
				"path", settings.ServersFile, "error", err)
			os.Exit(1)
		}
		for id, cfg := range servers {
			if _, err := manager.AddServer(id, id, cfg); err != nil {
				slog.Error("Failed to register preloaded server", "server_id", id, "error", err)
				os.Exit(1)
			}
			// Connect failures are non-fatal: the record stays visible in
			// failed state and the supervisor keeps retrying.
			if _, err := manager.Connect(ctx, id); err != nil {
				slog.Warn("Preloaded server failed to connect", "server_id", id, "error", err)
			}
		}
	}

	// 4. Health monitor (background goroutine)
	healthMonitor := mcp.NewHealthMonitor(manager)
	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	// 5. Chat engine
	approvals := agent.NewApprovalRegistry()
	engine := agent.NewEngine(llm.Factory(settings), manager, approvals, hub, masker)

	// 6. WebSocket connection manager
	connManager := events.NewConnectionManager(hub, events.DefaultWriteTimeout)

	// 7. HTTP server (non-blocking start)
	httpServer := api.NewServer(settings, manager, engine, hub, connManager, healthMonitor)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", settings.Addr())
		if err := httpServer.Start(settings.Addr()); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting requests first; the deferred
	// stack then stops the health monitor, closes sessions, and closes
	// the hub.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
