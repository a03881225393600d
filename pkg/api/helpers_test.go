package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpjam/inspector/pkg/agent"
	"github.com/mcpjam/inspector/pkg/config"
	"github.com/mcpjam/inspector/pkg/elicitation"
	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/llm"
	"github.com/mcpjam/inspector/pkg/masking"
	"github.com/mcpjam/inspector/pkg/mcp"
)

// transportFactory matches the manager's test seam.
type transportFactory func(serverID string, cfg config.MCPServerConfig) (mcpsdk.Transport, error)

// testDeps bundles the core components a handler test wires against.
type testDeps struct {
	settings *config.Settings
	hub      *events.Hub
	broker   *elicitation.Broker
	manager  *mcp.Manager
	engine   *agent.Engine
}

// newTestServer builds a Server over in-memory components. A nil factory
// refuses every dial, so lifecycle routes stay testable without spawning
// anything.
func newTestServer(factory transportFactory) (*Server, *testDeps) {
	settings := &config.Settings{Host: "127.0.0.1", Port: "0"}
	hub := events.NewHub()
	masker := masking.NewService()
	broker := elicitation.NewBroker(hub, 2*time.Second)
	if factory == nil {
		factory = func(string, config.MCPServerConfig) (mcpsdk.Transport, error) {
			return nil, errors.New("dial refused by test factory")
		}
	}
	manager := mcp.NewTestManager(hub, masker, broker, factory)

	approvals := agent.NewApprovalRegistry()
	engine := agent.NewEngine(llm.Factory(settings), manager, approvals, hub, masker)

	s := NewServer(settings, manager, engine, hub,
		events.NewConnectionManager(hub, time.Second), mcp.NewHealthMonitor(manager))
	return s, &testDeps{
		settings: settings,
		hub:      hub,
		broker:   broker,
		manager:  manager,
		engine:   engine,
	}
}

// inMemoryServerFactory dials a fresh in-memory MCP server per attempt,
// exposing the given tools.
func inMemoryServerFactory(name string, tools map[string]mcpsdk.ToolHandler) transportFactory {
	return func(string, config.MCPServerConfig) (mcpsdk.Transport, error) {
		server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "test"}, nil)
		for toolName, handler := range tools {
			server.AddTool(&mcpsdk.Tool{
				Name:        toolName,
				Description: "test tool: " + toolName,
				InputSchema: json.RawMessage(`{"type":"object"}`),
			}, handler)
		}
		clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
		go func() {
			_ = server.Run(context.Background(), serverTransport)
		}()
		return clientTransport, nil
	}
}
