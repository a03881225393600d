package mcp

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpjam/inspector/pkg/config"
	"github.com/mcpjam/inspector/pkg/elicitation"
	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/masking"
)

// NewTestManager creates a Manager whose transport construction is replaced
// by factory. This is intended for test infrastructure that wires in-memory
// MCP servers without going through the real stdio/http transport path.
// The factory is invoked on every dial, including supervised reconnects, so
// it must hand out a fresh transport each time.
func NewTestManager(hub *events.Hub, masker *masking.Service, broker *elicitation.Broker,
	factory func(serverID string, cfg config.MCPServerConfig) (mcpsdk.Transport, error)) *Manager {
	m := NewManager(hub, masker, broker, false)
	m.transportFactory = factory
	return m
}
