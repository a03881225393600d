// Package models contains the request and response shapes shared by the
// HTTP edge and the chat engine.
package models

import "github.com/mcpjam/inspector/pkg/config"

// AddServerRequest registers a new MCP server. ID and Name are optional:
// a missing id is generated, and the name defaults to the id.
type AddServerRequest struct {
	ID     string                 `json:"id,omitempty"`
	Name   string                 `json:"name,omitempty"`
	Config config.MCPServerConfig `json:"config"`
}

// SetLogLevelRequest adjusts one server's MCP logging level.
type SetLogLevelRequest struct {
	Level string `json:"level"`
}
