package models

import (
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListToolsRequest pages one server's tool listing.
type ListToolsRequest struct {
	ServerID string `json:"serverId"`
	Cursor   string `json:"cursor,omitempty"`
}

// ExecuteToolRequest dispatches one tool call.
type ExecuteToolRequest struct {
	ServerID    string         `json:"serverId"`
	ToolName    string         `json:"toolName"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	TaskOptions map[string]any `json:"taskOptions,omitempty"`
}

// ExecuteToolResponse carries the call result and, for task-augmented
// servers, the raw task envelope callers can poll.
type ExecuteToolResponse struct {
	Result *mcpsdk.CallToolResult `json:"result"`
	Task   json.RawMessage        `json:"task,omitempty"`
}

// ListResourcesRequest pages one server's resource listing.
type ListResourcesRequest struct {
	ServerID string `json:"serverId"`
	Cursor   string `json:"cursor,omitempty"`
}

// ReadResourceRequest reads one resource by URI.
type ReadResourceRequest struct {
	ServerID string `json:"serverId"`
	URI      string `json:"uri"`
}

// ListPromptsRequest pages one server's prompt listing.
type ListPromptsRequest struct {
	ServerID string `json:"serverId"`
	Cursor   string `json:"cursor,omitempty"`
}

// GetPromptRequest renders one prompt with arguments.
type GetPromptRequest struct {
	ServerID  string            `json:"serverId"`
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}
