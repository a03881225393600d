package models

import "github.com/mcpjam/inspector/pkg/mcp"

// HealthResponse reports process liveness plus per-server probe results.
// Status is "ok" while every connected server passes its ping probe,
// "degraded" otherwise.
type HealthResponse struct {
	Status  string                       `json:"status"`
	Version string                       `json:"version"`
	Servers map[string]*mcp.HealthStatus `json:"servers,omitempty"`
}
