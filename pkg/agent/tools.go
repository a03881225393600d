package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpjam/inspector/pkg/mcp"
)

// ToolDispatcher is the slice of the MCP client manager the chat engine
// needs. *mcp.Manager satisfies it.
type ToolDispatcher interface {
	// ListAllTools returns tools per server id; empty serverIDs means
	// every ready server advertising the tools capability.
	ListAllTools(ctx context.Context, serverIDs []string) (map[string][]*mcpsdk.Tool, error)

	// CallTool dispatches one tool call to a server session.
	CallTool(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallOutcome, error)
}

// Skill is a host-defined pseudo-tool. Invoking one returns its
// Instructions as the tool result; no MCP dispatch and no approval gate
// are involved.
type Skill struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
}

// skillSchema is the parameter schema every skill pseudo-tool exposes:
// skills take no arguments.
const skillSchema = `{"type":"object","properties":{}}`

// resolveTools builds the model-facing tool surface: the union of the
// selected servers' tools under namespaced names, plus skill pseudo-tools
// under their plain names. Returns the definitions and the skill lookup
// table used at dispatch time.
func resolveTools(
	ctx context.Context,
	dispatcher ToolDispatcher,
	serverIDs []string,
	skills []Skill,
) ([]ToolDefinition, map[string]Skill, error) {
	perServer, err := dispatcher.ListAllTools(ctx, serverIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve tool surface: %w", err)
	}

	var defs []ToolDefinition
	for serverID, tools := range perServer {
		for _, tool := range tools {
			defs = append(defs, ToolDefinition{
				Name:             mcp.JoinToolName(serverID, tool.Name),
				Description:      tool.Description,
				ParametersSchema: marshalSchema(tool.InputSchema),
			})
		}
	}
	// Map iteration order is random; the model sees a stable listing.
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	skillTable := make(map[string]Skill, len(skills))
	for _, sk := range skills {
		if sk.Name == "" {
			continue
		}
		if _, dup := skillTable[sk.Name]; dup {
			slog.Warn("Duplicate skill name, keeping first", "skill", sk.Name)
			continue
		}
		skillTable[sk.Name] = sk
		defs = append(defs, ToolDefinition{
			Name:             sk.Name,
			Description:      sk.Description,
			ParametersSchema: skillSchema,
		})
	}
	return defs, skillTable, nil
}

// marshalSchema serializes a tool's InputSchema to a JSON string.
func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return ""
	}
	return string(data)
}

// parseArguments decodes the model's argument JSON into the map shape the
// MCP call wants. Empty arguments become an empty object; undecodable
// arguments are an error the turn reports as a failed tool result.
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("tool arguments are not a JSON object: %w", err)
	}
	return args, nil
}

// contentText flattens an MCP tool result to text for the conversation.
// Concatenates all TextContent items; non-text content (images, embedded
// resources) is logged at debug level and skipped.
func contentText(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}
