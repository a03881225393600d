// Package agent drives LLM chat turns: it resolves the tool surface from
// the MCP client manager, streams model output, gates tool calls behind
// user approval, dispatches approved calls, and feeds results back until
// the model produces a final answer.
package agent

import "context"

// ModelDriver is the interface to a streaming chat-completion provider.
// Implementations live in pkg/llm.
type ModelDriver interface {
	// Stream sends a conversation to the model and returns a stream of
	// chunks. The returned channel is closed after a DoneChunk or an
	// ErrorChunk; errors mid-stream are delivered as ErrorChunk values.
	Stream(ctx context.Context, input *StreamInput) (<-chan Chunk, error)
}

// StreamInput is one model invocation: the conversation so far plus the
// tool surface bound for native function calling.
type StreamInput struct {
	Model        string
	SystemPrompt string
	Temperature  *float32
	Messages     []ChatMessage
	Tools        []ToolDefinition // nil = no tools bound
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one conversation entry.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`  // assistant messages
	ToolCallID string     `json:"toolCallId,omitempty"` // tool result messages
	ToolName   string     `json:"toolName,omitempty"`   // tool result messages
}

// ToolDefinition describes a tool exposed to the model. Name is the
// namespaced form (server__tool) so the model cannot ambiguously invoke a
// tool that exists on two servers.
type ToolDefinition struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	ParametersSchema string `json:"parametersSchema"` // JSON Schema
}

// ToolCall is the model's finalized request to call a tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON
}

// TokenUsage accumulates provider-reported token counts across the steps
// of a turn.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates another step's usage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Chunk is the sealed interface for streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText      ChunkType = "text"
	ChunkTypeReasoning ChunkType = "reasoning"
	ChunkTypeToolCall  ChunkType = "tool_call"
	ChunkTypeUsage     ChunkType = "usage"
	ChunkTypeError     ChunkType = "error"
	ChunkTypeDone      ChunkType = "done"
)

// Stream finish reasons carried by DoneChunk.
const (
	FinishStop          = "stop"
	FinishToolCalls     = "tool_calls"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
)

// TextChunk is a delta of the model's text response.
type TextChunk struct{ Content string }

// ReasoningChunk is a delta of the model's exposed reasoning stream.
type ReasoningChunk struct{ Content string }

// ToolCallChunk is a finalized tool call. Drivers assemble provider
// fragments internally and emit one chunk per complete call.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this model call.
type UsageChunk struct{ PromptTokens, CompletionTokens, TotalTokens int }

// ErrorChunk signals a provider error. Retryable marks transient
// conditions (rate limits, 5xx) a caller may retry.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

// DoneChunk terminates a healthy stream with the provider's finish reason.
type DoneChunk struct{ Reason string }

func (c *TextChunk) chunkType() ChunkType      { return ChunkTypeText }
func (c *ReasoningChunk) chunkType() ChunkType { return ChunkTypeReasoning }
func (c *ToolCallChunk) chunkType() ChunkType  { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType     { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType     { return ChunkTypeError }
func (c *DoneChunk) chunkType() ChunkType      { return ChunkTypeDone }
