package events

import "encoding/json"

// RPCLogEntry is the payload for rpc-frame events. One entry is published
// per JSON-RPC frame crossing a session transport, in either direction,
// after secret masking.
type RPCLogEntry struct {
	Type      string          `json:"type"`      // always EventTypeRPCFrame
	ServerID  string          `json:"serverId"`  // owning server
	Direction string          `json:"direction"` // "out" (to server) or "in" (from server)
	Message   json.RawMessage `json:"message"`   // the raw frame, masked
	Timestamp string          `json:"timestamp"` // RFC3339Nano
}

// ServerStatusPayload is published on server lifecycle transitions:
// server-ready when a connect completes, server-error when a session dies
// or a connect attempt fails.
type ServerStatusPayload struct {
	Type       string `json:"type"`            // EventTypeServerReady or EventTypeServerError
	ServerID   string `json:"serverId"`        // server record id
	State      string `json:"state"`           // current record state
	Error      string `json:"error,omitempty"` // last error, server-error only
	RetryCount int    `json:"retryCount"`      // reconnect attempts so far
	Generation uint64 `json:"generation"`      // session generation
	Timestamp  string `json:"timestamp"`       // RFC3339Nano
}

// ElicitationOpenPayload announces a pending elicitation request. Exactly
// one responder wins; everyone else gets NOT_FOUND.
type ElicitationOpenPayload struct {
	Type      string          `json:"type"`      // always EventTypeElicitationOpen
	RequestID string          `json:"requestId"` // broker-allocated uuid
	ServerID  string          `json:"serverId"`  // requesting server
	Message   string          `json:"message"`   // human prompt from the server
	Schema    json.RawMessage `json:"schema"`    // requested JSON Schema
	Deadline  string          `json:"deadline"`  // RFC3339Nano, after which the request expires
	Timestamp string          `json:"timestamp"` // RFC3339Nano
}

// ElicitationClosedPayload reports the final outcome of an elicitation
// request: accepted, declined, cancelled, or expired.
type ElicitationClosedPayload struct {
	Type      string `json:"type"`      // always EventTypeElicitationClosed
	RequestID string `json:"requestId"` // matches the open event
	Outcome   string `json:"outcome"`   // accepted, declined, cancelled, expired
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// ChatEventPayload carries one chat turn stream event. The same objects
// are written to the originating chat response and mirrored on the
// chat-token topic for observers.
type ChatEventPayload struct {
	Type       string          `json:"type"`                 // text, reasoning, tool-call, tool-result, tool-approval-request, tool-progress, usage, error, elicitation-request
	TurnID     string          `json:"turnId"`               // chat turn uuid
	Delta      string          `json:"delta,omitempty"`      // incremental text (text, reasoning)
	CallID     string          `json:"callId,omitempty"`     // tool call correlation id
	ServerID   string          `json:"serverId,omitempty"`   // resolved target server (tool events)
	ToolName   string          `json:"toolName,omitempty"`   // namespaced tool name (tool events)
	Arguments  json.RawMessage `json:"arguments,omitempty"`  // finalized tool arguments
	Result     json.RawMessage `json:"result,omitempty"`     // tool result content
	IsError    bool            `json:"isError,omitempty"`    // tool result error flag
	ApprovalID string          `json:"approvalId,omitempty"` // pending approval id (tool-approval-request)
	RequestID  string          `json:"requestId,omitempty"`  // elicitation request id (elicitation-request)
	Schema     json.RawMessage `json:"schema,omitempty"`     // requested schema (elicitation-request)
	Progress   *ChatProgress   `json:"progress,omitempty"`   // server progress (tool-progress)
	Message    string          `json:"message,omitempty"`    // error detail, approval prompt, elicitation message
	Usage      *ChatUsage      `json:"usage,omitempty"`      // token accounting (usage only)
	Timestamp  string          `json:"timestamp"`            // RFC3339Nano
}

// ChatUsage is token accounting reported by the model provider.
type ChatUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChatProgress relays a server's progress notification for an in-flight
// tool call on the chat stream.
type ChatProgress struct {
	Progress float64 `json:"progress"`
	Total    float64 `json:"total,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// XRayCapturePayload is a debugging snapshot of the full model request,
// published before each model invocation. Secrets are masked before
// publishing.
type XRayCapturePayload struct {
	Type         string          `json:"type"`         // always EventTypeXRay
	TurnID       string          `json:"turnId"`       // chat turn uuid
	Step         int             `json:"step"`         // 1-based step within the turn
	Provider     string          `json:"provider"`     // model provider id
	Model        string          `json:"model"`        // model id
	SystemPrompt string          `json:"systemPrompt"` // effective system prompt
	Messages     json.RawMessage `json:"messages"`     // outgoing message history
	Tools        json.RawMessage `json:"tools"`        // exposed tool definitions
	Timestamp    string          `json:"timestamp"`    // RFC3339Nano
}

// DropMarkerPayload is synthesized by the hub when a subscriber's queue
// overflowed. Count is the number of events lost since its last delivery.
type DropMarkerPayload struct {
	Type  string `json:"type"` // always EventTypeDropped
	Count int    `json:"count"`
}
