package events

// Event type discriminators. Every payload carries one of these in its
// "type" field so SSE and WebSocket consumers can switch without probing
// the rest of the object.
const (
	// RPC log stream.
	EventTypeRPCFrame = "rpc-frame"

	// Server lifecycle.
	EventTypeServerReady = "server-ready"
	EventTypeServerError = "server-error"

	// Elicitation lifecycle.
	EventTypeElicitationOpen   = "elicitation-open"
	EventTypeElicitationClosed = "elicitation-closed"

	// Chat turn stream — mirrored on the chat-token topic and written to
	// the originating chat response stream.
	EventTypeChatText            = "text"
	EventTypeChatReasoning       = "reasoning"
	EventTypeToolCall            = "tool-call"
	EventTypeToolResult          = "tool-result"
	EventTypeToolApprovalRequest = "tool-approval-request"
	EventTypeToolProgress        = "tool-progress"
	EventTypeChatUsage           = "usage"
	EventTypeChatError           = "error"
	EventTypeElicitationRequest  = "elicitation-request"

	// Model request captures.
	EventTypeXRay = "xray"

	// Backpressure marker injected by the hub itself.
	EventTypeDropped = "dropped"
)

// RPC frame directions, relative to the inspector.
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// Elicitation outcomes (used in ElicitationClosedPayload.Outcome).
const (
	OutcomeAccepted  = "accepted"
	OutcomeDeclined  = "declined"
	OutcomeCancelled = "cancelled"
	OutcomeExpired   = "expired"
)

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action string `json:"action"`          // "subscribe", "unsubscribe", "ping"
	Topic  string `json:"topic,omitempty"` // topic name (e.g. "rpc-log")
}
