package events

import (
	"encoding/json"
	"time"
)

// Typed publish helpers. Each stamps the payload's type discriminator and
// timestamp, then routes it to its topic. Publishing is fire-and-forget:
// the hub never blocks and delivery to lagging subscribers is best-effort
// by contract.

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// PublishRPCFrame publishes one masked JSON-RPC frame to the rpc-log topic.
// direction is DirectionOut for frames sent to the server, DirectionIn for
// frames received from it.
func (h *Hub) PublishRPCFrame(serverID, direction string, frame json.RawMessage) {
	h.Publish(TopicRPCLog, RPCLogEntry{
		Type:      EventTypeRPCFrame,
		ServerID:  serverID,
		Direction: direction,
		Message:   frame,
		Timestamp: timestamp(),
	})
}

// PublishServerReady announces a successful connect on the server-status topic.
func (h *Hub) PublishServerReady(serverID, state string, generation uint64) {
	h.Publish(TopicServerStatus, ServerStatusPayload{
		Type:       EventTypeServerReady,
		ServerID:   serverID,
		State:      state,
		Generation: generation,
		Timestamp:  timestamp(),
	})
}

// PublishServerError announces a connect failure or session death on the
// server-status topic.
func (h *Hub) PublishServerError(serverID, state, errMsg string, retryCount int, generation uint64) {
	h.Publish(TopicServerStatus, ServerStatusPayload{
		Type:       EventTypeServerError,
		ServerID:   serverID,
		State:      state,
		Error:      errMsg,
		RetryCount: retryCount,
		Generation: generation,
		Timestamp:  timestamp(),
	})
}

// PublishElicitationOpen announces a pending elicitation request. The type
// and timestamp fields are stamped here; everything else comes from the
// broker's open record.
func (h *Hub) PublishElicitationOpen(payload ElicitationOpenPayload) {
	payload.Type = EventTypeElicitationOpen
	payload.Timestamp = timestamp()
	h.Publish(TopicElicitation, payload)
}

// PublishElicitationClosed reports an elicitation request's final outcome.
func (h *Hub) PublishElicitationClosed(requestID, outcome string) {
	h.Publish(TopicElicitation, ElicitationClosedPayload{
		Type:      EventTypeElicitationClosed,
		RequestID: requestID,
		Outcome:   outcome,
		Timestamp: timestamp(),
	})
}

// PublishChatEvent mirrors one chat turn stream event on the chat-token
// topic. The caller sets the event type; the timestamp is stamped here if
// missing.
func (h *Hub) PublishChatEvent(payload ChatEventPayload) {
	if payload.Timestamp == "" {
		payload.Timestamp = timestamp()
	}
	h.Publish(TopicChatToken, payload)
}

// PublishXRay publishes a model request capture to the xray topic.
func (h *Hub) PublishXRay(payload XRayCapturePayload) {
	payload.Type = EventTypeXRay
	payload.Timestamp = timestamp()
	h.Publish(TopicXRay, payload)
}
