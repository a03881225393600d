// Package elicitation brokers server-initiated elicitation requests to UI
// clients. A session's elicitation handler opens a record and blocks; UI
// clients observe the open event on the elicitation topic and exactly one
// of them resolves it via Respond. Records expire on a deadline timer.
package elicitation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mcpjam/inspector/pkg/events"
)

// DefaultTimeout bounds how long an open request waits for a response.
// Elicitation is human-in-the-loop, so the window is generous.
const DefaultTimeout = 5 * time.Minute

// Responder actions accepted by Respond.
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
	ActionCancel  = "cancel"
)

// Record statuses.
const (
	StatusOpen      = "open"
	StatusResponded = "responded"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Record is a snapshot of one elicitation request. Records returned by
// OpenRecords are copies; the broker's internal state never leaves it.
type Record struct {
	RequestID string          `json:"requestId"`
	ServerID  string          `json:"serverId"`
	Message   string          `json:"message"`
	Schema    json.RawMessage `json:"schema,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Deadline  time.Time       `json:"deadline"`
	Status    string          `json:"status"`
}

// Resolution is what the blocked opener receives once a responder, a
// session shutdown, or the deadline settles the request.
type Resolution struct {
	Action  string
	Content map[string]any
}

type pendingRequest struct {
	record  Record
	resolve chan Resolution // buffered 1; sent by whoever wins the take
}

// Broker owns the table of open elicitation requests and guarantees each
// resolves exactly once.
type Broker struct {
	hub     *events.Hub
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewBroker creates a broker publishing on hub. A non-positive timeout
// falls back to DefaultTimeout.
func NewBroker(hub *events.Hub, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Broker{
		hub:     hub,
		timeout: timeout,
		logger:  slog.Default().With("component", "elicitation"),
		pending: make(map[string]*pendingRequest),
	}
}

// Open registers a new elicitation request for serverID, publishes
// elicitation-open, and blocks until a responder resolves it, the session
// context ends, or the deadline fires. Expiry returns ErrExpired; a
// cancelled context cancels the record and returns the context error.
func (b *Broker) Open(ctx context.Context, serverID, message string, schema json.RawMessage) (*Resolution, error) {
	now := time.Now()
	p := &pendingRequest{
		record: Record{
			RequestID: uuid.NewString(),
			ServerID:  serverID,
			Message:   message,
			Schema:    schema,
			CreatedAt: now,
			Deadline:  now.Add(b.timeout),
			Status:    StatusOpen,
		},
		resolve: make(chan Resolution, 1),
	}

	b.mu.Lock()
	b.pending[p.record.RequestID] = p
	b.mu.Unlock()

	b.hub.PublishElicitationOpen(events.ElicitationOpenPayload{
		RequestID: p.record.RequestID,
		ServerID:  serverID,
		Message:   message,
		Schema:    schema,
		Deadline:  p.record.Deadline.UTC().Format(time.RFC3339Nano),
	})
	b.logger.Info("Elicitation opened",
		"request_id", p.record.RequestID,
		"server_id", serverID)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case res := <-p.resolve:
		return &res, nil
	case <-timer.C:
		if !b.take(p.record.RequestID) {
			// A responder won the race; its resolution is already buffered.
			res := <-p.resolve
			return &res, nil
		}
		b.hub.PublishElicitationClosed(p.record.RequestID, events.OutcomeExpired)
		b.logger.Warn("Elicitation expired",
			"request_id", p.record.RequestID,
			"server_id", serverID)
		return nil, ErrExpired
	case <-ctx.Done():
		if !b.take(p.record.RequestID) {
			res := <-p.resolve
			return &res, nil
		}
		b.hub.PublishElicitationClosed(p.record.RequestID, events.OutcomeCancelled)
		return nil, ctx.Err()
	}
}

// Respond resolves an open request. For accept, content is validated
// against the requested schema first; a validation failure leaves the
// record open so the responder can retry. Unknown, expired, or already
// resolved ids return ErrNotFound.
func (b *Broker) Respond(requestID, action string, content map[string]any) error {
	var outcome string
	switch action {
	case ActionAccept:
		outcome = events.OutcomeAccepted
	case ActionDecline:
		outcome = events.OutcomeDeclined
	case ActionCancel:
		outcome = events.OutcomeCancelled
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	b.mu.Lock()
	p, ok := b.pending[requestID]
	b.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if action == ActionAccept {
		if err := validateContent(p.record.Schema, content); err != nil {
			return err
		}
	}

	if !b.take(requestID) {
		return ErrNotFound
	}
	if action != ActionAccept {
		content = nil
	}
	p.resolve <- Resolution{Action: action, Content: content}
	b.hub.PublishElicitationClosed(requestID, outcome)
	b.logger.Info("Elicitation resolved",
		"request_id", requestID,
		"server_id", p.record.ServerID,
		"outcome", outcome)
	return nil
}

// CancelForServer cancels every open request belonging to serverID. Called
// when a session dies or is disconnected so its blocked tool calls unwind.
func (b *Broker) CancelForServer(serverID string) int {
	b.mu.Lock()
	var cancelled []*pendingRequest
	for id, p := range b.pending {
		if p.record.ServerID == serverID {
			delete(b.pending, id)
			cancelled = append(cancelled, p)
		}
	}
	b.mu.Unlock()

	for _, p := range cancelled {
		p.resolve <- Resolution{Action: ActionCancel}
		b.hub.PublishElicitationClosed(p.record.RequestID, events.OutcomeCancelled)
	}
	if len(cancelled) > 0 {
		b.logger.Info("Cancelled open elicitations for server",
			"server_id", serverID,
			"count", len(cancelled))
	}
	return len(cancelled)
}

// OpenRecords returns snapshots of all currently open requests, newest
// first.
func (b *Broker) OpenRecords() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	records := make([]Record, 0, len(b.pending))
	for _, p := range b.pending {
		records = append(records, p.record)
	}
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].CreatedAt.After(records[i].CreatedAt) {
				records[i], records[j] = records[j], records[i]
			}
		}
	}
	return records
}

// take atomically removes a request from the pending table. Exactly one
// caller wins; everyone else observes false and either reports ErrNotFound
// or drains the buffered resolution.
func (b *Broker) take(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[requestID]; !ok {
		return false
	}
	delete(b.pending, requestID)
	return true
}

// validateContent checks an accept payload against the requested JSON
// Schema. An absent schema accepts anything.
func validateContent(schema json.RawMessage, content map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	if content == nil {
		content = map[string]any{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(content),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidContent, strings.Join(details, "; "))
	}
	return nil
}
