// Package events implements the in-memory publish/subscribe hub that fans
// server notifications, RPC log frames, chat stream events, and X-Ray
// captures out to SSE and WebSocket subscribers.
//
// Every topic keeps a small ring buffer replayed to new subscribers, and
// every subscriber owns a bounded queue: publishing never blocks, slow
// consumers lose oldest events first and learn about it from a drop marker
// delivered before their next event.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic names one event stream on the hub.
type Topic string

const (
	// TopicRPCLog carries every JSON-RPC frame exchanged with MCP servers.
	TopicRPCLog Topic = "rpc-log"
	// TopicElicitation carries elicitation-open / elicitation-closed events.
	TopicElicitation Topic = "elicitation"
	// TopicChatToken mirrors chat turn output for observers beyond the
	// originating HTTP response stream.
	TopicChatToken Topic = "chat-token"
	// TopicXRay carries full model request captures for debugging.
	TopicXRay Topic = "xray"
	// TopicServerStatus carries server lifecycle transitions (ready, failed,
	// reconnecting) for status displays.
	TopicServerStatus Topic = "server-status"
)

// ErrSubscriberClosed is returned by Receive after Close, or when the hub
// shuts down.
var ErrSubscriberClosed = errors.New("subscriber closed")

// ErrUnknownTopic is returned when subscribing to a topic the hub does not carry.
var ErrUnknownTopic = errors.New("unknown topic")

// topicSpec fixes per-topic queue depth and ring replay count.
type topicSpec struct {
	queueSize   int
	replayDepth int
}

// Queue sizes bound per-subscriber memory; replay depths control how much
// history late subscribers see. Elicitations are never replayed: a stale
// open event would invite responses to requests that already resolved.
var topicSpecs = map[Topic]topicSpec{
	TopicRPCLog:       {queueSize: 256, replayDepth: 3},
	TopicElicitation:  {queueSize: 64, replayDepth: 0},
	TopicChatToken:    {queueSize: 256, replayDepth: 10},
	TopicXRay:         {queueSize: 64, replayDepth: 10},
	TopicServerStatus: {queueSize: 64, replayDepth: 10},
}

// Hub is the process-wide event bus. One instance is created at startup and
// shared by the manager, the elicitation broker, the chat engine, and the
// HTTP edge.
type Hub struct {
	topics map[Topic]*topicState
}

type topicState struct {
	spec topicSpec

	mu          sync.Mutex
	ring        []json.RawMessage
	subscribers map[string]*Subscriber
	closed      bool
}

// NewHub creates a hub carrying the standard topics.
func NewHub() *Hub {
	h := &Hub{topics: make(map[Topic]*topicState, len(topicSpecs))}
	for topic, spec := range topicSpecs {
		h.topics[topic] = &topicState{
			spec:        spec,
			subscribers: make(map[string]*Subscriber),
		}
	}
	return h
}

// Subscribe attaches a new subscriber to a topic. The last replayDepth
// events are queued ahead of any live event, so replay is observed strictly
// before anything published after this call returns.
func (h *Hub) Subscribe(topic Topic) (*Subscriber, error) {
	t, ok := h.topics[topic]
	if !ok {
		return nil, ErrUnknownTopic
	}

	sub := &Subscriber{
		id:    uuid.New().String(),
		topic: topic,
		ch:    make(chan json.RawMessage, t.spec.queueSize),
		state: t,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrSubscriberClosed
	}
	for _, data := range t.ring {
		sub.ch <- data
	}
	t.subscribers[sub.id] = sub
	return sub, nil
}

// Publish marshals the payload and delivers it to every current subscriber
// of the topic. It never blocks on slow consumers. Unknown topics and
// marshal failures are silently dropped; payload types are fixed at compile
// time so neither happens outside programmer error.
func (h *Hub) Publish(topic Topic, payload any) {
	t, ok := h.topics[topic]
	if !ok {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.spec.replayDepth > 0 {
		t.ring = append(t.ring, data)
		if len(t.ring) > t.spec.replayDepth {
			t.ring = t.ring[len(t.ring)-t.spec.replayDepth:]
		}
	}
	subs := make([]*Subscriber, 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	// Queue writes happen outside the topic lock.
	for _, sub := range subs {
		sub.offer(data)
	}
}

// SubscriberCount reports the live subscriber count of a topic.
func (h *Hub) SubscriberCount(topic Topic) int {
	t, ok := h.topics[topic]
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Close terminates all topics and subscribers. Publishing after Close is a
// no-op; pending Receive calls return ErrSubscriberClosed.
func (h *Hub) Close() {
	for _, t := range h.topics {
		t.mu.Lock()
		t.closed = true
		subs := make([]*Subscriber, 0, len(t.subscribers))
		for _, sub := range t.subscribers {
			subs = append(subs, sub)
		}
		t.subscribers = make(map[string]*Subscriber)
		t.mu.Unlock()
		for _, sub := range subs {
			sub.shut()
		}
	}
}

func (t *topicState) remove(id string) {
	t.mu.Lock()
	delete(t.subscribers, id)
	t.mu.Unlock()
}

// Subscriber is one bounded consumer of a topic. It is owned by a single
// goroutine (an SSE writer or a WebSocket pump); Receive must not be called
// concurrently.
type Subscriber struct {
	id    string
	topic Topic
	state *topicState

	ch chan json.RawMessage

	mu      sync.Mutex
	dropped int
	closed  bool

	// pending holds an event displaced by a drop marker. Consumer-side
	// only, so no lock.
	pending json.RawMessage
}

// Topic reports which topic this subscriber is attached to.
func (s *Subscriber) Topic() Topic { return s.topic }

// offer enqueues one event, evicting oldest entries when the queue is full.
// Never blocks: the eviction loop always frees a slot because s.mu excludes
// concurrent producers and consumers only ever drain.
func (s *Subscriber) offer(data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- data:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

func (s *Subscriber) takeDropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.dropped
	s.dropped = 0
	return n
}

// Receive returns the next event, blocking until one is available, the
// context is done, or the subscriber closes. When events were dropped since
// the previous delivery, a dropped-N marker is returned first and the
// triggering event is held for the following call.
func (s *Subscriber) Receive(ctx context.Context) (json.RawMessage, error) {
	if s.pending != nil {
		data := s.pending
		s.pending = nil
		return data, nil
	}
	select {
	case data, ok := <-s.ch:
		if !ok {
			return nil, ErrSubscriberClosed
		}
		if n := s.takeDropped(); n > 0 {
			s.pending = data
			marker, _ := json.Marshal(DropMarkerPayload{Type: EventTypeDropped, Count: n})
			return marker, nil
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close detaches the subscriber from its topic. Idempotent.
func (s *Subscriber) Close() {
	s.state.remove(s.id)
	s.shut()
}

func (s *Subscriber) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
