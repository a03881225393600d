package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/masking"
	"github.com/mcpjam/inspector/pkg/mcp"
)

// TurnState tracks where a chat turn is in its lifecycle.
type TurnState string

const (
	TurnIdle             TurnState = "idle"
	TurnStreaming        TurnState = "streaming"
	TurnAwaitingTool     TurnState = "awaiting-tool"
	TurnAwaitingApproval TurnState = "awaiting-approval"
	TurnDone             TurnState = "done"
	TurnErrored          TurnState = "errored"
	TurnCancelled        TurnState = "cancelled"
)

const (
	// DefaultMaxSteps bounds model→tool→model round trips per turn.
	DefaultMaxSteps = 10
	// TurnTimeout is the ambient deadline for one whole chat turn.
	TurnTimeout = 300 * time.Second
)

// ErrInvalidTurn rejects malformed turn requests before any model call.
var ErrInvalidTurn = errors.New("invalid chat turn request")

// DriverFactory resolves a provider id and API key to a model driver.
// The key is used for the driver's lifetime and never stored.
type DriverFactory func(provider, apiKey string) (ModelDriver, error)

// TurnRequest describes one chat turn.
type TurnRequest struct {
	TurnID        string        // generated when empty
	Provider      string        // model provider id ("openai", "anthropic")
	Model         string        // provider-specific model id
	APIKey        string        // per-request credential
	SystemPrompt  string        // optional system prefix
	Temperature   *float32      // nil = provider default
	MaxSteps      int           // <=0 = DefaultMaxSteps
	Messages      []ChatMessage // history; last entry is the user message
	ServerIDs     []string      // servers whose tools are exposed; empty = all ready
	Skills        []Skill       // host-defined pseudo-tools
	ApprovedTools []string      // server:tool keys auto-approved for this session
}

// TurnResult summarizes a finished turn.
type TurnResult struct {
	TurnID       string    `json:"turnId"`
	State        TurnState `json:"state"`
	FinalText    string    `json:"finalText"`
	Steps        int       `json:"steps"`
	Usage        ChatUsage `json:"usage"`
	ApprovedKeys []string  `json:"approvedKeys,omitempty"` // approve-session grants made during this turn
}

// ChatUsage is the wire shape of accumulated token usage.
type ChatUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// EmitFunc receives each chat stream event for delivery to the
// originating response stream. The engine mirrors the same events on the
// hub's chat-token topic.
type EmitFunc func(events.ChatEventPayload)

// Engine runs chat turns. One engine serves all turns; per-turn state
// lives on the turn value.
type Engine struct {
	drivers   DriverFactory
	tools     ToolDispatcher
	approvals *ApprovalRegistry
	hub       *events.Hub
	masker    *masking.Service
	logger    *slog.Logger
}

// NewEngine wires a chat engine.
func NewEngine(
	drivers DriverFactory,
	tools ToolDispatcher,
	approvals *ApprovalRegistry,
	hub *events.Hub,
	masker *masking.Service,
) *Engine {
	return &Engine{
		drivers:   drivers,
		tools:     tools,
		approvals: approvals,
		hub:       hub,
		masker:    masker,
		logger:    slog.Default().With("component", "chat-engine"),
	}
}

// Approvals exposes the registry for the /chat/approve handler.
func (e *Engine) Approvals() *ApprovalRegistry { return e.approvals }

// Run executes one chat turn to completion. Events stream to emit as they
// happen; the result reports the terminal state. Tool failures become
// synthetic error results the model can react to; only driver errors,
// the turn deadline, or cancellation end a turn early.
func (e *Engine) Run(ctx context.Context, req TurnRequest, emit EmitFunc) (*TurnResult, error) {
	if req.Provider == "" || req.Model == "" {
		return nil, fmt.Errorf("%w: provider and model are required", ErrInvalidTurn)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages must not be empty", ErrInvalidTurn)
	}
	if req.TurnID == "" {
		req.TurnID = uuid.NewString()
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = DefaultMaxSteps
	}
	if emit == nil {
		emit = func(events.ChatEventPayload) {}
	}

	driver, err := e.drivers(req.Provider, req.APIKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTurn, err)
	}

	ctx, cancel := context.WithTimeout(ctx, TurnTimeout)
	defer cancel()

	t := &turn{
		engine:   e,
		req:      req,
		driver:   driver,
		emit:     emit,
		state:    TurnIdle,
		approved: make(map[string]bool, len(req.ApprovedTools)),
	}
	for _, key := range req.ApprovedTools {
		t.approved[key] = true
	}

	e.logger.Info("Chat turn started",
		"turn_id", req.TurnID, "provider", req.Provider, "model", req.Model,
		"servers", len(req.ServerIDs), "messages", len(req.Messages))
	result, runErr := t.run(ctx)
	e.logger.Info("Chat turn finished",
		"turn_id", req.TurnID, "state", result.State, "steps", result.Steps,
		"total_tokens", result.Usage.TotalTokens)
	return result, runErr
}

// turn is the per-invocation state of one chat turn. The turn loop runs
// on a single goroutine; progress callbacks and the elicitation mirror
// emit concurrently, so event serializes through emitMu.
type turn struct {
	engine *Engine
	req    TurnRequest
	driver ModelDriver
	emit   EmitFunc
	emitMu sync.Mutex

	state       TurnState
	usage       TokenUsage
	grantedKeys []string
	approved    map[string]bool
}

func (t *turn) setState(s TurnState) {
	if t.state == s {
		return
	}
	t.engine.logger.Debug("Turn state change", "turn_id", t.req.TurnID, "from", t.state, "to", s)
	t.state = s
}

// event builds, emits, and hub-mirrors one chat stream event.
func (t *turn) event(p events.ChatEventPayload) {
	p.TurnID = t.req.TurnID
	p.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	t.emitMu.Lock()
	t.emit(p)
	t.emitMu.Unlock()
	t.engine.hub.PublishChatEvent(p)
}

func (t *turn) result() *TurnResult {
	return &TurnResult{
		TurnID: t.req.TurnID,
		State:  t.state,
		Steps:  0,
		Usage: ChatUsage{
			PromptTokens:     t.usage.PromptTokens,
			CompletionTokens: t.usage.CompletionTokens,
			TotalTokens:      t.usage.TotalTokens,
		},
		ApprovedKeys: t.grantedKeys,
	}
}

func (t *turn) run(ctx context.Context) (*TurnResult, error) {
	defs, skills, err := resolveTools(ctx, t.engine.tools, t.req.ServerIDs, t.req.Skills)
	if err != nil {
		return t.abort(ctx, 0, err)
	}

	messages := append([]ChatMessage(nil), t.req.Messages...)
	var finalText string

	for step := 1; step <= t.req.MaxSteps; step++ {
		t.setState(TurnStreaming)
		t.publishXRay(step, messages, defs)

		resp, err := t.streamStep(ctx, messages, defs)
		if err != nil {
			return t.abort(ctx, step, err)
		}
		t.usage.Add(resp.usage)
		t.engine.logger.Debug("Model step complete",
			"turn_id", t.req.TurnID, "step", step, "finish", resp.finish,
			"text_len", len(resp.text), "reasoning_len", len(resp.reasoning),
			"tool_calls", len(resp.toolCalls))

		messages = append(messages, ChatMessage{
			Role:      RoleAssistant,
			Content:   resp.text,
			ToolCalls: resp.toolCalls,
		})
		finalText = resp.text

		if len(resp.toolCalls) == 0 {
			t.setState(TurnDone)
			res := t.result()
			res.Steps = step
			res.FinalText = finalText
			return res, nil
		}

		for _, call := range resp.toolCalls {
			outcome := t.dispatch(ctx, call, skills)
			if ctx.Err() != nil {
				return t.abort(ctx, step, ctx.Err())
			}
			messages = append(messages, ChatMessage{
				Role:       RoleTool,
				Content:    outcome.content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	// Step budget exhausted: the turn ends with whatever text the model
	// produced last.
	t.setState(TurnDone)
	res := t.result()
	res.Steps = t.req.MaxSteps
	res.FinalText = finalText
	return res, nil
}

// abort classifies a turn-fatal error, emits the error event, and returns
// the terminal result.
func (t *turn) abort(ctx context.Context, step int, err error) (*TurnResult, error) {
	switch {
	case errors.Is(err, context.Canceled):
		t.setState(TurnCancelled)
	case errors.Is(err, context.DeadlineExceeded):
		t.setState(TurnErrored)
		err = fmt.Errorf("chat turn deadline exceeded: %w", err)
	default:
		t.setState(TurnErrored)
	}
	if t.state == TurnErrored {
		t.event(events.ChatEventPayload{
			Type:    events.EventTypeChatError,
			Message: err.Error(),
		})
	}
	res := t.result()
	res.Steps = step
	return res, err
}

// publishXRay captures the full outgoing model request (masked) on the
// xray topic before the invocation.
func (t *turn) publishXRay(step int, messages []ChatMessage, defs []ToolDefinition) {
	masker := t.engine.masker
	msgJSON, err := json.Marshal(messages)
	if err != nil {
		msgJSON = []byte("[]")
	}
	toolJSON, err := json.Marshal(defs)
	if err != nil {
		toolJSON = []byte("[]")
	}
	t.engine.hub.PublishXRay(events.XRayCapturePayload{
		TurnID:       t.req.TurnID,
		Step:         step,
		Provider:     t.req.Provider,
		Model:        t.req.Model,
		SystemPrompt: masker.MaskText(t.req.SystemPrompt),
		Messages:     masker.MaskFrame(msgJSON),
		Tools:        masker.MaskFrame(toolJSON),
	})
}

// stepResponse is the collected output of one model invocation.
type stepResponse struct {
	text      string
	reasoning string
	toolCalls []ToolCall
	usage     TokenUsage
	finish    string
}

// streamStep drives one model call, forwarding deltas as they arrive and
// collecting the full response.
func (t *turn) streamStep(ctx context.Context, messages []ChatMessage, defs []ToolDefinition) (*stepResponse, error) {
	// Derive a cancellable context so the driver's producer goroutine is
	// always cleaned up when we return.
	llmCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := t.driver.Stream(llmCtx, &StreamInput{
		Model:        t.req.Model,
		SystemPrompt: t.req.SystemPrompt,
		Temperature:  t.req.Temperature,
		Messages:     messages,
		Tools:        defs,
	})
	if err != nil {
		return nil, fmt.Errorf("model stream failed to start: %w", err)
	}

	resp := &stepResponse{}
	var textBuf, reasoningBuf strings.Builder
	for chunk := range stream {
		switch c := chunk.(type) {
		case *TextChunk:
			textBuf.WriteString(c.Content)
			if c.Content != "" {
				t.event(events.ChatEventPayload{Type: events.EventTypeChatText, Delta: c.Content})
			}
		case *ReasoningChunk:
			reasoningBuf.WriteString(c.Content)
			if c.Content != "" {
				t.event(events.ChatEventPayload{Type: events.EventTypeChatReasoning, Delta: c.Content})
			}
		case *ToolCallChunk:
			resp.toolCalls = append(resp.toolCalls, ToolCall{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: c.Arguments,
			})
		case *UsageChunk:
			resp.usage = TokenUsage{
				PromptTokens:     c.PromptTokens,
				CompletionTokens: c.CompletionTokens,
				TotalTokens:      c.TotalTokens,
			}
			t.event(events.ChatEventPayload{
				Type: events.EventTypeChatUsage,
				Usage: &events.ChatUsage{
					PromptTokens:     c.PromptTokens,
					CompletionTokens: c.CompletionTokens,
					TotalTokens:      c.TotalTokens,
				},
			})
		case *ErrorChunk:
			return nil, fmt.Errorf("model error: %s (retryable: %v)", c.Message, c.Retryable)
		case *DoneChunk:
			resp.finish = c.Reason
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	resp.text = textBuf.String()
	resp.reasoning = reasoningBuf.String()
	return resp, nil
}

// dispatchResult is what a tool call feeds back into the conversation.
type dispatchResult struct {
	content string
	isError bool
}

// dispatch runs one finalized tool call through approval and execution.
// Failures never abort the turn: they come back as error results the
// model can react to.
func (t *turn) dispatch(ctx context.Context, call ToolCall, skills map[string]Skill) dispatchResult {
	t.setState(TurnAwaitingTool)

	// Skill pseudo-tools resolve locally: the result is the skill's
	// instruction text, no approval and no server involved.
	if sk, ok := skills[call.Name]; ok {
		t.event(events.ChatEventPayload{
			Type:      events.EventTypeToolCall,
			CallID:    call.ID,
			ToolName:  call.Name,
			Arguments: rawArguments(call.Arguments),
		})
		t.event(events.ChatEventPayload{
			Type:   events.EventTypeToolResult,
			CallID: call.ID,
			Result: textResult(sk.Instructions),
		})
		return dispatchResult{content: sk.Instructions}
	}

	serverID, toolName, err := mcp.SplitToolName(call.Name)
	if err != nil {
		return t.failCall(call, fmt.Sprintf("unknown tool %q: %v", call.Name, err))
	}
	args, err := parseArguments(call.Arguments)
	if err != nil {
		return t.failCall(call, err.Error())
	}

	key := mcp.ApprovalKey(serverID, toolName)
	if !t.approved[key] {
		decision, err := t.requestApproval(ctx, call, serverID, key)
		if err != nil {
			return t.failCall(call, fmt.Sprintf("approval wait aborted: %v", err))
		}
		if decision == DecisionDeny {
			t.engine.logger.Info("Tool call denied",
				"turn_id", t.req.TurnID, "key", key, "call_id", call.ID)
			return t.failCall(call, "user denied")
		}
		if decision == DecisionApproveSession {
			t.approved[key] = true
			t.grantedKeys = append(t.grantedKeys, key)
		}
	}

	t.event(events.ChatEventPayload{
		Type:      events.EventTypeToolCall,
		CallID:    call.ID,
		ServerID:  serverID,
		ToolName:  call.Name,
		Arguments: rawArguments(call.Arguments),
	})

	stopMirror := t.mirrorElicitations(ctx, serverID, call.ID)
	defer stopMirror()

	outcome, callErr := t.engine.tools.CallTool(ctx, mcp.ToolCallRequest{
		Server:    serverID,
		Tool:      toolName,
		Arguments: args,
		OnProgress: func(p mcp.ProgressUpdate) {
			t.event(events.ChatEventPayload{
				Type:   events.EventTypeToolProgress,
				CallID: call.ID,
				Progress: &events.ChatProgress{
					Progress: p.Progress,
					Total:    p.Total,
					Message:  p.Message,
				},
			})
		},
	})
	if callErr != nil {
		return t.failCall(call, fmt.Sprintf("Error executing tool: %s", callErr))
	}

	text := contentText(outcome.Result)
	isError := outcome.Result != nil && outcome.Result.IsError
	t.event(events.ChatEventPayload{
		Type:    events.EventTypeToolResult,
		CallID:  call.ID,
		Result:  textResult(mcp.TruncateForEvent(text)),
		IsError: isError,
	})
	return dispatchResult{content: mcp.TruncateForModel(text), isError: isError}
}

// failCall emits a synthetic error tool-result and feeds the message back
// to the model.
func (t *turn) failCall(call ToolCall, msg string) dispatchResult {
	t.event(events.ChatEventPayload{
		Type:    events.EventTypeToolResult,
		CallID:  call.ID,
		Result:  textResult(msg),
		IsError: true,
	})
	return dispatchResult{content: msg, isError: true}
}

// requestApproval publishes a tool-approval-request and blocks until the
// user resolves it or the turn's context ends.
func (t *turn) requestApproval(ctx context.Context, call ToolCall, serverID, key string) (Decision, error) {
	t.setState(TurnAwaitingApproval)
	id := t.engine.approvals.Request(t.req.TurnID, key)
	t.event(events.ChatEventPayload{
		Type:       events.EventTypeToolApprovalRequest,
		CallID:     call.ID,
		ServerID:   serverID,
		ToolName:   call.Name,
		Arguments:  rawArguments(call.Arguments),
		ApprovalID: id,
		Message:    fmt.Sprintf("The model wants to call %s", call.Name),
	})
	return t.engine.approvals.Wait(ctx, id)
}

// mirrorElicitations forwards elicitation-open events for the dispatched
// server onto the chat stream while a tool call is in flight, so chat
// consumers can render the prompt inline without a second subscription.
func (t *turn) mirrorElicitations(ctx context.Context, serverID, callID string) func() {
	sub, err := t.engine.hub.Subscribe(events.TopicElicitation)
	if err != nil {
		return func() {}
	}
	mirrorCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			raw, err := sub.Receive(mirrorCtx)
			if err != nil {
				return
			}
			var open events.ElicitationOpenPayload
			if err := json.Unmarshal(raw, &open); err != nil {
				continue
			}
			if open.Type != events.EventTypeElicitationOpen || open.ServerID != serverID {
				continue
			}
			t.event(events.ChatEventPayload{
				Type:      events.EventTypeElicitationRequest,
				CallID:    callID,
				ServerID:  serverID,
				RequestID: open.RequestID,
				Schema:    open.Schema,
				Message:   open.Message,
			})
		}
	}()
	return func() {
		cancel()
		sub.Close()
		<-done
	}
}

// textResult wraps plain text as the JSON value carried by tool-result
// events.
func textResult(text string) json.RawMessage {
	raw, err := json.Marshal(text)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return raw
}

// rawArguments embeds the model's argument JSON in an event payload.
// Invalid JSON (a misbehaving model) is wrapped as a JSON string so the
// payload itself stays marshalable.
func rawArguments(args string) json.RawMessage {
	if args == "" {
		return nil
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	return textResult(args)
}
