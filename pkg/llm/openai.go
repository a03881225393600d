// Package llm implements the chat engine's model drivers over the
// OpenAI-compatible chat completions protocol. OpenAI is reached at its
// default endpoint; Anthropic through its OpenAI-compatible endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mcpjam/inspector/pkg/agent"
)

// anthropicBaseURL is Anthropic's OpenAI-compatible endpoint.
const anthropicBaseURL = "https://api.anthropic.com/v1"

// streamBuffer bounds chunks in flight between the receive loop and the
// consumer.
const streamBuffer = 100

// defaultParameters stands in for tools that advertise no input schema;
// providers reject function definitions without one.
var defaultParameters = json.RawMessage(`{"type":"object"}`)

// Driver streams chat completions from one OpenAI-compatible endpoint.
// A driver is built per turn with that request's API key and never
// outlives it.
type Driver struct {
	client *openai.Client
	logger *slog.Logger
}

// NewDriver builds a driver for an endpoint. Empty baseURL means the
// OpenAI default.
func NewDriver(apiKey, baseURL string) *Driver {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Driver{
		client: openai.NewClientWithConfig(cfg),
		logger: slog.Default().With("component", "llm"),
	}
}

// Stream sends the conversation and returns the chunk stream. The
// channel closes after a DoneChunk or ErrorChunk; provider errors
// mid-stream arrive as ErrorChunk values.
func (d *Driver) Stream(ctx context.Context, input *agent.StreamInput) (<-chan agent.Chunk, error) {
	req, err := buildRequest(input)
	if err != nil {
		return nil, err
	}

	stream, err := d.client.CreateChatCompletionStream(ctx, *req)
	if err != nil {
		return nil, fmt.Errorf("create completion stream: %w", err)
	}

	chunks := make(chan agent.Chunk, streamBuffer)
	go func() {
		defer close(chunks)
		defer stream.Close()
		d.pump(ctx, stream, chunks)
	}()
	return chunks, nil
}

// pump drives the receive loop, forwarding deltas and assembling
// tool-call fragments until EOF.
func (d *Driver) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- agent.Chunk) {
	emit := func(c agent.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	assembler := newToolCallAssembler()
	finish := ""

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			msg, retryable := describe(err)
			d.logger.Warn("Model stream failed", "error", err, "retryable", retryable)
			emit(&agent.ErrorChunk{Message: msg, Retryable: retryable})
			return
		}

		if resp.Usage != nil {
			if !emit(&agent.UsageChunk{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}) {
				return
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if rc := choice.Delta.ReasoningContent; rc != "" {
			if !emit(&agent.ReasoningChunk{Content: rc}) {
				return
			}
		}
		if delta := choice.Delta.Content; delta != "" {
			if !emit(&agent.TextChunk{Content: delta}) {
				return
			}
		}
		for _, fragment := range choice.Delta.ToolCalls {
			assembler.add(fragment)
		}
		if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
			finish = mapFinish(choice.FinishReason)
		}
	}

	for _, call := range assembler.calls() {
		if !emit(&agent.ToolCallChunk{CallID: call.ID, Name: call.Name, Arguments: call.Arguments}) {
			return
		}
	}
	if finish == "" {
		finish = agent.FinishStop
	}
	emit(&agent.DoneChunk{Reason: finish})
}

// buildRequest converts a StreamInput to the wire request. Usage
// reporting is always requested so turns can account tokens.
func buildRequest(input *agent.StreamInput) (*openai.ChatCompletionRequest, error) {
	if input.Model == "" {
		return nil, errors.New("model is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(input.Messages)+1)
	if input.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: input.SystemPrompt,
		})
	}
	for _, m := range input.Messages {
		messages = append(messages, convertMessage(m))
	}

	req := &openai.ChatCompletionRequest{
		Model:         input.Model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if input.Temperature != nil {
		req.Temperature = *input.Temperature
	}
	for _, t := range input.Tools {
		parameters := defaultParameters
		if t.ParametersSchema != "" && json.Valid([]byte(t.ParametersSchema)) {
			parameters = json.RawMessage(t.ParametersSchema)
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  parameters,
			},
		})
	}
	return req, nil
}

func convertMessage(m agent.ChatMessage) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	switch m.Role {
	case agent.RoleAssistant:
		for _, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
	case agent.RoleTool:
		out.ToolCallID = m.ToolCallID
		out.Name = m.ToolName
	}
	return out
}

// toolCallAssembler reassembles streamed tool-call fragments. Providers
// split one call across many deltas: the first fragment carries the id
// and name, later fragments append argument text, all keyed by index.
type toolCallAssembler struct {
	order   []int
	byIndex map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{byIndex: make(map[int]*partialCall)}
}

func (a *toolCallAssembler) add(fragment openai.ToolCall) {
	idx := 0
	if fragment.Index != nil {
		idx = *fragment.Index
	}
	call, ok := a.byIndex[idx]
	if !ok {
		call = &partialCall{}
		a.byIndex[idx] = call
		a.order = append(a.order, idx)
	}
	if fragment.ID != "" {
		call.id = fragment.ID
	}
	if fragment.Function.Name != "" {
		call.name = fragment.Function.Name
	}
	call.args.WriteString(fragment.Function.Arguments)
}

// calls returns the finished calls in index order.
func (a *toolCallAssembler) calls() []agent.ToolCall {
	sort.Ints(a.order)
	out := make([]agent.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		c := a.byIndex[idx]
		out = append(out, agent.ToolCall{ID: c.id, Name: c.name, Arguments: c.args.String()})
	}
	return out
}

// describe maps a provider error to a message and retryability. Rate
// limits and 5xx are transient; auth and validation failures are not.
func describe(err error) (string, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		retryable := apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
		return fmt.Sprintf("provider error (HTTP %d): %s", apiErr.HTTPStatusCode, apiErr.Message), retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err.Error(), false
	}
	// Transport-level failures (reset connections, DNS) are worth a retry.
	return err.Error(), true
}

func mapFinish(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return agent.FinishToolCalls
	case openai.FinishReasonLength:
		return agent.FinishLength
	case openai.FinishReasonContentFilter:
		return agent.FinishContentFilter
	default:
		return agent.FinishStop
	}
}
