package models

import "github.com/mcpjam/inspector/pkg/agent"

// ChatRequest starts one chat turn. The response is an SSE stream of
// chat events ending with a [DONE] sentinel.
type ChatRequest struct {
	Provider      string              `json:"provider"`
	Model         string              `json:"model"`
	APIKey        string              `json:"apiKey,omitempty"`
	SystemPrompt  string              `json:"systemPrompt,omitempty"`
	Temperature   *float32            `json:"temperature,omitempty"`
	MaxSteps      int                 `json:"maxSteps,omitempty"`
	Messages      []agent.ChatMessage `json:"messages"`
	ServerIDs     []string            `json:"serverIds,omitempty"`
	Skills        []agent.Skill       `json:"skills,omitempty"`
	ApprovedTools []string            `json:"approvedTools,omitempty"`
}

// TurnRequest converts the wire shape into the engine's request. The API
// key rides along for driver resolution and is never stored.
func (r ChatRequest) TurnRequest() agent.TurnRequest {
	return agent.TurnRequest{
		Provider:      r.Provider,
		Model:         r.Model,
		APIKey:        r.APIKey,
		SystemPrompt:  r.SystemPrompt,
		Temperature:   r.Temperature,
		MaxSteps:      r.MaxSteps,
		Messages:      r.Messages,
		ServerIDs:     r.ServerIDs,
		Skills:        r.Skills,
		ApprovedTools: r.ApprovedTools,
	}
}

// ChatApproveRequest resolves a pending tool approval.
type ChatApproveRequest struct {
	ApprovalID string `json:"approvalId"`
	Decision   string `json:"decision"`
}
