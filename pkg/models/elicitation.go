package models

// ElicitationRespondRequest resolves one pending elicitation request.
// Content is required for accept and must satisfy the requested schema;
// decline and cancel carry no content.
type ElicitationRespondRequest struct {
	RequestID string         `json:"requestId"`
	Action    string         `json:"action"`
	Content   map[string]any `json:"content,omitempty"`
}
