package models

import "encoding/json"

// OAuthProxyRequest forwards one authorization-server request through the
// proxy, bypassing browser CORS. Method defaults to POST; the declared
// Content-Type header decides between form and JSON encoding of Body.
type OAuthProxyRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// OAuthProxyResponse mirrors the upstream response. Body is JSON-decoded
// when the upstream payload parses, raw text otherwise.
type OAuthProxyResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body,omitempty"`
}
