package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpjam/inspector/pkg/mcp"
)

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAddServer_Validation(t *testing.T) {
	s, _ := newTestServer(nil)

	tests := []struct {
		name string
		body string
	}{
		{"empty config", `{"config":{}}`},
		{"command and url both set", `{"config":{"command":"echo","url":"http://x"}}`},
		{"bad transport type", `{"config":{"command":"echo","type":"carrier-pigeon"}}`},
		{"malformed json", `{"config":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s.Handler(), http.MethodPost, "/servers", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, CodeValidationError, body.Code)
		})
	}
}

func TestAddServer_ConnectFailureStillReturnsRecord(t *testing.T) {
	// Dial refused by the factory: the server is registered, the record
	// reports failed with the dial error.
	s, _ := newTestServer(nil)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/servers",
		`{"id":"srv1","config":{"command":"unused"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var record mcp.ServerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "srv1", record.ID)
	assert.Equal(t, mcp.StateFailed, record.State)
	assert.Contains(t, record.LastError, "dial refused")
	assert.Equal(t, 1, record.RetryCount)
}

func TestServerLifecycle_EndToEnd(t *testing.T) {
	echoTool := func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		raw, _ := json.Marshal(req.Params.Arguments)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
		}, nil
	}
	s, _ := newTestServer(inMemoryServerFactory("e2e", map[string]mcpsdk.ToolHandler{
		"echo": echoTool,
	}))

	// Add + connect.
	rec := doJSON(t, s.Handler(), http.MethodPost, "/servers",
		`{"id":"srv1","name":"E2E","config":{"command":"unused"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var record mcp.ServerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, mcp.StateReady, record.State)
	assert.True(t, record.Caps.Tools)

	// List includes the record.
	rec = doJSON(t, s.Handler(), http.MethodGet, "/servers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []mcp.ServerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)

	// Tools list.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/tools/list", `{"serverId":"srv1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var toolsResult mcpsdk.ListToolsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toolsResult))
	require.Len(t, toolsResult.Tools, 1)
	assert.Equal(t, "echo", toolsResult.Tools[0].Name)

	// Tool execution round-trips the argument.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/tools/execute",
		`{"serverId":"srv1","toolName":"echo","parameters":{"text":"hi"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hi")

	// Ping succeeds against the ready session.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/servers/srv1/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Disconnect keeps the record.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/servers/srv1/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, mcp.StateDisconnected, record.State)

	// Operations against a disconnected server map to SERVER_UNREACHABLE.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/tools/list", `{"serverId":"srv1"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// Reconnect restores the session.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/servers/srv1/reconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, mcp.StateReady, record.State)

	// Remove drops the record for good.
	rec = doJSON(t, s.Handler(), http.MethodDelete, "/servers/srv1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s.Handler(), http.MethodGet, "/servers/srv1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetServer_NotFound(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/servers/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNotFound, body.Code)
}

func TestOpsHandlers_RequireServerID(t *testing.T) {
	s, _ := newTestServer(nil)

	paths := []string{"/tools/list", "/resources/list", "/prompts/list"}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := doJSON(t, s.Handler(), http.MethodPost, path, `{}`)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
