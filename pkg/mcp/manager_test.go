package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpjam/inspector/pkg/config"
	"github.com/mcpjam/inspector/pkg/elicitation"
	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/masking"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// stdioCfg is a structurally valid config for test servers; the fake
// transport factory never actually spawns it.
var stdioCfg = config.MCPServerConfig{Command: "unused"}

// fakeServer hands out a fresh in-memory MCP server connection per dial,
// which is what the manager's reconnect supervision needs.
type fakeServer struct {
	name  string
	tools map[string]mcpsdk.ToolHandler

	mu      sync.Mutex
	dials   int
	refuse  bool
	cancels []context.CancelFunc
}

func (f *fakeServer) factory(_ string, _ config.MCPServerConfig) (mcpsdk.Transport, error) {
	f.mu.Lock()
	f.dials++
	refuse := f.refuse
	f.mu.Unlock()
	if refuse {
		return nil, errors.New("dial refused")
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: f.name, Version: "test",
	}, nil)
	for toolName, handler := range f.tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.cancels = append(f.cancels, cancel)
	f.mu.Unlock()
	go func() {
		_ = server.Run(ctx, serverTransport)
	}()
	return clientTransport, nil
}

func (f *fakeServer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// kill severs every live server-side connection, simulating server death.
func (f *fakeServer) kill() {
	f.mu.Lock()
	cancels := f.cancels
	f.cancels = nil
	f.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// setRefuse makes subsequent dials fail at transport construction.
func (f *fakeServer) setRefuse(v bool) {
	f.mu.Lock()
	f.refuse = v
	f.mu.Unlock()
}

func echoHandler(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	raw, _ := json.Marshal(req.Params.Arguments)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}, nil
}

// testEnv bundles a manager with its collaborators.
type testEnv struct {
	hub     *events.Hub
	broker  *elicitation.Broker
	manager *Manager
}

func newTestEnv(t *testing.T, fs *fakeServer) *testEnv {
	t.Helper()
	hub := events.NewHub()
	broker := elicitation.NewBroker(hub, 5*time.Second)
	m := NewTestManager(hub, masking.NewService(), broker, fs.factory)
	t.Cleanup(func() {
		_ = m.Close()
		hub.Close()
	})
	return &testEnv{hub: hub, broker: broker, manager: m}
}

// receivePayload decodes the next event on sub into v, failing after a
// deadline rather than hanging the test.
func receivePayload(t *testing.T, sub *events.Subscriber, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := sub.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestManager_ConnectAndCallTool(t *testing.T) {
	fs := &fakeServer{name: "echo-server", tools: map[string]mcpsdk.ToolHandler{
		"echo": echoHandler,
	}}
	env := newTestEnv(t, fs)

	status, err := env.hub.Subscribe(events.TopicServerStatus)
	require.NoError(t, err)
	defer status.Close()
	rpcLog, err := env.hub.Subscribe(events.TopicRPCLog)
	require.NoError(t, err)
	defer rpcLog.Close()

	rec, err := env.manager.AddServer("echo", "Echo", stdioCfg)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, rec.State)

	rec, err = env.manager.Connect(context.Background(), "echo")
	require.NoError(t, err)
	assert.Equal(t, StateReady, rec.State)
	assert.Equal(t, uint64(0), rec.Generation, "first session is generation 0")
	assert.True(t, rec.Caps.Tools)
	assert.Equal(t, "echo-server", rec.ServerName)

	var ready events.ServerStatusPayload
	receivePayload(t, status, &ready)
	assert.Equal(t, events.EventTypeServerReady, ready.Type)
	assert.Equal(t, "echo", ready.ServerID)
	assert.Equal(t, string(StateReady), ready.State)

	outcome, err := env.manager.CallTool(context.Background(), ToolCallRequest{
		Server:    "echo",
		Tool:      "echo",
		Arguments: map[string]any{"msg": "hello"},
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.False(t, outcome.Result.IsError)
	require.Len(t, outcome.Result.Content, 1)
	tc, ok := outcome.Result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, tc.Text, "hello")

	// Every frame of the exchange lands on the rpc-log topic with a
	// direction tag. The handshake alone produces several.
	var entry events.RPCLogEntry
	receivePayload(t, rpcLog, &entry)
	assert.Equal(t, events.EventTypeRPCFrame, entry.Type)
	assert.Equal(t, "echo", entry.ServerID)
	assert.Contains(t, []string{events.DirectionOut, events.DirectionIn}, entry.Direction)
	assert.NotEmpty(t, entry.Message)
}

func TestManager_AddServer(t *testing.T) {
	env := newTestEnv(t, &fakeServer{name: "s"})

	t.Run("generates id when empty", func(t *testing.T) {
		rec, err := env.manager.AddServer("", "", stdioCfg)
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, rec.ID, rec.Name, "name defaults to id")
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		_, err := env.manager.AddServer("dup", "", stdioCfg)
		require.NoError(t, err)
		_, err = env.manager.AddServer("dup", "", stdioCfg)
		assert.ErrorIs(t, err, ErrServerExists)
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		_, err := env.manager.AddServer("bad", "", config.MCPServerConfig{})
		assert.Error(t, err)
	})

	t.Run("bearer token masked in snapshot", func(t *testing.T) {
		rec, err := env.manager.AddServer("masked", "", config.MCPServerConfig{
			URL:         "https://mcp.example.com",
			AuthKind:    config.AuthBearer,
			BearerToken: "super-secret-token-value",
		})
		require.NoError(t, err)
		assert.NotContains(t, rec.Config.BearerToken, "super-secret-token-value")
	})
}

func TestManager_ConnectIdempotent(t *testing.T) {
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{"echo": echoHandler}}
	env := newTestEnv(t, fs)

	_, err := env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)

	rec1, err := env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)
	rec2, err := env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)

	assert.Equal(t, rec1.Generation, rec2.Generation)
	assert.Equal(t, 1, fs.dialCount(), "second connect must not dial again")
}

func TestManager_ConcurrentConnect_SingleSession(t *testing.T) {
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{"echo": echoHandler}}
	env := newTestEnv(t, fs)

	_, err := env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.manager.Connect(context.Background(), "s")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fs.dialCount(), "concurrent connects must share one session")
	rec, err := env.manager.GetServer("s")
	require.NoError(t, err)
	assert.Equal(t, StateReady, rec.State)
	assert.Equal(t, uint64(0), rec.Generation)
}

func TestManager_OpsRequireReadySession(t *testing.T) {
	env := newTestEnv(t, &fakeServer{name: "s"})

	_, err := env.manager.ListTools(context.Background(), "ghost", "")
	assert.ErrorIs(t, err, ErrServerNotFound)

	_, err = env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)

	_, err = env.manager.ListTools(context.Background(), "s", "")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = env.manager.CallTool(context.Background(), ToolCallRequest{Server: "s", Tool: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = env.manager.Ping(context.Background(), "s")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_ConnectFailure(t *testing.T) {
	fs := &fakeServer{name: "s"}
	fs.setRefuse(true)
	env := newTestEnv(t, fs)

	status, err := env.hub.Subscribe(events.TopicServerStatus)
	require.NoError(t, err)
	defer status.Close()

	_, err = env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)

	rec, err := env.manager.Connect(context.Background(), "s")
	require.Error(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Contains(t, rec.LastError, "dial refused")

	var failed events.ServerStatusPayload
	receivePayload(t, status, &failed)
	assert.Equal(t, events.EventTypeServerError, failed.Type)
	assert.Equal(t, string(StateFailed), failed.State)

	// A later connect can still succeed.
	fs.setRefuse(false)
	rec, err = env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, StateReady, rec.State)
	assert.Equal(t, uint64(1), rec.Generation, "each attempt takes a fresh generation")
	assert.Zero(t, rec.RetryCount, "retry count resets on success")
}

func TestManager_ListTools_Cached(t *testing.T) {
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{"echo": echoHandler}}
	env := newTestEnv(t, fs)

	_, err := env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)
	_, err = env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)

	first, err := env.manager.ListTools(context.Background(), "s", "")
	require.NoError(t, err)
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "echo", first.Tools[0].Name)

	second, err := env.manager.ListTools(context.Background(), "s", "")
	require.NoError(t, err)
	assert.Equal(t, first.Tools, second.Tools)

	env.manager.InvalidateToolCache("s")
	third, err := env.manager.ListTools(context.Background(), "s", "")
	require.NoError(t, err)
	require.Len(t, third.Tools, 1)
}

func TestManager_ListAllTools(t *testing.T) {
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{
		"alpha": echoHandler,
		"beta":  echoHandler,
	}}
	env := newTestEnv(t, fs)

	for _, id := range []string{"one", "two"} {
		_, err := env.manager.AddServer(id, "", stdioCfg)
		require.NoError(t, err)
		_, err = env.manager.Connect(context.Background(), id)
		require.NoError(t, err)
	}

	all, err := env.manager.ListAllTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Len(t, all["one"], 2)
	assert.Len(t, all["two"], 2)
}

func TestManager_CapabilityGates(t *testing.T) {
	// The fake server registers tools only, so resources and prompts are
	// not advertised.
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{"echo": echoHandler}}
	env := newTestEnv(t, fs)

	_, err := env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)
	_, err = env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)

	_, err = env.manager.ListResources(context.Background(), "s", "")
	assert.ErrorIs(t, err, ErrFeatureNotSupported)

	_, err = env.manager.ReadResource(context.Background(), "s", "file:///x")
	assert.ErrorIs(t, err, ErrFeatureNotSupported)

	_, err = env.manager.ListPrompts(context.Background(), "s", "")
	assert.ErrorIs(t, err, ErrFeatureNotSupported)
}

func TestManager_DisconnectAndRemove(t *testing.T) {
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{"echo": echoHandler}}
	env := newTestEnv(t, fs)

	_, err := env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)
	_, err = env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)

	require.NoError(t, env.manager.Disconnect("s"))
	rec, err := env.manager.GetServer("s")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, rec.State)

	_, err = env.manager.ListTools(context.Background(), "s", "")
	assert.ErrorIs(t, err, ErrNotConnected)

	// Disconnect is idempotent and must not trigger reconnect supervision.
	require.NoError(t, env.manager.Disconnect("s"))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fs.dialCount(), "explicit disconnect must not redial")

	require.NoError(t, env.manager.RemoveServer("s"))
	_, err = env.manager.GetServer("s")
	assert.ErrorIs(t, err, ErrServerNotFound)
	assert.Empty(t, env.manager.ListServers())

	assert.ErrorIs(t, env.manager.RemoveServer("s"), ErrServerNotFound)
}

func TestManager_Reconnect_BumpsGeneration(t *testing.T) {
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{"echo": echoHandler}}
	env := newTestEnv(t, fs)

	_, err := env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)
	rec, err := env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Generation)

	rec, err = env.manager.Reconnect(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, StateReady, rec.State)
	assert.Equal(t, uint64(1), rec.Generation)
	assert.Equal(t, 2, fs.dialCount())
}

func TestManager_SessionDeath_Supervision(t *testing.T) {
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{"echo": echoHandler}}
	env := newTestEnv(t, fs)

	status, err := env.hub.Subscribe(events.TopicServerStatus)
	require.NoError(t, err)
	defer status.Close()

	_, err = env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)
	_, err = env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)

	var first events.ServerStatusPayload
	receivePayload(t, status, &first)
	require.Equal(t, events.EventTypeServerReady, first.Type)

	// Sever the connection: the watcher reports the death, supervision
	// dials generation 1.
	fs.kill()

	sawError := false
	for {
		var p events.ServerStatusPayload
		receivePayload(t, status, &p)
		if p.Type == events.EventTypeServerError {
			sawError = true
			continue
		}
		if p.Type == events.EventTypeServerReady && p.Generation >= 1 {
			break
		}
	}
	assert.True(t, sawError, "death must be announced before the reconnect")

	rec, err := env.manager.GetServer("s")
	require.NoError(t, err)
	assert.Equal(t, StateReady, rec.State)
	assert.GreaterOrEqual(t, fs.dialCount(), 2)

	// The reconnected session serves calls.
	outcome, err := env.manager.CallTool(context.Background(), ToolCallRequest{
		Server: "s", Tool: "echo", Arguments: map[string]any{"after": "reconnect"},
	})
	require.NoError(t, err)
	assert.False(t, outcome.Result.IsError)
}

func TestManager_AttemptReconnect_StopConditions(t *testing.T) {
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{"echo": echoHandler}}
	env := newTestEnv(t, fs)

	t.Run("missing record stops supervision", func(t *testing.T) {
		err := env.manager.attemptReconnect("ghost")
		assert.ErrorIs(t, err, errReconnectStopped)
	})

	t.Run("explicit disconnect stops supervision", func(t *testing.T) {
		_, err := env.manager.AddServer("stopped", "", stdioCfg)
		require.NoError(t, err)
		// Record sits in disconnected: supervision must not revive it.
		err = env.manager.attemptReconnect("stopped")
		assert.ErrorIs(t, err, errReconnectStopped)
	})

	t.Run("live session short-circuits", func(t *testing.T) {
		_, err := env.manager.AddServer("live", "", stdioCfg)
		require.NoError(t, err)
		_, err = env.manager.Connect(context.Background(), "live")
		require.NoError(t, err)
		dials := fs.dialCount()

		require.NoError(t, env.manager.attemptReconnect("live"))
		assert.Equal(t, dials, fs.dialCount(), "no dial when a session is live")
	})
}

func TestManager_OAuthRequired(t *testing.T) {
	fs := &fakeServer{name: "s"}
	env := newTestEnv(t, fs)

	_, err := env.manager.AddServer("oauth", "", config.MCPServerConfig{
		URL:      "https://mcp.example.com",
		AuthKind: config.AuthOAuth,
	})
	require.NoError(t, err)

	rec, err := env.manager.Connect(context.Background(), "oauth")
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, StateOAuthRequired, rec.State)
	assert.Zero(t, fs.dialCount(), "no dial without a token")

	_, err = env.manager.ListTools(context.Background(), "oauth", "")
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestManager_Elicitation_EndToEnd(t *testing.T) {
	confirmSchema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"confirmed": {Type: "boolean"},
		},
		Required: []string{"confirmed"},
	}
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{
		"confirm": func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			res, err := req.Session.Elicit(ctx, &mcpsdk.ElicitParams{
				Message:         "Proceed with the operation?",
				RequestedSchema: confirmSchema,
			})
			if err != nil {
				return nil, err
			}
			text := "action=" + string(res.Action)
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
			}, nil
		},
	}}
	env := newTestEnv(t, fs)

	elic, err := env.hub.Subscribe(events.TopicElicitation)
	require.NoError(t, err)
	defer elic.Close()

	_, err = env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)
	_, err = env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)

	type callResult struct {
		outcome *ToolCallOutcome
		err     error
	}
	done := make(chan callResult, 1)
	go func() {
		outcome, err := env.manager.CallTool(context.Background(), ToolCallRequest{
			Server: "s", Tool: "confirm",
		})
		done <- callResult{outcome, err}
	}()

	// The tool call blocks on the broker; the open event carries the
	// request id a responder needs.
	var open events.ElicitationOpenPayload
	receivePayload(t, elic, &open)
	require.Equal(t, events.EventTypeElicitationOpen, open.Type)
	assert.Equal(t, "s", open.ServerID)
	assert.Equal(t, "Proceed with the operation?", open.Message)
	assert.NotEmpty(t, open.RequestID)

	// Content violating the requested schema is rejected and leaves the
	// request open.
	err = env.manager.RespondToElicitation(open.RequestID, "accept", map[string]any{
		"confirmed": "yes",
	})
	assert.ErrorIs(t, err, elicitation.ErrInvalidContent)
	require.Len(t, env.manager.OpenElicitations(), 1)

	err = env.manager.RespondToElicitation(open.RequestID, "accept", map[string]any{
		"confirmed": true,
	})
	require.NoError(t, err)

	var closed events.ElicitationClosedPayload
	receivePayload(t, elic, &closed)
	assert.Equal(t, events.EventTypeElicitationClosed, closed.Type)
	assert.Equal(t, open.RequestID, closed.RequestID)
	assert.Equal(t, events.OutcomeAccepted, closed.Outcome)

	res := <-done
	require.NoError(t, res.err)
	tc, ok := res.outcome.Result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "action=accept", tc.Text)

	// A second respond on the same id loses the exactly-once race.
	err = env.manager.RespondToElicitation(open.RequestID, "decline", nil)
	assert.ErrorIs(t, err, elicitation.ErrNotFound)
}

func TestManager_Close(t *testing.T) {
	fs := &fakeServer{name: "s", tools: map[string]mcpsdk.ToolHandler{"echo": echoHandler}}
	env := newTestEnv(t, fs)

	_, err := env.manager.AddServer("s", "", stdioCfg)
	require.NoError(t, err)
	_, err = env.manager.Connect(context.Background(), "s")
	require.NoError(t, err)

	require.NoError(t, env.manager.Close())
	_, err = env.manager.ListTools(context.Background(), "s", "")
	assert.ErrorIs(t, err, ErrNotConnected)

	// Idempotent.
	require.NoError(t, env.manager.Close())
}
