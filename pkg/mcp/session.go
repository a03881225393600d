package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpjam/inspector/pkg/config"
	"github.com/mcpjam/inspector/pkg/elicitation"
	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/masking"
	"github.com/mcpjam/inspector/pkg/version"
)

// taskMetaKey is the _meta key carrying task-result envelopes on tools/call
// results, and task options on requests.
const taskMetaKey = "io.modelcontextprotocol/task"

// Caps is the capability snapshot taken from the initialize handshake.
// Elicitation reflects the client side: this client always declares it and
// installs a handler. Tasks stays false until a task envelope proves
// support; the go-sdk's typed capabilities do not carry the draft flag.
type Caps struct {
	Tools       bool `json:"tools"`
	Resources   bool `json:"resources"`
	Prompts     bool `json:"prompts"`
	Logging     bool `json:"logging"`
	Elicitation bool `json:"elicitation"`
	Tasks       bool `json:"tasks"`
}

// ProgressUpdate is one progress notification correlated to an in-flight
// tool call.
type ProgressUpdate struct {
	Progress float64 `json:"progress"`
	Total    float64 `json:"total,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// ToolCallRequest describes one tools/call dispatch.
type ToolCallRequest struct {
	Server      string
	Tool        string
	Arguments   map[string]any
	TaskOptions map[string]any
	OnProgress  func(ProgressUpdate)
}

// ToolCallOutcome is a tools/call result. Task carries the raw task-result
// envelope when the server answered with one, so callers can opt into
// polling instead of treating Result as final content.
type ToolCallOutcome struct {
	Result *mcpsdk.CallToolResult
	Task   json.RawMessage
}

// sessionDeps carries the collaborators a Session wires its notification
// handlers to.
type sessionDeps struct {
	hub               *events.Hub
	masker            *masking.Service
	broker            *elicitation.Broker
	onToolListChanged func(serverID string)
	webMode           bool
}

// Session wraps one live SDK client session. The SDK owns the reader and
// writer tasks and request correlation; this wrapper adds the capability
// snapshot, generation tag, progress routing, and stderr diagnostics.
type Session struct {
	ServerID   string
	Generation uint64

	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
	stderr  *stderrRing // nil for http transports

	caps            Caps
	protocolVersion string
	serverName      string
	serverVersion   string

	progressMu sync.Mutex
	progress   map[string]func(ProgressUpdate)

	logger *slog.Logger
}

// connectSession dials a server and completes the MCP handshake.
func connectSession(ctx context.Context, serverID string, generation uint64, cfg config.MCPServerConfig, deps sessionDeps) (*Session, error) {
	transport, ring, err := buildTransport(cfg, deps.webMode)
	if err != nil {
		return nil, err
	}
	return connectOver(ctx, serverID, generation, transport, ring, deps)
}

// connectOver completes the MCP handshake over an already-built transport.
// The SDK performs initialize/initialized inside Connect; capability and
// version metadata are read from the negotiated result.
func connectOver(ctx context.Context, serverID string, generation uint64, transport mcpsdk.Transport, ring *stderrRing, deps sessionDeps) (*Session, error) {
	s := &Session{
		ServerID:   serverID,
		Generation: generation,
		stderr:     ring,
		progress:   make(map[string]func(ProgressUpdate)),
		logger: slog.Default().With(
			"component", "mcp-session",
			"server", serverID,
			"generation", generation),
	}

	opts := &mcpsdk.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcpsdk.ToolListChangedRequest) {
			if deps.onToolListChanged != nil {
				deps.onToolListChanged(serverID)
			}
		},
		PromptListChangedHandler: func(context.Context, *mcpsdk.PromptListChangedRequest) {
			s.logger.Debug("Server prompt list changed")
		},
		ResourceListChangedHandler: func(context.Context, *mcpsdk.ResourceListChangedRequest) {
			s.logger.Debug("Server resource list changed")
		},
		LoggingMessageHandler: func(ctx context.Context, req *mcpsdk.LoggingMessageRequest) {
			slog.Log(ctx, logLevel(req.Params.Level), "MCP server log",
				"server", serverID,
				"logger", req.Params.Logger,
				"data", req.Params.Data)
		},
		ProgressNotificationHandler: func(_ context.Context, req *mcpsdk.ProgressNotificationClientRequest) {
			s.handleProgress(req)
		},
		ElicitationHandler: func(ctx context.Context, req *mcpsdk.ElicitRequest) (*mcpsdk.ElicitResult, error) {
			return s.handleElicit(ctx, deps.broker, req)
		},
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, opts)

	initCtx, cancel := context.WithTimeout(ctx, MCPInitTimeout)
	defer cancel()

	tap := newTapTransport(transport, serverID, deps.hub, deps.masker)
	session, err := client.Connect(initCtx, tap, nil)
	if err != nil {
		// The SDK closes the underlying connection on most failure paths;
		// this guards the remaining ones (e.g. stdio child processes).
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		if tail := s.stderrTail(); tail != "" {
			return nil, fmt.Errorf("%w (stderr: %s)", err, tail)
		}
		return nil, err
	}

	s.client = client
	s.session = session
	if init := session.InitializeResult(); init != nil {
		s.protocolVersion = init.ProtocolVersion
		if init.ServerInfo != nil {
			s.serverName = init.ServerInfo.Name
			s.serverVersion = init.ServerInfo.Version
		}
		s.caps = capsFromServer(init.Capabilities)
	}

	s.logger.Info("MCP server connected",
		"protocol_version", s.protocolVersion,
		"server_name", s.serverName,
		"server_version", s.serverVersion)
	return s, nil
}

func capsFromServer(sc *mcpsdk.ServerCapabilities) Caps {
	caps := Caps{Elicitation: true}
	if sc == nil {
		return caps
	}
	caps.Tools = sc.Tools != nil
	caps.Resources = sc.Resources != nil
	caps.Prompts = sc.Prompts != nil
	caps.Logging = sc.Logging != nil
	return caps
}

// logLevel maps MCP logging levels onto slog levels.
func logLevel(level mcpsdk.LoggingLevel) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info", "notice":
		return slog.LevelInfo
	case "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Caps returns the capability snapshot from the handshake.
func (s *Session) Caps() Caps { return s.caps }

// ProtocolVersion returns the negotiated MCP protocol version.
func (s *Session) ProtocolVersion() string { return s.protocolVersion }

// ServerName returns the server's self-reported implementation name.
func (s *Session) ServerName() string { return s.serverName }

// ServerVersion returns the server's self-reported version.
func (s *Session) ServerVersion() string { return s.serverVersion }

// Wait blocks until the session terminates and returns its exit error.
func (s *Session) Wait() error { return s.session.Wait() }

// Close terminates the session. For stdio transports the SDK reaps the
// subprocess.
func (s *Session) Close() error { return s.session.Close() }

// stderrTail returns the retained subprocess stderr, empty for http
// transports.
func (s *Session) stderrTail() string {
	if s.stderr == nil {
		return ""
	}
	return s.stderr.Tail()
}

// ListTools fetches one page of the server's tools.
func (s *Session) ListTools(ctx context.Context, cursor string) (*mcpsdk.ListToolsResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	result, err := s.session.ListTools(opCtx, &mcpsdk.ListToolsParams{Cursor: cursor})
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", s.ServerID, err)
	}
	return result, nil
}

// ListResources fetches one page of the server's resources.
func (s *Session) ListResources(ctx context.Context, cursor string) (*mcpsdk.ListResourcesResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	result, err := s.session.ListResources(opCtx, &mcpsdk.ListResourcesParams{Cursor: cursor})
	if err != nil {
		return nil, fmt.Errorf("list resources from %q: %w", s.ServerID, err)
	}
	return result, nil
}

// ListPrompts fetches one page of the server's prompts.
func (s *Session) ListPrompts(ctx context.Context, cursor string) (*mcpsdk.ListPromptsResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	result, err := s.session.ListPrompts(opCtx, &mcpsdk.ListPromptsParams{Cursor: cursor})
	if err != nil {
		return nil, fmt.Errorf("list prompts from %q: %w", s.ServerID, err)
	}
	return result, nil
}

// ReadResource reads a resource by URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (*mcpsdk.ReadResourceResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	result, err := s.session.ReadResource(opCtx, &mcpsdk.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, fmt.Errorf("read resource %q from %q: %w", uri, s.ServerID, err)
	}
	return result, nil
}

// GetPrompt renders a prompt with the given arguments.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcpsdk.GetPromptResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	result, err := s.session.GetPrompt(opCtx, &mcpsdk.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("get prompt %q from %q: %w", name, s.ServerID, err)
	}
	return result, nil
}

// CallTool dispatches one tools/call. Progress notifications matching the
// call's token are routed to req.OnProgress for the duration of the call.
func (s *Session) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallOutcome, error) {
	params := &mcpsdk.CallToolParams{
		Name:      req.Tool,
		Arguments: req.Arguments,
	}
	meta := mcpsdk.Meta{}
	if req.TaskOptions != nil {
		meta[taskMetaKey] = req.TaskOptions
	}
	if req.OnProgress != nil {
		token := uuid.NewString()
		meta["progressToken"] = token
		s.progressMu.Lock()
		s.progress[token] = req.OnProgress
		s.progressMu.Unlock()
		defer func() {
			s.progressMu.Lock()
			delete(s.progress, token)
			s.progressMu.Unlock()
		}()
	}
	if len(meta) > 0 {
		params.Meta = meta
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := s.session.CallTool(opCtx, params)
	if err != nil {
		return nil, fmt.Errorf("call tool %q on %q: %w", req.Tool, s.ServerID, err)
	}

	outcome := &ToolCallOutcome{Result: result}
	if task, ok := result.Meta[taskMetaKey]; ok {
		if raw, err := json.Marshal(task); err == nil {
			outcome.Task = raw
		}
	}
	return outcome, nil
}

// Ping round-trips the session and returns the elapsed time.
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	opCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	start := time.Now()
	if err := s.session.Ping(opCtx, nil); err != nil {
		return 0, fmt.Errorf("ping %q: %w", s.ServerID, err)
	}
	return time.Since(start), nil
}

// SetLogLevel asks the server to adjust its notification log level. Gated
// on the logging capability from the handshake.
func (s *Session) SetLogLevel(ctx context.Context, level string) error {
	if !s.caps.Logging {
		return fmt.Errorf("%w: logging (server %q)", ErrFeatureNotSupported, s.ServerID)
	}
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	if err := s.session.SetLoggingLevel(opCtx, &mcpsdk.SetLoggingLevelParams{
		Level: mcpsdk.LoggingLevel(level),
	}); err != nil {
		return fmt.Errorf("set log level on %q: %w", s.ServerID, err)
	}
	return nil
}

func (s *Session) handleProgress(req *mcpsdk.ProgressNotificationClientRequest) {
	if req.Params == nil {
		return
	}
	token, ok := req.Params.ProgressToken.(string)
	if !ok {
		return
	}
	s.progressMu.Lock()
	fn := s.progress[token]
	s.progressMu.Unlock()
	if fn != nil {
		fn(ProgressUpdate{
			Progress: req.Params.Progress,
			Total:    req.Params.Total,
			Message:  req.Params.Message,
		})
	}
}

// handleElicit brokers a server's elicitation/create through the hub and
// blocks until a UI client resolves it. Expiry answers the server with a
// cancel action instead of a protocol error so tools can unwind cleanly.
func (s *Session) handleElicit(ctx context.Context, broker *elicitation.Broker, req *mcpsdk.ElicitRequest) (*mcpsdk.ElicitResult, error) {
	var message string
	var schema json.RawMessage
	if req.Params != nil {
		message = req.Params.Message
		if req.Params.RequestedSchema != nil {
			raw, err := json.Marshal(req.Params.RequestedSchema)
			if err != nil {
				return nil, fmt.Errorf("marshal requested schema: %w", err)
			}
			schema = raw
		}
	}

	res, err := broker.Open(ctx, s.ServerID, message, schema)
	if errors.Is(err, elicitation.ErrExpired) {
		return &mcpsdk.ElicitResult{Action: elicitation.ActionCancel}, nil
	}
	if err != nil {
		return nil, err
	}
	return &mcpsdk.ElicitResult{Action: res.Action, Content: res.Content}, nil
}
