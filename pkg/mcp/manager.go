// Package mcp provides MCP (Model Context Protocol) client infrastructure:
// transports, client sessions, and the manager that owns them.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/mcpjam/inspector/pkg/config"
	"github.com/mcpjam/inspector/pkg/elicitation"
	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/masking"
)

// State is a server record's lifecycle state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateHandshaking   State = "handshaking"
	StateReady         State = "ready"
	StateOAuthRequired State = "oauth-required"
	StateFailed        State = "failed"
)

// ServerRecord is a point-in-time snapshot of one configured server. The
// config inside is masked; secrets never leave the manager.
type ServerRecord struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Config          config.MCPServerConfig `json:"config"`
	State           State                  `json:"state"`
	LastError       string                 `json:"lastError,omitempty"`
	RetryCount      int                    `json:"retryCount"`
	Generation      uint64                 `json:"generation"`
	Caps            Caps                   `json:"caps"`
	ProtocolVersion string                 `json:"protocolVersion,omitempty"`
	ServerName      string                 `json:"serverName,omitempty"`
	ServerVersion   string                 `json:"serverVersion,omitempty"`
}

// serverRecord is the manager-owned mutable state behind each snapshot.
// All fields are guarded by Manager.mu.
type serverRecord struct {
	id   string
	name string
	cfg  config.MCPServerConfig

	state      State
	lastError  string
	retryCount int

	// generation tags the most recent session attempt; nextGen is handed
	// out on each dial so a record's generations are strictly increasing
	// and the first session is generation 0.
	generation uint64
	nextGen    uint64

	session *Session // non-nil iff state == ready

	caps            Caps
	protocolVersion string
	serverName      string
	serverVersion   string
}

// Manager owns the set of server records and their live sessions, routes
// typed operations to them, and supervises reconnection.
// Thread-safe: operations against distinct servers never contend, and
// operations against the same ready session run concurrently relying on the
// SDK's request correlation.
type Manager struct {
	hub     *events.Hub
	masker  *masking.Service
	broker  *elicitation.Broker
	webMode bool

	mu      sync.RWMutex
	records map[string]*serverRecord

	// Tool cache, invalidated on tools/list_changed notifications and on
	// every session swap.
	toolCache   map[string][]*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	// Per-server mutex serializing connect/disconnect/remove/reconnect so
	// a record is never driven by two lifecycle operations at once.
	opMu sync.Map // serverID → *sync.Mutex

	// baseCtx scopes reconnect supervision; Close cancels it.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	closeOnce  sync.Once

	// transportFactory, when non-nil, replaces transport construction.
	// Test seam for wiring in-memory servers; see testing.go.
	transportFactory func(serverID string, cfg config.MCPServerConfig) (mcpsdk.Transport, error)

	logger *slog.Logger
}

// NewManager creates a manager publishing on hub. webMode enables the
// HTTPS-only, no-stdio transport policy.
func NewManager(hub *events.Hub, masker *masking.Service, broker *elicitation.Broker, webMode bool) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		hub:        hub,
		masker:     masker,
		broker:     broker,
		webMode:    webMode,
		records:    make(map[string]*serverRecord),
		toolCache:  make(map[string][]*mcpsdk.Tool),
		baseCtx:    ctx,
		baseCancel: cancel,
		logger:     slog.Default().With("component", "mcp-manager"),
	}
}

// AddServer registers a new server record in state disconnected. An empty id
// gets a generated one; an empty name defaults to the id. The config is
// validated structurally here; web-mode transport policy is enforced on
// connect.
func (m *Manager) AddServer(id, name string, cfg config.MCPServerConfig) (ServerRecord, error) {
	if err := cfg.Validate(); err != nil {
		return ServerRecord{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if name == "" {
		name = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[id]; exists {
		return ServerRecord{}, fmt.Errorf("%w: %q", ErrServerExists, id)
	}
	r := &serverRecord{
		id:    id,
		name:  name,
		cfg:   cfg,
		state: StateDisconnected,
	}
	m.records[id] = r
	m.logger.Info("MCP server added", "server", id, "transport", cfg.Kind())
	return m.snapshotLocked(r), nil
}

// Connect drives a record through connecting → handshaking → ready.
// Success publishes server-ready; failure records lastError, increments
// retryCount, moves the record to failed, and publishes server-error.
// Connecting an already-ready server is a no-op.
func (m *Manager) Connect(ctx context.Context, id string) (ServerRecord, error) {
	mu := m.serverMu(id)
	mu.Lock()
	defer mu.Unlock()

	err := m.connectLocked(ctx, id)
	rec, recErr := m.GetServer(id)
	if err != nil {
		return rec, err
	}
	return rec, recErr
}

// connectLocked performs the actual dial and handshake.
// Caller must hold the per-server opMu lock.
func (m *Manager) connectLocked(ctx context.Context, id string) error {
	// Check record and short-circuit if already connected (under the
	// per-server lock, no TOCTOU race).
	m.mu.Lock()
	r, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrServerNotFound, id)
	}
	if r.session != nil {
		m.mu.Unlock()
		return nil
	}
	cfg := r.cfg
	if cfg.AuthKind == config.AuthOAuth && cfg.BearerToken == "" {
		r.state = StateOAuthRequired
		r.lastError = "authorization required: no token for oauth server"
		m.mu.Unlock()
		return fmt.Errorf("%w: server %q", ErrAuthRequired, id)
	}
	r.state = StateConnecting
	gen := r.nextGen
	r.nextGen++
	r.generation = gen
	r.state = StateHandshaking
	m.mu.Unlock()

	sess, err := m.dialSession(ctx, id, gen, cfg)
	if err != nil {
		m.mu.Lock()
		retries := 0
		if r, ok := m.records[id]; ok {
			r.state = StateFailed
			r.lastError = err.Error()
			r.retryCount++
			retries = r.retryCount
		}
		m.mu.Unlock()
		m.hub.PublishServerError(id, string(StateFailed), err.Error(), retries, gen)
		m.logger.Warn("MCP server failed to connect",
			"server", id, "generation", gen, "error", err)
		return err
	}

	m.installSession(sess)
	return nil
}

// dialSession builds the transport and completes the handshake, honoring
// the test seam when installed.
func (m *Manager) dialSession(ctx context.Context, id string, gen uint64, cfg config.MCPServerConfig) (*Session, error) {
	if m.transportFactory != nil {
		transport, err := m.transportFactory(id, cfg)
		if err != nil {
			return nil, err
		}
		return connectOver(ctx, id, gen, transport, nil, m.sessionDeps())
	}
	return connectSession(ctx, id, gen, cfg, m.sessionDeps())
}

// installSession stores a freshly connected session on its record, resets
// the error bookkeeping, and starts the death watcher.
func (m *Manager) installSession(sess *Session) {
	m.mu.Lock()
	r, ok := m.records[sess.ServerID]
	if !ok {
		// Record removed while the handshake ran. Reap the orphan.
		m.mu.Unlock()
		_ = sess.Close()
		return
	}
	r.session = sess
	r.state = StateReady
	r.lastError = ""
	r.retryCount = 0
	r.generation = sess.Generation
	r.caps = sess.Caps()
	r.protocolVersion = sess.ProtocolVersion()
	r.serverName = sess.ServerName()
	r.serverVersion = sess.ServerVersion()
	m.mu.Unlock()

	m.InvalidateToolCache(sess.ServerID)
	m.hub.PublishServerReady(sess.ServerID, string(StateReady), sess.Generation)
	go m.watch(sess)
}

// sessionDeps wires session notification handlers back into the manager's
// collaborators.
func (m *Manager) sessionDeps() sessionDeps {
	return sessionDeps{
		hub:     m.hub,
		masker:  m.masker,
		broker:  m.broker,
		webMode: m.webMode,
		onToolListChanged: func(serverID string) {
			m.InvalidateToolCache(serverID)
			m.logger.Debug("Tool list changed, cache invalidated", "server", serverID)
		},
	}
}

// Disconnect closes a server's session and moves the record to
// disconnected. The record survives; open elicitations for the server are
// cancelled so blocked tool calls unwind. Disconnecting an already
// disconnected server is a no-op.
func (m *Manager) Disconnect(id string) error {
	mu := m.serverMu(id)
	mu.Lock()
	defer mu.Unlock()
	return m.disconnectLocked(id)
}

// disconnectLocked clears the session before closing it so the death
// watcher observes an explicit disconnect rather than a dead session.
// Caller must hold the per-server opMu lock.
func (m *Manager) disconnectLocked(id string) error {
	m.mu.Lock()
	r, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrServerNotFound, id)
	}
	sess := r.session
	r.session = nil
	r.state = StateDisconnected
	r.lastError = ""
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	err := sess.Close()
	m.broker.CancelForServer(id)
	m.InvalidateToolCache(id)
	m.logger.Info("MCP server disconnected", "server", id, "generation", sess.Generation)
	if err != nil {
		return fmt.Errorf("close session %q: %w", id, err)
	}
	return nil
}

// Reconnect tears down any existing session and dials a fresh generation.
func (m *Manager) Reconnect(ctx context.Context, id string) (ServerRecord, error) {
	mu := m.serverMu(id)
	mu.Lock()
	defer mu.Unlock()

	if err := m.disconnectLocked(id); err != nil && !errors.Is(err, ErrServerNotFound) {
		m.logger.Warn("Close before reconnect failed", "server", id, "error", err)
	}
	err := m.connectLocked(ctx, id)
	rec, recErr := m.GetServer(id)
	if err != nil {
		return rec, err
	}
	return rec, recErr
}

// RemoveServer disconnects a server and drops its record.
func (m *Manager) RemoveServer(id string) error {
	mu := m.serverMu(id)
	mu.Lock()
	defer mu.Unlock()

	if err := m.disconnectLocked(id); err != nil {
		if errors.Is(err, ErrServerNotFound) {
			return err
		}
		m.logger.Warn("Close during remove failed", "server", id, "error", err)
	}
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	m.opMu.Delete(id)
	m.logger.Info("MCP server removed", "server", id)
	return nil
}

// ListServers returns snapshots of all records, ordered by id.
func (m *Manager) ListServers() []ServerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, m.snapshotLocked(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetServer returns a snapshot of one record.
func (m *Manager) GetServer(id string) (ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return ServerRecord{}, fmt.Errorf("%w: %q", ErrServerNotFound, id)
	}
	return m.snapshotLocked(r), nil
}

// snapshotLocked copies a record into its public shape.
// Caller must hold m.mu (read or write).
func (m *Manager) snapshotLocked(r *serverRecord) ServerRecord {
	return ServerRecord{
		ID:              r.id,
		Name:            r.name,
		Config:          m.masker.MaskServerConfig(r.cfg),
		State:           r.state,
		LastError:       r.lastError,
		RetryCount:      r.retryCount,
		Generation:      r.generation,
		Caps:            r.caps,
		ProtocolVersion: r.protocolVersion,
		ServerName:      r.serverName,
		ServerVersion:   r.serverVersion,
	}
}

// readySession resolves a server's live session or reports why it has none.
func (m *Manager) readySession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServerNotFound, id)
	}
	if r.session == nil {
		if r.state == StateOAuthRequired {
			return nil, fmt.Errorf("%w: server %q", ErrAuthRequired, id)
		}
		return nil, fmt.Errorf("%w: server %q is %s", ErrNotConnected, id, r.state)
	}
	return r.session, nil
}

// ListTools returns one page of a server's tools. Complete single-page
// lists are cached until a list_changed notification or session swap.
func (m *Manager) ListTools(ctx context.Context, id, cursor string) (*mcpsdk.ListToolsResult, error) {
	if cursor == "" {
		// Lock ordering: never acquire m.mu while holding toolCacheMu.
		m.toolCacheMu.RLock()
		cached, ok := m.toolCache[id]
		m.toolCacheMu.RUnlock()
		if ok {
			return &mcpsdk.ListToolsResult{Tools: cached}, nil
		}
	}

	sess, err := m.readySession(id)
	if err != nil {
		return nil, err
	}
	if !sess.Caps().Tools {
		return nil, fmt.Errorf("%w: tools (server %q)", ErrFeatureNotSupported, id)
	}

	result, err := sess.ListTools(ctx, cursor)
	if err != nil {
		return nil, err
	}

	if cursor == "" && result.NextCursor == "" {
		// Nil-guard: always cache a non-nil slice so cache hits don't
		// return nil to callers.
		tools := result.Tools
		if tools == nil {
			tools = []*mcpsdk.Tool{}
		}
		m.toolCacheMu.Lock()
		m.toolCache[id] = tools
		m.toolCacheMu.Unlock()
	}
	return result, nil
}

// drainTools pages through a server's full tool list.
func (m *Manager) drainTools(ctx context.Context, id string) ([]*mcpsdk.Tool, error) {
	var tools []*mcpsdk.Tool
	cursor := ""
	for {
		result, err := m.ListTools(ctx, id, cursor)
		if err != nil {
			return nil, err
		}
		tools = append(tools, result.Tools...)
		if result.NextCursor == "" {
			return tools, nil
		}
		cursor = result.NextCursor
	}
}

// ListAllTools returns tools from the given servers, fanning the list calls
// out concurrently. An empty serverIDs means every ready server advertising
// the tools capability. Partial results are returned if some servers fail;
// an error is returned only when every server fails.
func (m *Manager) ListAllTools(ctx context.Context, serverIDs []string) (map[string][]*mcpsdk.Tool, error) {
	if len(serverIDs) == 0 {
		m.mu.RLock()
		for id, r := range m.records {
			if r.session != nil && r.caps.Tools {
				serverIDs = append(serverIDs, id)
			}
		}
		m.mu.RUnlock()
	}

	var (
		resultMu sync.Mutex
		result   = make(map[string][]*mcpsdk.Tool)
		lastErr  error
	)
	var g errgroup.Group
	for _, id := range serverIDs {
		g.Go(func() error {
			tools, err := m.drainTools(ctx, id)
			resultMu.Lock()
			defer resultMu.Unlock()
			if err != nil {
				lastErr = err
				m.logger.Warn("Failed to list tools from MCP server",
					"server", id, "error", err)
				return nil
			}
			result[id] = tools
			return nil
		})
	}
	_ = g.Wait()

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool dispatches one tools/call. Transient failures are retried once
// after a jittered backoff; if the session died, the retry resolves whatever
// session reconnect supervision has installed by then. Errors the server
// reports in-band arrive as Result.IsError, not as a Go error.
func (m *Manager) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallOutcome, error) {
	sess, err := m.readySession(req.Server)
	if err != nil {
		return nil, err
	}

	outcome, callErr := sess.CallTool(ctx, req)
	if callErr == nil {
		return outcome, nil
	}
	if ClassifyError(callErr) == NoRetry {
		return nil, callErr
	}

	m.logger.Info("MCP call failed, retrying",
		"server", req.Server, "tool", req.Tool, "error", callErr)

	// Jittered backoff before the single retry.
	wait := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sess, err = m.readySession(req.Server)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", req.Server, req.Tool, err)
	}
	outcome, callErr = sess.CallTool(ctx, req)
	if callErr != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", req.Server, req.Tool, callErr)
	}
	return outcome, nil
}

// ListResources returns one page of a server's resources.
func (m *Manager) ListResources(ctx context.Context, id, cursor string) (*mcpsdk.ListResourcesResult, error) {
	sess, err := m.readySession(id)
	if err != nil {
		return nil, err
	}
	if !sess.Caps().Resources {
		return nil, fmt.Errorf("%w: resources (server %q)", ErrFeatureNotSupported, id)
	}
	return sess.ListResources(ctx, cursor)
}

// ReadResource reads one resource by URI.
func (m *Manager) ReadResource(ctx context.Context, id, uri string) (*mcpsdk.ReadResourceResult, error) {
	sess, err := m.readySession(id)
	if err != nil {
		return nil, err
	}
	if !sess.Caps().Resources {
		return nil, fmt.Errorf("%w: resources (server %q)", ErrFeatureNotSupported, id)
	}
	return sess.ReadResource(ctx, uri)
}

// ListPrompts returns one page of a server's prompts.
func (m *Manager) ListPrompts(ctx context.Context, id, cursor string) (*mcpsdk.ListPromptsResult, error) {
	sess, err := m.readySession(id)
	if err != nil {
		return nil, err
	}
	if !sess.Caps().Prompts {
		return nil, fmt.Errorf("%w: prompts (server %q)", ErrFeatureNotSupported, id)
	}
	return sess.ListPrompts(ctx, cursor)
}

// GetPrompt renders one prompt with arguments.
func (m *Manager) GetPrompt(ctx context.Context, id, name string, args map[string]string) (*mcpsdk.GetPromptResult, error) {
	sess, err := m.readySession(id)
	if err != nil {
		return nil, err
	}
	if !sess.Caps().Prompts {
		return nil, fmt.Errorf("%w: prompts (server %q)", ErrFeatureNotSupported, id)
	}
	return sess.GetPrompt(ctx, name, args)
}

// Ping round-trips a server's session and returns the elapsed time.
func (m *Manager) Ping(ctx context.Context, id string) (time.Duration, error) {
	sess, err := m.readySession(id)
	if err != nil {
		return 0, err
	}
	return sess.Ping(ctx)
}

// SetLogLevel adjusts a server's notification log level.
func (m *Manager) SetLogLevel(ctx context.Context, id, level string) error {
	sess, err := m.readySession(id)
	if err != nil {
		return err
	}
	return sess.SetLogLevel(ctx, level)
}

// RespondToElicitation resolves an open elicitation request.
func (m *Manager) RespondToElicitation(requestID, action string, content map[string]any) error {
	return m.broker.Respond(requestID, action, content)
}

// OpenElicitations returns the currently open elicitation records.
func (m *Manager) OpenElicitations() []elicitation.Record {
	return m.broker.OpenRecords()
}

// InvalidateToolCache removes the cached tool list for a server, forcing
// the next ListTools call to re-probe it.
// Lock ordering: never acquire m.mu while holding toolCacheMu.
func (m *Manager) InvalidateToolCache(id string) {
	m.toolCacheMu.Lock()
	delete(m.toolCache, id)
	m.toolCacheMu.Unlock()
}

// watch blocks on a session until it terminates, then decides whether the
// exit was expected. One watcher goroutine runs per live session.
func (m *Manager) watch(sess *Session) {
	waitErr := sess.Wait()

	m.mu.Lock()
	r, ok := m.records[sess.ServerID]
	if !ok || r.session != sess {
		// Explicit disconnect, remove, or a newer generation already took
		// over. Stale watchers stand down.
		m.mu.Unlock()
		return
	}
	msg := "session closed by server"
	if waitErr != nil {
		msg = waitErr.Error()
	}
	if tail := sess.stderrTail(); tail != "" {
		msg = fmt.Sprintf("%s (stderr: %s)", msg, tail)
	}
	r.session = nil
	r.state = StateConnecting
	r.lastError = msg
	retries := r.retryCount
	m.mu.Unlock()

	m.broker.CancelForServer(sess.ServerID)
	m.InvalidateToolCache(sess.ServerID)
	m.hub.PublishServerError(sess.ServerID, string(StateConnecting), msg, retries, sess.Generation)
	m.logger.Warn("MCP session ended unexpectedly",
		"server", sess.ServerID, "generation", sess.Generation, "error", msg)

	m.superviseReconnect(sess.ServerID)
}

// errReconnectStopped aborts supervision when the record was removed,
// explicitly disconnected, or the manager is closing.
var errReconnectStopped = errors.New("reconnect supervision stopped")

// superviseReconnect drives the reconnect loop after an unexpected session
// death. Each attempt dials a fresh generation under the per-server lock;
// exhaustion moves the record to failed exactly once. Sessions never retry
// themselves.
func (m *Manager) superviseReconnect(id string) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ReconnectInitialInterval
	bo.Multiplier = ReconnectMultiplier
	bo.MaxInterval = ReconnectMaxInterval
	bo.RandomizationFactor = ReconnectRandomization
	bo.Reset()

	operation := func() (struct{}, error) {
		return struct{}{}, m.attemptReconnect(id)
	}

	_, err := backoff.Retry(m.baseCtx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(MaxReconnectTries),
		backoff.WithNotify(func(attemptErr error, wait time.Duration) {
			m.logger.Info("Reconnect attempt failed, backing off",
				"server", id, "wait", wait, "error", attemptErr)
		}),
	)
	if err == nil || errors.Is(err, errReconnectStopped) {
		return
	}

	// Out of attempts: the record goes to failed exactly once.
	m.mu.Lock()
	r, ok := m.records[id]
	if !ok || r.session != nil || r.state == StateDisconnected || r.state == StateFailed {
		m.mu.Unlock()
		return
	}
	r.state = StateFailed
	retries := r.retryCount
	gen := r.generation
	msg := r.lastError
	m.mu.Unlock()

	m.hub.PublishServerError(id, string(StateFailed), msg, retries, gen)
	m.logger.Error("MCP server reconnect attempts exhausted",
		"server", id, "attempts", retries)
}

// attemptReconnect performs one supervised dial. Permanent errors stop the
// backoff loop: the record vanished, an explicit disconnect intervened, or
// another path already produced a live session.
func (m *Manager) attemptReconnect(id string) error {
	mu := m.serverMu(id)
	mu.Lock()
	defer mu.Unlock()

	m.mu.Lock()
	r, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return backoff.Permanent(errReconnectStopped)
	}
	if r.session != nil {
		m.mu.Unlock()
		return nil
	}
	if r.state == StateDisconnected || r.state == StateFailed {
		m.mu.Unlock()
		return backoff.Permanent(errReconnectStopped)
	}
	cfg := r.cfg
	gen := r.nextGen
	r.nextGen++
	r.generation = gen
	r.state = StateHandshaking
	m.mu.Unlock()

	sess, err := m.dialSession(m.baseCtx, id, gen, cfg)
	if err != nil {
		m.mu.Lock()
		retries := 0
		if r, ok := m.records[id]; ok && r.session == nil {
			r.state = StateConnecting
			r.lastError = err.Error()
			r.retryCount++
			retries = r.retryCount
		}
		m.mu.Unlock()
		m.hub.PublishServerError(id, string(StateConnecting), err.Error(), retries, gen)
		return err
	}

	m.installSession(sess)
	m.logger.Info("MCP server reconnected", "server", id, "generation", gen)
	return nil
}

// serverMu returns the per-server lifecycle mutex, creating it on first use.
func (m *Manager) serverMu(id string) *sync.Mutex {
	muI, _ := m.opMu.LoadOrStore(id, &sync.Mutex{})
	return muI.(*sync.Mutex)
}

// Close shuts down all sessions and stops reconnect supervision. For stdio
// servers this reaps the subprocesses. Idempotent.
func (m *Manager) Close() error {
	var firstErr error
	m.closeOnce.Do(func() {
		m.baseCancel()

		m.mu.Lock()
		sessions := make([]*Session, 0, len(m.records))
		for _, r := range m.records {
			if r.session != nil {
				sessions = append(sessions, r.session)
				r.session = nil
			}
			r.state = StateDisconnected
		}
		m.mu.Unlock()

		for _, sess := range sessions {
			if err := sess.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close session %q: %w", sess.ServerID, err)
			}
			m.broker.CancelForServer(sess.ServerID)
		}

		// Lock ordering note: mu → toolCacheMu is safe here because no
		// other code path holds toolCacheMu while acquiring mu.
		m.toolCacheMu.Lock()
		m.toolCache = make(map[string][]*mcpsdk.Tool)
		m.toolCacheMu.Unlock()

		m.logger.Info("MCP manager closed", "sessions", len(sessions))
	})
	return firstErr
}
