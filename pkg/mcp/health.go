package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthStatus captures the probe result for a single MCP server.
type HealthStatus struct {
	ServerID  string        `json:"serverId"`
	State     State         `json:"state"`
	Healthy   bool          `json:"healthy"`
	LastCheck time.Time     `json:"lastCheck"`
	Latency   time.Duration `json:"latencyMs,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// HealthMonitor periodically pings every ready session. It only observes:
// a failed probe is recorded for /health consumers, while recovery stays
// with the manager's reconnect supervision.
type HealthMonitor struct {
	manager *Manager

	checkInterval time.Duration
	pingTimeout   time.Duration

	statuses   map[string]*HealthStatus
	statusesMu sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthMonitor creates a monitor probing through manager.
func NewHealthMonitor(manager *Manager) *HealthMonitor {
	return &HealthMonitor{
		manager:       manager,
		checkInterval: HealthInterval,
		pingTimeout:   PingTimeout,
		statuses:      make(map[string]*HealthStatus),
		logger:        slog.Default().With("component", "mcp-health"),
	}
}

// Start launches the background probe loop.
// Calling Start on an already-running monitor is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return // already started
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop shuts down the probe loop and clears stale statuses so a subsequent
// Start begins with a clean slate.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}

	m.statusesMu.Lock()
	m.statuses = make(map[string]*HealthStatus)
	m.statusesMu.Unlock()

	// Reset so Start can be called again.
	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	// Run first check immediately
	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	records := m.manager.ListServers()

	// Drop statuses for removed servers.
	known := make(map[string]bool, len(records))
	for _, r := range records {
		known[r.ID] = true
	}
	m.statusesMu.Lock()
	for id := range m.statuses {
		if !known[id] {
			delete(m.statuses, id)
		}
	}
	m.statusesMu.Unlock()

	for _, r := range records {
		if ctx.Err() != nil {
			return
		}
		m.checkServer(ctx, r)
	}
}

func (m *HealthMonitor) checkServer(ctx context.Context, r ServerRecord) {
	if r.State != StateReady {
		m.setStatus(&HealthStatus{
			ServerID: r.ID,
			State:    r.State,
			Healthy:  false,
			Error:    r.LastError,
		})
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()

	latency, err := m.manager.Ping(checkCtx, r.ID)
	if err != nil {
		m.logger.Debug("Health probe failed", "server", r.ID, "error", err)
		m.setStatus(&HealthStatus{
			ServerID: r.ID,
			State:    r.State,
			Healthy:  false,
			Error:    err.Error(),
		})
		return
	}

	m.setStatus(&HealthStatus{
		ServerID: r.ID,
		State:    r.State,
		Healthy:  true,
		Latency:  latency,
	})
}

func (m *HealthMonitor) setStatus(s *HealthStatus) {
	s.LastCheck = time.Now()
	m.statusesMu.Lock()
	defer m.statusesMu.Unlock()
	m.statuses[s.ServerID] = s
}

// GetStatuses returns the current health status of all monitored servers.
func (m *HealthMonitor) GetStatuses() map[string]*HealthStatus {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	result := make(map[string]*HealthStatus, len(m.statuses))
	for k, v := range m.statuses {
		cp := *v
		result[k] = &cp
	}
	return result
}

// IsHealthy reports whether every ready server passed its last probe.
// Servers that are still connecting or were never connected don't count
// against liveness; a dead-but-supervised session does.
func (m *HealthMonitor) IsHealthy() bool {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	for _, s := range m.statuses {
		if s.State == StateReady && !s.Healthy {
			return false
		}
	}
	return true
}
