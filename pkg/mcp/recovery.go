package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how to handle an MCP operation failure.
type RecoveryAction int

const (
	// NoRetry — the error is not recoverable (bad request, auth failure, timeout).
	NoRetry RecoveryAction = iota
	// RetrySameSession — transient error, retry on the existing session.
	RetrySameSession
	// RetryNewSession — transport failure, recreate the session and retry.
	RetryNewSession
)

// Timeouts and retry tuning.
const (
	// MCPInitTimeout is the per-server connect deadline (transport + handshake).
	MCPInitTimeout = 30 * time.Second

	// OperationTimeout is the per-call deadline for tool, resource, and
	// prompt operations.
	OperationTimeout = 30 * time.Second

	// PingTimeout is the deadline for ping round-trips and health probes.
	PingTimeout = 5 * time.Second

	// ReinitTimeout is the deadline for recreating a session mid-operation.
	ReinitTimeout = 10 * time.Second

	// RetryBackoffMin is the minimum jittered backoff before an in-call retry.
	RetryBackoffMin = 250 * time.Millisecond

	// RetryBackoffMax is the maximum jittered backoff before an in-call retry.
	RetryBackoffMax = 750 * time.Millisecond

	// HealthInterval is the health monitor loop interval.
	HealthInterval = 15 * time.Second
)

// Reconnect supervision tuning. When a ready session dies, the manager
// redials with exponential backoff until it reaches ready again or the
// attempts are exhausted, at which point the record goes failed exactly once.
const (
	ReconnectInitialInterval = 500 * time.Millisecond
	ReconnectMultiplier      = 2.0
	ReconnectMaxInterval     = 30 * time.Second
	ReconnectRandomization   = 0.25
	MaxReconnectTries        = 5
)

// ClassifyError determines the recovery action for an MCP operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	// Context errors — no retry
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	// Network errors — check timeout vs connection
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry // Timeout: don't retry (could be slow server)
		}
		return RetryNewSession
	}

	// Connection-level errors — retry with new session
	if isConnectionError(err) {
		return RetryNewSession
	}

	// MCP JSON-RPC errors — generally not retryable
	if isMCPProtocolError(err) {
		return NoRetry
	}

	// Default: no retry (unknown errors are not safe to retry)
	return NoRetry
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := err.Error()
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"session closed",
		"no such host",
	}
	for _, e := range connectionErrors {
		if strings.Contains(strings.ToLower(msg), e) {
			return true
		}
	}
	return false
}

// isMCPProtocolError detects MCP JSON-RPC protocol errors from the SDK.
// These are client-side errors like bad request, method not found, etc.
func isMCPProtocolError(err error) bool {
	msg := err.Error()
	// MCP SDK returns structured errors with JSON-RPC error codes
	protocolIndicators := []string{
		"method not found",
		"invalid params",
		"invalid request",
		"parse error",
	}
	for _, indicator := range protocolIndicators {
		if strings.Contains(strings.ToLower(msg), indicator) {
			return true
		}
	}
	return false
}
