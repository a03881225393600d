package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected RecoveryAction
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: NoRetry,
		},
		{
			name:     "context canceled",
			err:      context.Canceled,
			expected: NoRetry,
		},
		{
			name:     "context deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: NoRetry,
		},
		{
			name:     "wrapped context canceled",
			err:      fmt.Errorf("call tool %q on %q: %w", "echo", "srv", context.Canceled),
			expected: NoRetry,
		},
		{
			name:     "io.EOF",
			err:      io.EOF,
			expected: RetryNewSession,
		},
		{
			name:     "wrapped io.EOF",
			err:      fmt.Errorf("list tools from %q: %w", "srv", io.EOF),
			expected: RetryNewSession,
		},
		{
			name:     "io.ErrUnexpectedEOF",
			err:      io.ErrUnexpectedEOF,
			expected: RetryNewSession,
		},
		{
			name:     "connection refused",
			err:      errors.New("dial tcp 127.0.0.1:6277: connection refused"),
			expected: RetryNewSession,
		},
		{
			name:     "connection reset",
			err:      errors.New("read tcp: connection reset by peer"),
			expected: RetryNewSession,
		},
		{
			name:     "broken pipe",
			err:      errors.New("write: broken pipe"),
			expected: RetryNewSession,
		},
		{
			name:     "session closed by sdk",
			err:      errors.New("session closed"),
			expected: RetryNewSession,
		},
		{
			// Generic close message not matched by the connection list.
			name:     "closed network connection",
			err:      errors.New("use of closed network connection"),
			expected: NoRetry,
		},
		{
			name:     "method not found",
			err:      errors.New("JSON-RPC error: method not found"),
			expected: NoRetry,
		},
		{
			name:     "invalid params",
			err:      errors.New("invalid params: missing required field"),
			expected: NoRetry,
		},
		{
			name:     "unknown error",
			err:      errors.New("something unexpected happened"),
			expected: NoRetry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyError(tt.err))
		})
	}
}

// mockNetError implements net.Error for testing.
type mockNetError struct {
	msg     string
	timeout bool
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

var _ net.Error = (*mockNetError)(nil)

func TestClassifyError_NetError(t *testing.T) {
	// Timeouts are not retried (the server may just be slow); other network
	// errors get a fresh session.
	assert.Equal(t, NoRetry,
		ClassifyError(&mockNetError{msg: "i/o timeout", timeout: true}))
	assert.Equal(t, RetryNewSession,
		ClassifyError(&mockNetError{msg: "connection refused"}))
}
