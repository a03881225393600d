package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinToolName(t *testing.T) {
	assert.Equal(t, "filesystem__read_file", JoinToolName("filesystem", "read_file"))
	assert.Equal(t, "my-server__get-pods", JoinToolName("my-server", "get-pods"))
}

func TestSplitToolName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantServer string
		wantTool   string
		wantErr    bool
	}{
		{
			name:       "valid simple",
			input:      "filesystem__read_file",
			wantServer: "filesystem",
			wantTool:   "read_file",
		},
		{
			name:       "valid with hyphens",
			input:      "kubernetes-server__get-pods",
			wantServer: "kubernetes-server",
			wantTool:   "get-pods",
		},
		{
			name:       "tool name containing separator splits on first",
			input:      "srv__my__tool",
			wantServer: "srv",
			wantTool:   "my__tool",
		},
		{
			name:       "single underscores survive",
			input:      "my_server__my_tool",
			wantServer: "my_server",
			wantTool:   "my_tool",
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no separator",
			input:   "read_file",
			wantErr: true,
		},
		{
			name:    "separator at start",
			input:   "__tool",
			wantErr: true,
		},
		{
			name:    "separator at end",
			input:   "server__",
			wantErr: true,
		},
		{
			name:    "only separator",
			input:   "__",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, err := SplitToolName(tt.input)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, server)
				assert.Empty(t, tool)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}

func TestSplitToolName_RoundTrip(t *testing.T) {
	server, tool, err := SplitToolName(JoinToolName("fs", "read"))
	require.NoError(t, err)
	assert.Equal(t, "fs", server)
	assert.Equal(t, "read", tool)
}

func TestApprovalKey(t *testing.T) {
	assert.Equal(t, "filesystem:delete_file", ApprovalKey("filesystem", "delete_file"))
}
