package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeServersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadServersFile(t *testing.T) {
	path := writeServersFile(t, `
mcp_servers:
  everything:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-everything"]
    env:
      DEBUG: "1"
  remote:
    type: http
    url: https://mcp.example.com/mcp
`)

	servers, err := LoadServersFile(path)
	require.NoError(t, err)
	require.Len(t, servers, 2)

	assert.Equal(t, TransportStdio, servers["everything"].Kind())
	assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-everything"}, servers["everything"].Args)
	assert.Equal(t, TransportHTTP, servers["remote"].Kind())
}

func TestLoadServersFileNotFound(t *testing.T) {
	_, err := LoadServersFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, loadErr.Error(), "missing.yaml")
}

func TestLoadServersFileInvalidYAML(t *testing.T) {
	path := writeServersFile(t, "mcp_servers: [not: a: map")

	_, err := LoadServersFile(path)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadServersFileValidationFailure(t *testing.T) {
	path := writeServersFile(t, `
mcp_servers:
  broken:
    command: npx
    url: https://both.example.com
`)

	_, err := LoadServersFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoadServersFileExpandsEnv(t *testing.T) {
	t.Setenv("MCP_TOKEN", "s3cret")
	path := writeServersFile(t, `
mcp_servers:
  remote:
    url: https://mcp.example.com/mcp
    auth_kind: bearer
    bearer_token: "{{.MCP_TOKEN}}"
`)

	servers, err := LoadServersFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", servers["remote"].BearerToken)
}
