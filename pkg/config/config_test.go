package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HOST", "PORT", "WEB_MODE", "LOG_LEVEL", "CORS_ORIGINS", "MCP_SERVERS_FILE"} {
		t.Setenv(key, "")
	}

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, s.Host)
	assert.Equal(t, DefaultPort, s.Port)
	assert.False(t, s.WebMode)
	assert.Equal(t, slog.LevelInfo, s.LogLevel)
	assert.Empty(t, s.CORSOrigins)
	assert.Equal(t, DefaultHost+":"+DefaultPort, s.Addr())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8080")
	t.Setenv("WEB_MODE", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "http://localhost:5173, https://app.example.com ,")
	t.Setenv("MCP_SERVERS_FILE", "/etc/inspector/servers.yaml")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", s.Addr())
	assert.True(t, s.WebMode)
	assert.Equal(t, slog.LevelDebug, s.LogLevel)
	assert.Equal(t, []string{"http://localhost:5173", "https://app.example.com"}, s.CORSOrigins)
	assert.Equal(t, "/etc/inspector/servers.yaml", s.ServersFile)
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on", " On "} {
		assert.True(t, isTruthy(v), v)
	}
	for _, v := range []string{"", "0", "false", "off", "nope"} {
		assert.False(t, isTruthy(v), v)
	}
}
