// Package config holds the process settings (environment contract) and the
// MCP server definitions loadable from the optional servers file or the
// HTTP API.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Default listen address. The UI's dev proxy expects this port.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = "6277"
)

// Settings is the process-wide configuration resolved from the environment.
type Settings struct {
	Host string
	Port string

	// WebMode restricts MCP server URLs to https and disables stdio
	// transports entirely.
	WebMode bool

	// CORSOrigins is the comma-separated allowlist from CORS_ORIGINS.
	// Empty means same-origin only (no CORS middleware installed).
	CORSOrigins []string

	LogLevel slog.Level

	// ServersFile optionally preloads MCP server configs at startup.
	ServersFile string

	// Fallback model credentials, used only when a chat request carries no
	// API key of its own. Never persisted.
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// Load resolves Settings from the environment.
func Load() (*Settings, error) {
	s := &Settings{
		Host:            getEnv("HOST", DefaultHost),
		Port:            getEnv("PORT", DefaultPort),
		WebMode:         isTruthy(os.Getenv("WEB_MODE")),
		ServersFile:     os.Getenv("MCP_SERVERS_FILE"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	s.LogLevel = level

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.CORSOrigins = append(s.CORSOrigins, o)
			}
		}
	}

	return s, nil
}

// Addr returns the host:port listen address.
func (s *Settings) Addr() string {
	return s.Host + ":" + s.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// isTruthy interprets common affirmative env values.
func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: LOG_LEVEL %q", ErrInvalidValue, value)
	}
}
