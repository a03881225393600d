package config

import (
	"fmt"
	"net/url"
	"strings"
)

// MCPServerConfig defines how to reach one MCP server. Exactly one of
// Command (stdio) or URL (http/sse) must be set. Type may be omitted and is
// then inferred: a command means stdio, a URL means streamable HTTP.
//
// JSON tags match the HTTP API; YAML tags match the preload file.
type MCPServerConfig struct {
	Type TransportType `json:"type,omitempty" yaml:"type,omitempty"`

	// Stdio transport
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`

	// HTTP / SSE transport
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	AuthKind    AuthKind          `json:"authKind,omitempty" yaml:"auth_kind,omitempty"`
	BearerToken string            `json:"bearerToken,omitempty" yaml:"bearer_token,omitempty"`
}

// Kind resolves the effective transport type, inferring it when Type is empty.
func (c MCPServerConfig) Kind() TransportType {
	if c.Type != "" {
		return c.Type
	}
	if c.Command != "" {
		return TransportStdio
	}
	return TransportHTTP
}

// Validate checks structural consistency. Web-mode policy (HTTPS-only, no
// stdio) is enforced at transport construction, not here, so a config
// created outside web mode stays loadable.
func (c *MCPServerConfig) Validate() error {
	if c.Command == "" && c.URL == "" {
		return fmt.Errorf("%w: command or url", ErrMissingRequiredField)
	}
	if c.Command != "" && c.URL != "" {
		return fmt.Errorf("%w: command and url are mutually exclusive", ErrInvalidValue)
	}
	if c.Type != "" && !c.Type.IsValid() {
		return fmt.Errorf("%w: transport type %q", ErrInvalidValue, c.Type)
	}
	switch c.Kind() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("%w: command", ErrMissingRequiredField)
		}
		if c.URL != "" {
			return fmt.Errorf("%w: url is not valid for stdio transport", ErrInvalidValue)
		}
	case TransportHTTP, TransportSSE:
		if c.URL == "" {
			return fmt.Errorf("%w: url", ErrMissingRequiredField)
		}
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("%w: url: %v", ErrInvalidValue, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: url scheme %q", ErrInvalidValue, u.Scheme)
		}
	}
	if c.AuthKind != "" && !c.AuthKind.IsValid() {
		return fmt.Errorf("%w: authKind %q", ErrInvalidValue, c.AuthKind)
	}
	if c.AuthKind == AuthBearer && strings.TrimSpace(c.BearerToken) == "" {
		return fmt.Errorf("%w: bearerToken required for bearer auth", ErrMissingRequiredField)
	}
	return nil
}
