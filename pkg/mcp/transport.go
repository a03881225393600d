package mcp

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpjam/inspector/pkg/config"
)

// stderrRingSize bounds how much subprocess stderr is retained for
// diagnostics when a stdio server dies.
const stderrRingSize = 8 * 1024

// buildTransport creates an MCP SDK transport from a server config. For
// stdio servers the returned ring captures the subprocess's stderr tail.
func buildTransport(cfg config.MCPServerConfig, webMode bool) (mcpsdk.Transport, *stderrRing, error) {
	switch cfg.Kind() {
	case config.TransportStdio:
		return buildStdioTransport(cfg, webMode)
	case config.TransportHTTP:
		t, err := buildHTTPTransport(cfg, webMode)
		return t, nil, err
	case config.TransportSSE:
		t, err := buildSSETransport(cfg, webMode)
		return t, nil, err
	default:
		return nil, nil, fmt.Errorf("unsupported transport type: %s", cfg.Kind())
	}
}

func buildStdioTransport(cfg config.MCPServerConfig, webMode bool) (*mcpsdk.CommandTransport, *stderrRing, error) {
	if webMode {
		return nil, nil, ErrStdioForbidden
	}
	if cfg.Command == "" {
		return nil, nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)

	// Inherit parent environment + config overrides.
	// Template vars (e.g., {{.HOME}}) are already resolved by the config loader.
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}

	ring := newStderrRing(stderrRingSize)
	cmd.Stderr = ring

	return &mcpsdk.CommandTransport{Command: cmd}, ring, nil
}

func buildHTTPTransport(cfg config.MCPServerConfig, webMode bool) (*mcpsdk.StreamableClientTransport, error) {
	if err := checkServerURL(cfg.URL, webMode); err != nil {
		return nil, err
	}
	return &mcpsdk.StreamableClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: buildHTTPClient(cfg),
	}, nil
}

func buildSSETransport(cfg config.MCPServerConfig, webMode bool) (*mcpsdk.SSEClientTransport, error) {
	if err := checkServerURL(cfg.URL, webMode); err != nil {
		return nil, err
	}
	return &mcpsdk.SSEClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: buildHTTPClient(cfg),
	}, nil
}

// checkServerURL enforces the web-mode URL policy: hosted deployments may
// only dial https endpoints.
func checkServerURL(rawURL string, webMode bool) error {
	if rawURL == "" {
		return fmt.Errorf("http transport requires url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	if webMode && u.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrInsecureURL, rawURL)
	}
	return nil
}

// buildHTTPClient creates an http.Client with TLS 1.2+ and an auth/header
// injecting round-tripper.
func buildHTTPClient(cfg config.MCPServerConfig) *http.Client {
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	if httpTransport.TLSClientConfig == nil {
		httpTransport.TLSClientConfig = &tls.Config{}
	}
	httpTransport.TLSClientConfig.MinVersion = tls.VersionTLS12

	client := &http.Client{Transport: httpTransport}

	if cfg.BearerToken != "" || len(cfg.Headers) > 0 {
		client.Transport = &headerTransport{
			base:    client.Transport,
			token:   cfg.BearerToken,
			headers: cfg.Headers,
		}
	}
	return client
}

// headerTransport wraps an http.RoundTripper to add Authorization and
// custom headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	token   string
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

// stderrRing is a bounded io.Writer keeping the most recent subprocess
// stderr output. Its tail becomes the record's lastError when a stdio
// session exits unexpectedly.
type stderrRing struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newStderrRing(max int) *stderrRing {
	return &stderrRing{max: max}
}

func (r *stderrRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, p...)
	if len(r.data) > r.max {
		r.data = r.data[len(r.data)-r.max:]
	}
	return len(p), nil
}

// Tail returns the retained stderr, trimmed to whole lines and surrounding
// whitespace. Empty when the subprocess wrote nothing.
func (r *stderrRing) Tail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := strings.TrimSpace(string(r.data))
	// Drop a leading partial line if the buffer wrapped mid-line.
	if len(r.data) == r.max {
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = strings.TrimSpace(s[idx+1:])
		}
	}
	return s
}
