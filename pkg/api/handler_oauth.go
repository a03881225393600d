package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mcpjam/inspector/pkg/models"
	"github.com/mcpjam/inspector/pkg/version"
)

const (
	// oauthTimeout bounds one brokered upstream call.
	oauthTimeout = 30 * time.Second

	// oauthMaxBody caps upstream response bodies read into memory.
	oauthMaxBody = 1 << 20 // 1MB
)

// errOAuthPolicy marks failures the caller can fix: scheme violations,
// malformed URLs, unencodable bodies. Everything else is an upstream
// failure.
var errOAuthPolicy = errors.New("oauth request rejected")

// oauthProxy brokers authorization-server requests the browser cannot make
// directly because of CORS: metadata discovery, token exchange, and dynamic
// client registration.
type oauthProxy struct {
	webMode bool
	client  *http.Client
}

func newOAuthProxy(webMode bool) *oauthProxy {
	return &oauthProxy{
		webMode: webMode,
		client: &http.Client{
			Timeout: oauthTimeout,
		},
	}
}

// validateTarget enforces the URL scheme policy before any outbound call.
// Loopback hosts stay exempt from the web-mode HTTPS requirement so local
// authorization servers remain testable.
func (p *oauthProxy) validateTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", errOAuthPolicy, err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if p.webMode && !isLocalhost(u.Hostname()) {
			return nil, fmt.Errorf("%w: target must use https in web mode", errOAuthPolicy)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported url scheme %q", errOAuthPolicy, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: url host is required", errOAuthPolicy)
	}
	return u, nil
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// fetchMetadata retrieves an OAuth metadata document and returns the raw
// JSON.
func (p *oauthProxy) fetchMetadata(ctx context.Context, target string) (json.RawMessage, error) {
	u, err := p.validateTarget(target)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, oauthMaxBody))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if !json.Valid(body) {
		return nil, errors.New("metadata endpoint returned invalid JSON")
	}
	return body, nil
}

// forward executes one brokered request and mirrors the upstream response.
func (p *oauthProxy) forward(ctx context.Context, req models.OAuthProxyRequest) (*models.OAuthProxyResponse, error) {
	u, err := p.validateTarget(req.URL)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	contentType := headerValue(req.Headers, "Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	body, err := encodeBody(req.Body, contentType)
	if err != nil {
		return nil, err
	}

	upstream, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		upstream.Header.Set(k, v)
	}
	if len(body) > 0 {
		upstream.Header.Set("Content-Type", contentType)
	}
	upstream.Header.Set("User-Agent", version.Full())

	resp, err := p.client.Do(upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, oauthMaxBody))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	out := &models.OAuthProxyResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
	}
	// Upstream bodies are JSON when they parse, raw text otherwise.
	var parsed any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			out.Body = parsed
		} else {
			out.Body = string(respBody)
		}
	}
	return out, nil
}

// encodeBody renders the request body per the declared content type:
// form-urlencoded bodies are flattened from a JSON object, everything else
// passes through as JSON.
func encodeBody(raw json.RawMessage, contentType string) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: form-encoded body must be an object: %v", errOAuthPolicy, err)
		}
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, fmt.Sprintf("%v", v))
		}
		return []byte(form.Encode()), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: body must be valid JSON", errOAuthPolicy)
	}
	return raw, nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// oauthMetadataHandler handles GET /oauth/metadata?url=…
func (s *Server) oauthMetadataHandler(c *echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return validationError(c, "url query parameter is required")
	}

	ctx, cancel := opContext(c, oauthTimeout)
	defer cancel()
	doc, err := s.oauth.fetchMetadata(ctx, target)
	if err != nil {
		return s.oauthError(c, err)
	}
	return c.JSONBlob(http.StatusOK, doc)
}

// oauthProxyHandler handles POST /oauth/proxy.
func (s *Server) oauthProxyHandler(c *echo.Context) error {
	var req models.OAuthProxyRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err.Error())
	}
	if req.URL == "" {
		return validationError(c, "url is required")
	}

	ctx, cancel := opContext(c, oauthTimeout)
	defer cancel()
	resp, err := s.oauth.forward(ctx, req)
	if err != nil {
		return s.oauthError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// oauthError separates policy violations (the caller's fault) from
// upstream failures.
func (s *Server) oauthError(c *echo.Context, err error) error {
	if errors.Is(err, errOAuthPolicy) {
		return validationError(c, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apiError(c, http.StatusGatewayTimeout, CodeTimeout, err.Error())
	}
	return apiError(c, http.StatusBadGateway, CodeServerUnreachable, err.Error())
}
