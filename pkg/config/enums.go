package config

// TransportType selects how the process reaches an MCP server
type TransportType string

const (
	// TransportStdio spawns the server as a local subprocess and frames
	// JSON-RPC over its stdin/stdout
	TransportStdio TransportType = "stdio"
	// TransportHTTP speaks the MCP streamable-HTTP protocol
	TransportHTTP TransportType = "http"
	// TransportSSE speaks the legacy HTTP+SSE protocol
	TransportSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	switch t {
	case TransportStdio, TransportHTTP, TransportSSE:
		return true
	default:
		return false
	}
}

// AuthKind describes how requests to an HTTP MCP server are authenticated
type AuthKind string

const (
	// AuthNone sends no credentials
	AuthNone AuthKind = "none"
	// AuthBearer attaches a static bearer token to every request
	AuthBearer AuthKind = "bearer"
	// AuthOAuth expects a browser-driven authorization-code flow; until a
	// token is supplied the server sits in the oauth-required state
	AuthOAuth AuthKind = "oauth"
)

// IsValid checks if the auth kind is valid
func (a AuthKind) IsValid() bool {
	switch a {
	case AuthNone, AuthBearer, AuthOAuth:
		return true
	default:
		return false
	}
}
