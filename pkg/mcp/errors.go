package mcp

import "errors"

// Sentinel errors surfaced by the manager. The HTTP edge maps them onto
// the error taxonomy with errors.Is.
var (
	// ErrServerNotFound is returned for operations naming an unknown server id.
	ErrServerNotFound = errors.New("server not found")

	// ErrServerExists is returned by AddServer when the id is already taken.
	ErrServerExists = errors.New("server id already exists")

	// ErrNotConnected is returned for session operations against a server
	// that has no ready session.
	ErrNotConnected = errors.New("server not connected")

	// ErrFeatureNotSupported is returned when an operation needs a capability
	// the server did not advertise during the handshake.
	ErrFeatureNotSupported = errors.New("server does not support this feature")

	// ErrStdioForbidden is returned when a stdio transport is requested in
	// web mode, where spawning local subprocesses is disabled.
	ErrStdioForbidden = errors.New("stdio transport is disabled in web mode")

	// ErrInsecureURL is returned when a non-https server URL is used in web
	// mode.
	ErrInsecureURL = errors.New("non-https server url is disabled in web mode")

	// ErrAuthRequired marks a server whose config demands an OAuth token that
	// has not been obtained yet. Connect refuses to dial until the UI
	// completes the flow and updates the config.
	ErrAuthRequired = errors.New("server requires oauth authorization")
)
