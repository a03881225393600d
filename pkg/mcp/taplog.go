package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpjam/inspector/pkg/events"
	"github.com/mcpjam/inspector/pkg/masking"
)

// tapTransport wraps an SDK transport so that every JSON-RPC frame crossing
// it is re-encoded, masked, and mirrored onto the rpc-log topic. Framing,
// session ids, and reconnect internals stay inside the wrapped transport.
type tapTransport struct {
	base     mcpsdk.Transport
	serverID string
	hub      *events.Hub
	masker   *masking.Service
}

func newTapTransport(base mcpsdk.Transport, serverID string, hub *events.Hub, masker *masking.Service) *tapTransport {
	return &tapTransport{base: base, serverID: serverID, hub: hub, masker: masker}
}

func (t *tapTransport) Connect(ctx context.Context) (mcpsdk.Connection, error) {
	conn, err := t.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &tapConn{Connection: conn, tap: t}, nil
}

// tapConn publishes each frame after a successful read or write. Failed
// frames never reach the log: the session teardown path reports them.
type tapConn struct {
	mcpsdk.Connection
	tap *tapTransport
}

func (c *tapConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.Connection.Read(ctx)
	if err != nil {
		return msg, err
	}
	c.publish(events.DirectionIn, msg)
	return msg, nil
}

func (c *tapConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.Connection.Write(ctx, msg); err != nil {
		return err
	}
	c.publish(events.DirectionOut, msg)
	return nil
}

func (c *tapConn) publish(direction string, msg jsonrpc.Message) {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		// The frame already crossed the wire; an encode failure here only
		// loses the log copy.
		return
	}
	c.tap.hub.PublishRPCFrame(c.tap.serverID, direction, c.tap.masker.MaskFrame(data))
}
