package mcp

import (
	"context"
	"encoding/json"
)

// State is the lifecycle state of a tool server session (spec.md §3).
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateDraining     State = "draining"
	StateErrored      State = "errored"
)

// StreamFrame is one frame of a streamed tool call: zero or more progress
// notifications followed by exactly one terminal frame carrying Result or
// Err.
type StreamFrame struct {
	Progress json.RawMessage
	Result   json.RawMessage
	Err      error
	Terminal bool
}

// Transport defines the interface for MCP transports. A transport owns one
// connection to one tool server and is not reused across reconnects: on
// error the owner discards it and opens a fresh one.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection. Idempotent.
	Close() error

	// Call sends a request and waits for a single buffered response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// CallStream sends a request and returns a channel of frames: zero or
	// more progress frames followed by exactly one terminal frame. Cancelling
	// ctx ends the call; the stdio transport also sends a $/cancelRequest
	// notification for the in-flight request id, while the SSE transport only
	// aborts its HTTP request.
	CallStream(ctx context.Context, method string, params any) (<-chan StreamFrame, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Events returns a channel for receiving notifications from the server.
	Events() <-chan *JSONRPCNotification

	// Requests returns a channel for receiving server-initiated requests.
	Requests() <-chan *JSONRPCRequest

	// Respond sends a response to a server-initiated request.
	Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error

	// Connected returns whether the transport is connected.
	Connected() bool
}

// NewTransport creates a new transport based on the server configuration.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case TransportSSE, TransportHTTP:
		return NewSSETransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}
