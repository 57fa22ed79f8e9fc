// Package hub implements the Session Hub & Streaming Fan-out (C13): a
// WebSocket control plane for bidirectional chat sessions plus an SSE
// server-push stream for one-shot tool calls, both fed by the Agent
// Registry's (C9) streaming runs.
package hub

import (
	"encoding/json"
	"time"
)

const (
	protocolVersion = 1

	// wsReadLimit bounds one inbound frame.
	wsReadLimit = 1 << 20
	// wsWriteWait bounds how long a single outbound write may block.
	wsWriteWait = 10 * time.Second
)

// clientFrame is one inbound message from a Session Hub client. Method
// selects the requested operation; Params carries its arguments.
type clientFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// serverFrame is one outbound message: either an event push (reasoning
// steps, connection lifecycle) or a reply to a client-initiated request.
type serverFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *serverFrameErr `json:"error,omitempty"`
	Seq     int64           `json:"seq"`
}

type serverFrameErr struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type chatSendParams struct {
	AgentName string `json:"agent_name"`
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt"`
}

type chatCancelParams struct {
	SessionID string `json:"session_id"`
}

// connectedPayload is the payload of the "connected" event sent immediately
// after a successful upgrade (spec §6).
type connectedPayload struct {
	Protocol        int   `json:"protocol"`
	HeartbeatPeriod int64 `json:"heartbeat_period_ms"`
}
