package mcp

import (
	"encoding/json"

	"github.com/coreforge/agentd/internal/agenterr"
)

// FrameKind discriminates a decoded JSON-RPC 2.0 frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameRequest
	FrameResponse
	FrameNotification
)

// Frame is one decoded JSON-RPC message, exactly one of the typed fields set.
type Frame struct {
	Kind         FrameKind
	Request      *JSONRPCRequest
	Response     *JSONRPCResponse
	Notification *JSONRPCNotification
}

// rawEnvelope is decoded once to identify frame shape without committing to a type.
type rawEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *JSONRPCError   `json:"error"`
}

// DecodeFrame parses a single JSON object into a Frame. The codec is pure: it
// performs no I/O and makes no assumption about the transport that produced
// the bytes. Malformed JSON surfaces ProtocolFraming; valid JSON missing the
// fields that distinguish a request/response/notification surfaces
// ProtocolShape. Both are per-frame errors: the caller may continue with the
// next frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, agenterr.Wrap(agenterr.ProtocolFraming, "malformed JSON-RPC frame", err)
	}

	hasID := env.ID != nil
	hasMethod := env.Method != ""
	hasResult := len(env.Result) > 0
	hasError := env.Error != nil

	switch {
	case hasMethod && hasID:
		var id any
		if err := json.Unmarshal(*env.ID, &id); err != nil {
			return nil, agenterr.Wrap(agenterr.ProtocolShape, "invalid request id", err)
		}
		return &Frame{Kind: FrameRequest, Request: &JSONRPCRequest{
			JSONRPC: env.JSONRPC, ID: id, Method: env.Method, Params: env.Params,
		}}, nil
	case hasMethod && !hasID:
		return &Frame{Kind: FrameNotification, Notification: &JSONRPCNotification{
			JSONRPC: env.JSONRPC, Method: env.Method, Params: env.Params,
		}}, nil
	case hasID && (hasResult || hasError):
		var id any
		if err := json.Unmarshal(*env.ID, &id); err != nil {
			return nil, agenterr.Wrap(agenterr.ProtocolShape, "invalid response id", err)
		}
		return &Frame{Kind: FrameResponse, Response: &JSONRPCResponse{
			JSONRPC: env.JSONRPC, ID: id, Result: env.Result, Error: env.Error,
		}}, nil
	default:
		return nil, agenterr.New(agenterr.ProtocolShape, "frame is neither a request, response, nor notification")
	}
}

// EncodeRequest serializes a JSON-RPC request for transmission.
func EncodeRequest(id int64, method string, params any) ([]byte, error) {
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = paramsJSON
	}
	return json.Marshal(req)
}

// EncodeNotification serializes a JSON-RPC notification for transmission.
func EncodeNotification(method string, params any) ([]byte, error) {
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		notif.Params = paramsJSON
	}
	return json.Marshal(notif)
}

// CancelParams is the payload of a $/cancelRequest notification.
type CancelParams struct {
	RequestID any `json:"requestId"`
}
