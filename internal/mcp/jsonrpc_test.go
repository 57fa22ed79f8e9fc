package mcp

import (
	"encoding/json"
	"testing"

	"github.com/coreforge/agentd/internal/agenterr"
)

func TestDecodeFrameRequest(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Kind != FrameRequest {
		t.Fatalf("expected FrameRequest, got %v", frame.Kind)
	}
	if frame.Request.Method != "tools/list" {
		t.Errorf("expected method tools/list, got %q", frame.Request.Method)
	}
}

func TestDecodeFrameNotification(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"jsonrpc":"2.0","method":"$/cancelRequest","params":{"requestId":3}}`))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Kind != FrameNotification {
		t.Fatalf("expected FrameNotification, got %v", frame.Kind)
	}
	if frame.Notification.Method != "$/cancelRequest" {
		t.Errorf("unexpected method %q", frame.Notification.Method)
	}
}

func TestDecodeFrameResponseSuccessAndError(t *testing.T) {
	ok, err := DecodeFrame([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if ok.Kind != FrameResponse || ok.Response.Error != nil {
		t.Fatalf("expected successful response frame, got %+v", ok)
	}

	errFrame, err := DecodeFrame([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"boom"}}`))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if errFrame.Kind != FrameResponse || errFrame.Response.Error == nil {
		t.Fatalf("expected error response frame, got %+v", errFrame)
	}
	if errFrame.Response.Error.Message != "boom" {
		t.Errorf("unexpected error message %q", errFrame.Response.Error.Message)
	}
}

func TestDecodeFrameMalformedJSON(t *testing.T) {
	_, err := DecodeFrame([]byte(`{not json`))
	if agenterr.KindOf(err) != agenterr.ProtocolFraming {
		t.Fatalf("expected ProtocolFraming, got %v (%v)", agenterr.KindOf(err), err)
	}
}

func TestDecodeFrameMissingShape(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"jsonrpc":"2.0","foo":"bar"}`))
	if agenterr.KindOf(err) != agenterr.ProtocolShape {
		t.Fatalf("expected ProtocolShape, got %v (%v)", agenterr.KindOf(err), err)
	}
}

func TestEncodeRequestRoundTrip(t *testing.T) {
	data, err := EncodeRequest(7, "tools/call", map[string]any{"name": "read_file"})
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Kind != FrameRequest {
		t.Fatalf("expected FrameRequest, got %v", frame.Kind)
	}
	idFloat, ok := frame.Request.ID.(float64)
	if !ok || int64(idFloat) != 7 {
		t.Errorf("expected id 7, got %v", frame.Request.ID)
	}
}

func TestEncodeNotificationHasNoID(t *testing.T) {
	data, err := EncodeNotification("$/cancelRequest", CancelParams{RequestID: 5})
	if err != nil {
		t.Fatalf("EncodeNotification() error = %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, present := raw["id"]; present {
		t.Errorf("notification must not carry an id field")
	}
}
