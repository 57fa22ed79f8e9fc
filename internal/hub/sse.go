package hub

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/mcp"
)

// sseToolCallRequest is the body of POST /sse/tools/call (spec §6 scenario 4).
type sseToolCallRequest struct {
	ServerName string         `json:"server_name"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
}

// ToolCallStreamHandler serves POST /sse/tools/call: it invokes one tool
// through the MCP Router and relays its streamed frames as Server-Sent
// Events (start, chunk, done), per spec §6 scenario 4.
func ToolCallStreamHandler(rt *mcp.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req sseToolCallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.ServerName == "" || req.ToolName == "" {
			http.Error(w, "server_name and tool_name are required", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ctx := r.Context()
		frames, err := rt.InvokeWrappedStream(ctx, req.ServerName, req.ToolName, req.Arguments)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		writeSSE(w, "start", map[string]any{"server_name": req.ServerName, "tool_name": req.ToolName})
		flusher.Flush()

		for {
			select {
			case <-ctx.Done():
				writeSSE(w, "done", map[string]any{"kind": "cancelled", "error": agenterr.Cancelled})
				flusher.Flush()
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if frame.Err != nil {
					writeSSE(w, "done", map[string]any{"kind": "error", "error": frame.Err.Error()})
					flusher.Flush()
					return
				}
				if frame.Terminal {
					writeSSE(w, "done", map[string]any{"kind": "result", "result": json.RawMessage(frame.Result)})
					flusher.Flush()
					return
				}
				writeSSE(w, "chunk", map[string]any{"progress": json.RawMessage(frame.Progress)})
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
