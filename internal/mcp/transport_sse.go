package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/backoff"
)

// sseReconnectMaxAttempts bounds the background notification listener's
// reconnect attempts; after that it logs an error and stops listening.
// Calls made over POST are not affected.
const sseReconnectMaxAttempts = 5

// SSETransport implements the MCP transport over HTTP POST + Server-Sent
// Events: each call is one POST whose response is either a single JSON body
// or a text/event-stream of JSON-RPC frames, one of which (matched by id) is
// the call's answer. A background listener also maintains a standing SSE
// connection for server-initiated notifications and requests.
type SSETransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest
	connected atomic.Bool
	closeOnce sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewSSETransport creates a new SSE transport.
func NewSSETransport(cfg *ServerConfig) *SSETransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SSETransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "sse"),
		client:   &http.Client{Timeout: timeout},
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 100),
		stopChan: make(chan struct{}),
	}
}

// NewHTTPTransport is retained as the historical constructor name.
func NewHTTPTransport(cfg *ServerConfig) *SSETransport { return NewSSETransport(cfg) }

// Connect starts the background SSE notification listener.
func (t *SSETransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for SSE transport")
	}
	t.connected.Store(true)
	t.logger.Info("SSE transport ready", "url", t.config.URL)

	t.wg.Add(1)
	go t.listenLoop(ctx)

	return nil
}

// Close stops the background listener. Idempotent.
func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)
		t.wg.Wait()
	})
	return nil
}

func (t *SSETransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.TransportUnavailable, "POST failed", err)
	}
	return resp, nil
}

// Call sends one JSON-RPC request over HTTP POST. The response is inspected
// by Content-Type: application/json is one frame; text/event-stream is
// scanned line by line until the frame whose id matches is found.
func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := uuid.New().String()
	data, err := EncodeRequest(0, method, params)
	if err != nil {
		return nil, err
	}
	// Re-encode with a string id: EncodeRequest only supports int64 ids.
	var req JSONRPCRequest
	_ = json.Unmarshal(data, &req)
	req.ID = id
	body, _ := json.Marshal(req)

	resp, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(resp.Body)
		return nil, agenterr.Wrap(agenterr.TransportTransient, fmt.Sprintf("HTTP %d", resp.StatusCode), fmt.Errorf("%s", string(b)))
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return nil, agenterr.Wrap(agenterr.TransportUnavailable, fmt.Sprintf("HTTP %d", resp.StatusCode), fmt.Errorf("%s", string(b)))
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "text/event-stream" {
		return t.scanForResponse(resp.Body, id)
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("MCP error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// CallStream issues the call and delivers its outcome as a single terminal
// frame; it emits no progress frames (notifications seen on the response's
// event stream go to Events instead). Cancelling ctx aborts the POST; no
// $/cancelRequest notification is sent.
func (t *SSETransport) CallStream(ctx context.Context, method string, params any) (<-chan StreamFrame, error) {
	out := make(chan StreamFrame, 8)
	go func() {
		defer close(out)
		result, err := t.Call(ctx, method, params)
		out <- StreamFrame{Terminal: true, Result: result, Err: err}
	}()
	return out, nil
}

func (t *SSETransport) scanForResponse(body io.Reader, wantID string) (json.RawMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		frame, err := DecodeFrame([]byte(strings.TrimSpace(data)))
		if err != nil {
			continue
		}
		switch frame.Kind {
		case FrameNotification:
			select {
			case t.events <- frame.Notification:
			default:
			}
		case FrameResponse:
			if fmt.Sprint(frame.Response.ID) == wantID {
				if frame.Response.Error != nil {
					return nil, fmt.Errorf("MCP error %d: %s", frame.Response.Error.Code, frame.Response.Error.Message)
				}
				return frame.Response.Result, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, agenterr.Wrap(agenterr.TransportTransient, "event stream read failed", err)
	}
	return nil, agenterr.New(agenterr.TransportTransient, "event stream ended without a matching response")
}

// Notify sends a notification (no response expected).
func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	data, err := EncodeNotification(method, params)
	if err != nil {
		return err
	}
	resp, err := t.post(ctx, data)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Events returns the notification channel.
func (t *SSETransport) Events() <-chan *JSONRPCNotification { return t.events }

// Requests returns the request channel.
func (t *SSETransport) Requests() <-chan *JSONRPCRequest { return t.requests }

// Respond sends a response to a server-initiated request.
func (t *SSETransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resp.Result = data
	}
	body, _ := json.Marshal(resp)
	httpResp, err := t.post(ctx, body)
	if err != nil {
		return err
	}
	httpResp.Body.Close()
	return nil
}

// Connected returns whether the transport is connected.
func (t *SSETransport) Connected() bool { return t.connected.Load() }

// listenLoop maintains the standing SSE connection for server-initiated
// notifications/requests, reconnecting with capped exponential backoff.
func (t *SSETransport) listenLoop(ctx context.Context) {
	defer t.wg.Done()

	sseURL := strings.TrimSuffix(t.config.URL, "/") + "/sse"
	policy := backoff.BackoffPolicy{InitialMs: 1000, MaxMs: 30000, Factor: 2, Jitter: 0.2}
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}

		ok := t.connectSSE(ctx, sseURL)
		if ok {
			attempt = 0
			continue
		}

		attempt++
		if attempt > sseReconnectMaxAttempts {
			t.logger.Error("giving up on SSE notification listener", "attempts", attempt)
			return
		}
		wait := backoff.ComputeBackoff(policy, attempt)
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-time.After(wait):
		}
	}
}

// connectSSE establishes one SSE connection and relays frames until it
// drops. Returns true if the connection was established and ran for a
// meaningful duration (treated as a successful attempt for backoff reset).
func (t *SSETransport) connectSSE(ctx context.Context, sseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("SSE connection failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Debug("SSE returned non-200", "status", resp.StatusCode)
		return false
	}

	t.logger.Debug("SSE connected", "url", sseURL)
	scanner := bufio.NewScanner(resp.Body)
	connectedAt := time.Now()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return true
		case <-t.stopChan:
			return true
		default:
		}

		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		frame, err := DecodeFrame([]byte(strings.TrimSpace(data)))
		if err != nil {
			continue
		}
		switch frame.Kind {
		case FrameRequest:
			select {
			case t.requests <- frame.Request:
			default:
				t.logger.Warn("request channel full, dropping")
			}
		case FrameNotification:
			select {
			case t.events <- frame.Notification:
			default:
				t.logger.Warn("notification channel full, dropping")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug("SSE scanner error", "error", err)
	}
	return time.Since(connectedAt) > 5*time.Second
}
