package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/backoff"
	"github.com/coreforge/agentd/pkg/models"
)

// Binding is the native-vs-wrapper decision for one (model, tool server) pair.
type Binding string

const (
	BindingNative   Binding = "native"
	BindingWrapper  Binding = "wrapper"
	BindingRejected Binding = "rejected"
)

// DecideBinding applies the compatibility matrix: a model that speaks MCP
// natively gets a native binding unless the server insists on being wrapped
// (sub-optimal, logged by the caller); a model that can't speak MCP at all
// can only be reached through a wrapped server.
func DecideBinding(modelSupportsMCP, wrapAsFunctions bool) Binding {
	switch {
	case modelSupportsMCP && !wrapAsFunctions:
		return BindingNative
	case modelSupportsMCP && wrapAsFunctions:
		return BindingWrapper
	case !modelSupportsMCP && wrapAsFunctions:
		return BindingWrapper
	default:
		return BindingRejected
	}
}

// reconnectState tracks a server's backoff schedule while its session is Errored.
type reconnectState struct {
	attempt     int
	nextAttempt time.Time
}

var routerReconnectPolicy = backoff.BackoffPolicy{InitialMs: 1000, MaxMs: 30000, Factor: 2, Jitter: 0.1}

// Router decides, for each tool server, whether an agent reaches it through
// a live native MCP session or a wrapped function-call surface, and owns
// the lazily-connected sessions on both sides.
type Router struct {
	logger *slog.Logger

	mu              sync.Mutex
	serverConfigs   map[string]*ServerConfig
	wrapAsFunctions map[string]bool
	nativeSessions  map[string]*Client
	wrapperSessions map[string]*Client
	reconnect       map[string]*reconnectState
}

// NewRouter builds a router over the given tool server definitions.
func NewRouter(servers []models.ToolServerDefinition, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		logger:          logger.With("component", "mcp_router"),
		serverConfigs:   make(map[string]*ServerConfig),
		wrapAsFunctions: make(map[string]bool),
		nativeSessions:  make(map[string]*Client),
		wrapperSessions: make(map[string]*Client),
		reconnect:       make(map[string]*reconnectState),
	}
	for _, s := range servers {
		r.serverConfigs[s.Name] = toServerConfig(s)
		r.wrapAsFunctions[s.Name] = s.WrapAsFunctions
	}
	return r
}

func toServerConfig(s models.ToolServerDefinition) *ServerConfig {
	transport := TransportStdio
	if s.Transport == models.TransportSSE {
		transport = TransportSSE
	}
	return &ServerConfig{
		ID:        s.Name,
		Name:      s.Name,
		Transport: transport,
		Command:   s.Command,
		Args:      s.Args,
		Env:       s.Env,
		WorkDir:   s.WorkDir,
		URL:       s.URL,
		Headers:   s.Headers,
		Timeout:   s.Timeout,
		AutoStart: s.AutoStart,
	}
}

// ValidateCompatibility enforces the load-time invariant that every tool
// server an agent is bound to is reachable given its model: a model that
// doesn't support MCP and a server that isn't wrapped is an illegal
// combination (supports_mcp ∨ wrap_as_functions must hold).
func (r *Router) ValidateCompatibility(agent models.AgentDefinition, model models.ModelDefinition) error {
	for _, serverName := range agent.ToolServers {
		wrap, ok := r.wrapAsFunctions[serverName]
		if !ok {
			return agenterr.New(agenterr.ConfigInvalid, fmt.Sprintf("agent %q references unknown tool server %q", agent.Name, serverName))
		}
		if DecideBinding(model.SupportsMCP, wrap) == BindingRejected {
			return agenterr.New(agenterr.ConfigInvalid, fmt.Sprintf(
				"agent %q: model %q supports neither native MCP nor wrapped tools for server %q", agent.Name, model.Name, serverName))
		}
		if model.SupportsMCP && wrap {
			r.logger.Warn("tool server wraps functions for an MCP-capable model, forcing wrapper binding",
				"agent", agent.Name, "model", model.Name, "server", serverName)
		}
	}
	return nil
}

// NativeSessionsForAgent returns live Tool Client sessions for every server
// the agent binds to natively.
func (r *Router) NativeSessionsForAgent(ctx context.Context, agent models.AgentDefinition, model models.ModelDefinition) ([]*Client, error) {
	var sessions []*Client
	for _, serverName := range agent.ToolServers {
		wrap := r.wrapAsFunctions[serverName]
		if DecideBinding(model.SupportsMCP, wrap) != BindingNative {
			continue
		}
		client, err := r.getSession(ctx, serverName, false)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, client)
	}
	return sessions, nil
}

// ToolsForAgent returns the function-call schema catalog for every server
// the agent binds to through the wrapper path.
func (r *Router) ToolsForAgent(ctx context.Context, agent models.AgentDefinition, model models.ModelDefinition) ([]CatalogEntry, error) {
	serverTools := make(map[string][]*MCPTool)
	for _, serverName := range agent.ToolServers {
		wrap := r.wrapAsFunctions[serverName]
		if DecideBinding(model.SupportsMCP, wrap) != BindingWrapper {
			continue
		}
		client, err := r.getSession(ctx, serverName, true)
		if err != nil {
			r.logger.Warn("tool server unavailable for wrapper catalog", "server", serverName, "error", err)
			continue
		}
		serverTools[serverName] = client.Tools()
	}
	return BuildCatalog(serverTools), nil
}

// InvokeWrapped executes a tool call through the wrapper-side session for
// server. Used by the wrapper adapter to route a model's tool_call back to
// the session that actually owns the tool.
func (r *Router) InvokeWrapped(ctx context.Context, server, tool string, args map[string]any) (*ToolCallResult, error) {
	client, err := r.getSession(ctx, server, true)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, tool, args)
}

// InvokeWrappedStream is the streaming counterpart of InvokeWrapped.
func (r *Router) InvokeWrappedStream(ctx context.Context, server, tool string, args map[string]any) (<-chan StreamFrame, error) {
	client, err := r.getSession(ctx, server, true)
	if err != nil {
		return nil, err
	}
	return client.CallToolStream(ctx, tool, args)
}

// getSession returns the session for server on the given side (native or
// wrapper), connecting it lazily. While the session is Errored, a
// reconnection attempt is only made once its backoff window has elapsed;
// otherwise a TransportUnavailable error is returned immediately.
func (r *Router) getSession(ctx context.Context, server string, wrapper bool) (*Client, error) {
	cfg, ok := r.serverConfigs[server]
	if !ok {
		return nil, agenterr.New(agenterr.ToolNotFound, fmt.Sprintf("unknown tool server %q", server))
	}

	r.mu.Lock()
	sessions := r.nativeSessions
	if wrapper {
		sessions = r.wrapperSessions
	}
	client, exists := sessions[server]

	if exists && client.State() == StateReady {
		r.mu.Unlock()
		return client, nil
	}

	if exists && client.State() == StateErrored {
		state := r.reconnect[server]
		if state != nil && time.Now().Before(state.nextAttempt) {
			r.mu.Unlock()
			return nil, agenterr.New(agenterr.TransportUnavailable, fmt.Sprintf("tool server %q is reconnecting, retry after %s", server, state.nextAttempt.Format(time.RFC3339)))
		}
		client.Reset()
	}

	if !exists {
		client = NewClient(cfg, r.logger)
		sessions[server] = client
	}
	r.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		r.recordFailure(server)
		return nil, agenterr.Wrap(agenterr.TransportUnavailable, fmt.Sprintf("connect to tool server %q", server), err)
	}
	r.recordSuccess(server)
	return client, nil
}

func (r *Router) recordFailure(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.reconnect[server]
	if state == nil {
		state = &reconnectState{}
		r.reconnect[server] = state
	}
	state.attempt++
	wait := backoff.ComputeBackoff(routerReconnectPolicy, state.attempt)
	state.nextAttempt = time.Now().Add(wait)
}

func (r *Router) recordSuccess(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reconnect, server)
}

// Close closes every session the router has opened, both sides.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.nativeSessions {
		_ = client.Close()
	}
	for _, client := range r.wrapperSessions {
		_ = client.Close()
	}
	return nil
}
