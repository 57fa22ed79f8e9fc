package tasks

import (
	"context"
)

// AgentRunner invokes one agent by name with a prompt and returns its final
// text answer. cmd/agentd adapts *registry.Registry's Run to it with
// AgentRunnerFunc; it is expressed as an interface here so the scheduler's
// tests can substitute a stub
// without depending on the full registry/adapter/mcp stack.
type AgentRunner interface {
	Run(ctx context.Context, agentName, prompt, sessionID string) (Result, error)
}

// Result is the subset of an agent run the scheduler needs to persist: the
// final text, folded into each execution's OutputSummary.
type Result struct {
	Text string
}

// AgentRunnerFunc adapts a plain function to AgentRunner, mirroring
// http.HandlerFunc.
type AgentRunnerFunc func(ctx context.Context, agentName, prompt, sessionID string) (Result, error)

func (f AgentRunnerFunc) Run(ctx context.Context, agentName, prompt, sessionID string) (Result, error) {
	return f(ctx, agentName, prompt, sessionID)
}
