// Package providers implements the model-driver side of the Agent Runtime:
// thin, streaming clients over the concrete LLM backends an Agent
// Definition can name. Adapters (internal/adapter) hold one of these as a
// collaborator and translate its chunk stream into ReasoningSteps; a
// provider never knows about the reasoning-step vocabulary.
package providers

import (
	"context"
	"encoding/json"

	"github.com/coreforge/agentd/pkg/models"
)

// Message is one turn of conversation handed to a provider. Role follows
// models.Role; ToolCalls/ToolResults let a single turn carry either an
// assistant's tool requests or a tool's replies back to it.
type Message struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ToolSchema is a function-call tool definition, already in the
// provider-native shape the request needs (for OpenAI-compatible backends
// this is the JSON Schema the wrapper catalog produced for it).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// CompletionRequest is one call to Complete.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSchema
	MaxTokens int
}

// Chunk is one unit of a streaming completion. A stream is zero or more
// Text/ToolCall chunks followed by exactly one terminal chunk with Done
// set or Error populated.
type Chunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Done         bool
	Error        error
	InputTokens  int
	OutputTokens int
}

// Provider is the function-calling model driver used by the Wrapper
// Adapter (C8): it has no notion of MCP and consumes a flat ToolSchema
// list, emitting tool_calls for the adapter to dispatch and feed back.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}

// DefaultMaxTokens is used when a CompletionRequest doesn't set one.
const DefaultMaxTokens = 4096
