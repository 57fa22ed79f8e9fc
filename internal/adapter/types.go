// Package adapter implements the Agent Runtime: the polymorphic boundary
// between a driving model (native-MCP or function-calling) and the rest of
// the system. Both adapters satisfy the same contract so the Registry (C9),
// Scheduler (C12), and Session Hub (C13) never need to know which kind of
// model backs an agent.
package adapter

import (
	"context"
	"time"

	"github.com/coreforge/agentd/pkg/models"
)

// defaultMaxIterations bounds the wrapper adapter's tool-call loop when an
// agent definition does not set one.
const defaultMaxIterations = 20

// maxSessionTurns is the number of most recent turns a session's message
// history is trimmed to after each run.
const maxSessionTurns = 50

// FinalResponse is the result of a non-streaming run.
type FinalResponse struct {
	Text  string
	Steps []models.ReasoningStep
}

// Adapter drives one agent definition against its bound model, observing or
// simulating an incremental reasoning stream as it goes.
type Adapter interface {
	// Run executes prompt to completion and returns the final answer plus
	// every reasoning step emitted along the way.
	Run(ctx context.Context, prompt string, sessionID string) (*FinalResponse, error)

	// RunStream is the streaming counterpart: steps are delivered as they
	// are produced. The channel is closed once a final_answer or error
	// step has been sent. When the underlying model driver provides
	// incremental events, those are translated into steps directly; when
	// it hands back the answer as a single blob instead, implementations
	// fall back to splitting it on sentence boundaries (emitSentenceFallback)
	// and promote the last sentence to the final answer.
	RunStream(ctx context.Context, prompt string, sessionID string) (<-chan models.ReasoningStep, error)
}

func stepNow() time.Time {
	return time.Now().UTC()
}
