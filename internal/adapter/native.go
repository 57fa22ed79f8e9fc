package adapter

import (
	"context"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/mcp"
	"github.com/coreforge/agentd/internal/providers"
	"github.com/coreforge/agentd/pkg/models"
)

// NativeAdapter drives an agent whose model talks to MCP tool sessions
// directly (spec §4.7): the provider itself owns the inner tool-use loop,
// this adapter just wires live sessions in and turns NativeChunks into
// ReasoningSteps.
type NativeAdapter struct {
	agentName     string
	modelID       string
	systemPrompt  string
	maxIterations int
	provider      providers.NativeProvider
	router        *mcp.Router
	agent         models.AgentDefinition
	model         models.ModelDefinition
	sessions      *sessionStore
}

// NewNativeAdapter builds a native adapter for agent, bound to model and
// provider, routing tool calls through router.
func NewNativeAdapter(agent models.AgentDefinition, model models.ModelDefinition, provider providers.NativeProvider, router *mcp.Router) *NativeAdapter {
	maxIter := agent.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	return &NativeAdapter{
		agentName:     agent.Name,
		modelID:       model.ModelID,
		systemPrompt:  agent.SystemPrompt,
		maxIterations: maxIter,
		provider:      provider,
		router:        router,
		agent:         agent,
		model:         model,
		sessions:      newSessionStore(),
	}
}

func (a *NativeAdapter) Run(ctx context.Context, prompt string, sessionID string) (*FinalResponse, error) {
	steps, err := a.RunStream(ctx, prompt, sessionID)
	if err != nil {
		return nil, err
	}
	resp := &FinalResponse{}
	for step := range steps {
		resp.Steps = append(resp.Steps, step)
		if step.Kind == models.StepFinalAnswer {
			resp.Text = step.Text
		}
		if step.Kind == models.StepError {
			return resp, agenterr.New(agenterr.Kind(step.ErrorKind), step.Error)
		}
	}
	return resp, nil
}

func (a *NativeAdapter) RunStream(ctx context.Context, prompt string, sessionID string) (<-chan models.ReasoningStep, error) {
	sessions, err := a.router.NativeSessionsForAgent(ctx, a.agent, a.model)
	if err != nil {
		return nil, err
	}

	history := toProviderHistory(a.sessions.history(sessionID))
	chunks, err := a.provider.RunWithSessions(ctx, a.systemPrompt, history, prompt, sessions, a.maxIterations)
	if err != nil {
		return nil, err
	}

	out := make(chan models.ReasoningStep)
	go a.translate(ctx, sessionID, prompt, chunks, out)
	return out, nil
}

func (a *NativeAdapter) translate(ctx context.Context, sessionID, prompt string, chunks <-chan providers.NativeChunk, out chan<- models.ReasoningStep) {
	defer close(out)

	iteration := 1
	var finalText string
	var turns []models.Message
	var sawIncremental bool

	emit := func(step models.ReasoningStep) bool {
		step.Iteration = iteration
		step.Time = stepNow()
		select {
		case out <- step:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			kind := agenterr.KindOf(chunk.Error)
			if kind == "" {
				kind = agenterr.ToolExecutionError
				if ctx.Err() != nil {
					kind = agenterr.Cancelled
				}
			}
			emit(models.ReasoningStep{Kind: models.StepError, Error: chunk.Error.Error(), ErrorKind: string(kind)})
			return
		case chunk.ToolCall != nil:
			if !emit(models.ReasoningStep{Kind: models.StepToolCall, ToolCall: chunk.ToolCall}) {
				return
			}
			iteration++
		case chunk.ToolResult != nil:
			if !emit(models.ReasoningStep{Kind: models.StepToolResult, ToolResult: chunk.ToolResult}) {
				return
			}
		case chunk.Thinking != "":
			sawIncremental = true
			if !emit(models.ReasoningStep{Kind: models.StepThought, Text: chunk.Thinking}) {
				return
			}
		case chunk.Done:
			finalText = chunk.Text
			if sawIncremental {
				emit(models.ReasoningStep{Kind: models.StepFinalAnswer, Text: finalText})
			} else {
				// The driver never emitted an incremental thinking event, so
				// fall back to sentence-splitting the blob it handed back
				// (spec §4.7/§4.8).
				emitSentenceFallback(emit, finalText)
			}
		}
	}

	turns = append(turns, models.Message{Role: models.RoleUser, Content: prompt, CreatedAt: stepNow()})
	if finalText != "" {
		turns = append(turns, models.Message{Role: models.RoleAssistant, Content: finalText, CreatedAt: stepNow()})
	}
	a.sessions.append(sessionID, a.modelID, turns...)
}

func toProviderHistory(msgs []models.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, providers.Message{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}
