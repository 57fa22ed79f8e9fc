package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/mcp"
	"github.com/coreforge/agentd/internal/providers"
	"github.com/coreforge/agentd/pkg/models"
)

// WrapperAdapter drives an agent whose model cannot speak MCP: the outer
// tool-call loop (§4.8) lives here, against a flat function-schema catalog
// built by the router, with each tool_call dispatched back through the
// router's wrapper-side session.
type WrapperAdapter struct {
	agentName     string
	modelID       string
	systemPrompt  string
	maxIterations int
	maxToolCalls  int
	provider      providers.Provider
	router        *mcp.Router
	agent         models.AgentDefinition
	model         models.ModelDefinition
	sessions      *sessionStore
}

// NewWrapperAdapter builds a wrapper adapter for agent, bound to model and
// provider, routing tool calls through router.
func NewWrapperAdapter(agent models.AgentDefinition, model models.ModelDefinition, provider providers.Provider, router *mcp.Router) *WrapperAdapter {
	maxIter := agent.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	return &WrapperAdapter{
		agentName:     agent.Name,
		modelID:       model.ModelID,
		systemPrompt:  agent.SystemPrompt,
		maxIterations: maxIter,
		maxToolCalls:  agent.MaxToolCalls,
		provider:      provider,
		router:        router,
		agent:         agent,
		model:         model,
		sessions:      newSessionStore(),
	}
}

func (a *WrapperAdapter) Run(ctx context.Context, prompt string, sessionID string) (*FinalResponse, error) {
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

func (a *WrapperAdapter) RunStream(ctx context.Context, prompt string, sessionID string) (<-chan models.ReasoningStep, error) {
	out := make(chan models.ReasoningStep)
	go a.run(ctx, prompt, sessionID, out)
	return out, nil
}

// toolRoute resolves a catalog function name back to its owning server/tool.
type toolRoute struct {
	server string
	tool   string
}

func (a *WrapperAdapter) run(ctx context.Context, prompt, sessionID string, out chan<- models.ReasoningStep) {
	defer close(out)

	emit := func(iteration int, step models.ReasoningStep) bool {
		step.Iteration = iteration
		step.Time = stepNow()
		select {
		case out <- step:
			return true
		case <-ctx.Done():
			return false
		}
	}

	catalog, err := a.router.ToolsForAgent(ctx, a.agent, a.model)
	if err != nil {
		emit(1, models.ReasoningStep{Kind: models.StepError, Error: err.Error(), ErrorKind: string(agenterr.KindOrDefault(err, agenterr.TransportUnavailable))})
		return
	}

	routes := make(map[string]toolRoute, len(catalog))
	tools := make([]providers.ToolSchema, 0, len(catalog))
	for _, entry := range catalog {
		routes[entry.Schema.Function.Name] = toolRoute{server: entry.ServerName, tool: entry.ToolName}
		tools = append(tools, providers.ToolSchema{
			Name:        entry.Schema.Function.Name,
			Description: entry.Schema.Function.Description,
			Parameters:  entry.Schema.Function.Parameters,
		})
	}

	history := toProviderHistory(a.sessions.history(sessionID))
	turns := []models.Message{{Role: models.RoleUser, Content: prompt, CreatedAt: stepNow()}}

	totalToolCalls := 0
	nextPrompt := prompt

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		reqMessages := append([]providers.Message(nil), history...)
		if nextPrompt != "" {
			reqMessages = append(reqMessages, providers.Message{Role: models.RoleUser, Content: nextPrompt})
		}
		req := providers.CompletionRequest{
			Model:     a.modelID,
			System:    a.systemPrompt,
			Messages:  reqMessages,
			Tools:     tools,
			MaxTokens: providers.DefaultMaxTokens,
		}

		chunks, err := a.provider.Complete(ctx, req)
		if err != nil {
			emit(iteration, models.ReasoningStep{Kind: models.StepError, Error: err.Error(), ErrorKind: string(agenterr.KindOrDefault(err, agenterr.TransportTransient))})
			return
		}

		text, toolCalls, incremental, err := a.drain(ctx, iteration, chunks, emit)
		if err != nil {
			emit(iteration, models.ReasoningStep{Kind: models.StepError, Error: err.Error(), ErrorKind: string(agenterr.KindOrDefault(err, agenterr.ToolExecutionError))})
			return
		}

		assistantTurn := models.Message{Role: models.RoleAssistant, Content: text, ToolCalls: toolCalls, CreatedAt: stepNow()}
		turns = append(turns, assistantTurn)
		history = append(history, providers.Message{Role: models.RoleAssistant, Content: text, ToolCalls: toolCalls})

		if len(toolCalls) == 0 {
			if incremental {
				emit(iteration, models.ReasoningStep{Kind: models.StepFinalAnswer, Text: text})
			} else {
				// The provider handed the whole answer back as one chunk
				// instead of streaming it incrementally; fall back to
				// sentence-splitting it (spec §4.7/§4.8).
				emitSentenceFallback(func(step models.ReasoningStep) bool { return emit(iteration, step) }, text)
			}
			a.sessions.append(sessionID, a.modelID, turns...)
			return
		}

		totalToolCalls += len(toolCalls)
		if a.maxToolCalls > 0 && totalToolCalls > a.maxToolCalls {
			err := agenterr.New(agenterr.IterationLimit, fmt.Sprintf("agent %q exceeded max tool calls (%d)", a.agentName, a.maxToolCalls))
			emit(iteration, models.ReasoningStep{Kind: models.StepError, Error: err.Error(), ErrorKind: string(err.Kind)})
			return
		}

		var results []models.ToolResult
		for _, tc := range toolCalls {
			route, ok := routes[tc.Name]
			if !ok {
				result := models.ToolResult{ToolCallID: tc.ID, Content: fmt.Sprintf("tool %q not found in catalog", tc.Name), IsError: true}
				results = append(results, result)
				emit(iteration, models.ReasoningStep{Kind: models.StepToolResult, ToolResult: &result})
				continue
			}
			var args map[string]any
			_ = json.Unmarshal(tc.Input, &args)
			callResult, callErr := a.router.InvokeWrapped(ctx, route.server, route.tool, args)
			text, isErr := mcp.FormatToolCallResult(callResult)
			if callErr != nil {
				text, isErr = callErr.Error(), true
			}
			result := models.ToolResult{ToolCallID: tc.ID, Content: text, IsError: isErr}
			results = append(results, result)
			emit(iteration, models.ReasoningStep{Kind: models.StepToolResult, ToolResult: &result})
		}

		toolTurn := models.Message{Role: models.RoleTool, ToolResults: results, CreatedAt: stepNow()}
		turns = append(turns, toolTurn)
		history = append(history, providers.Message{Role: models.RoleTool, ToolResults: results})
		nextPrompt = ""
	}

	err2 := agenterr.New(agenterr.IterationLimit, fmt.Sprintf("agent %q exceeded max iterations (%d)", a.agentName, a.maxIterations))
	emit(a.maxIterations, models.ReasoningStep{Kind: models.StepError, Error: err2.Error(), ErrorKind: string(err2.Kind)})
}

// drain consumes one Complete() stream, collecting the accumulated text and
// any tool calls. Because the first text chunk can't be told apart from a
// provider's entire answer until a second one arrives, drain buffers it as
// pending: a second chunk proves the stream is incremental and both are
// emitted as thought steps from then on; reaching Done with pending still
// unflushed and no tool calls means the provider never streamed at all, and
// the caller is told so (incremental=false) to drive the sentence-splitting
// fallback instead of a single verbatim thought.
func (a *WrapperAdapter) drain(ctx context.Context, iteration int, chunks <-chan providers.Chunk, emit func(int, models.ReasoningStep) bool) (string, []models.ToolCall, bool, error) {
	var text string
	var toolCalls []models.ToolCall
	var pending string
	incremental := false

	flushPending := func() bool {
		if pending == "" {
			return true
		}
		ok := emit(iteration, models.ReasoningStep{Kind: models.StepThought, Text: pending})
		pending = ""
		return ok
	}

	for chunk := range chunks {
		if chunk.Error != nil {
			return text, toolCalls, incremental, chunk.Error
		}
		if chunk.Text != "" {
			text += chunk.Text
			switch {
			case incremental:
				if !emit(iteration, models.ReasoningStep{Kind: models.StepThought, Text: chunk.Text}) {
					return text, toolCalls, incremental, ctx.Err()
				}
			case pending == "":
				pending = chunk.Text
			default:
				incremental = true
				if !flushPending() {
					return text, toolCalls, incremental, ctx.Err()
				}
				if !emit(iteration, models.ReasoningStep{Kind: models.StepThought, Text: chunk.Text}) {
					return text, toolCalls, incremental, ctx.Err()
				}
			}
		}
		if chunk.ToolCall != nil {
			if !flushPending() {
				return text, toolCalls, incremental, ctx.Err()
			}
			toolCalls = append(toolCalls, *chunk.ToolCall)
			if !emit(iteration, models.ReasoningStep{Kind: models.StepToolCall, ToolCall: chunk.ToolCall}) {
				return text, toolCalls, incremental, ctx.Err()
			}
		}
		if chunk.Done {
			break
		}
	}
	if len(toolCalls) > 0 && !flushPending() {
		return text, toolCalls, incremental, ctx.Err()
	}
	return text, toolCalls, incremental, nil
}
