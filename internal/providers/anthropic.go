package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/coreforge/agentd/internal/mcp"
	"github.com/coreforge/agentd/pkg/models"
)

// NativeChunk is one event out of a native-MCP model's own tool-use loop.
// Unlike Chunk (the wrapper/function-call shape), the driver itself executes
// tool calls against the sessions it was given — NativeChunk only reports
// what happened, it never asks the caller to dispatch anything.
type NativeChunk struct {
	Thinking   string
	ToolCall   *models.ToolCall
	ToolResult *models.ToolResult
	Text       string
	Done       bool
	Error      error
}

// NativeProvider drives a model whose SDK can be hooked up to live MCP tool
// sessions directly. It owns the inner tool-use loop itself (§4.7): each
// tool_use content block the model emits is executed against the matching
// session before the loop continues.
type NativeProvider interface {
	Name() string
	RunWithSessions(ctx context.Context, system string, history []Message, prompt string, sessions []*mcp.Client, maxIterations int) (<-chan NativeChunk, error)
}

// AnthropicNativeProvider implements NativeProvider against Claude models,
// which speak MCP-shaped tool_use/tool_result content blocks natively.
type AnthropicNativeProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicNativeProvider builds a provider against apiKey for modelID
// (e.g. "claude-sonnet-4-20250514").
func NewAnthropicNativeProvider(apiKey, modelID string) *AnthropicNativeProvider {
	return &AnthropicNativeProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  modelID,
	}
}

func (p *AnthropicNativeProvider) Name() string { return "anthropic" }

// sessionTool pairs one MCP tool definition with the session that owns it,
// so a tool_use block can be routed back to the right transport. Native
// sessions are not disambiguated by a "<server>__<tool>" prefix (that is
// the wrapper catalog's job); a name collision across two attached servers
// means the later session wins, which RunWithSessions logs nowhere but
// tolerates, matching the spec's "native" semantics of handing the model
// live sessions as-is.
type sessionTool struct {
	def     *mcp.MCPTool
	session *mcp.Client
}

func (p *AnthropicNativeProvider) RunWithSessions(ctx context.Context, system string, history []Message, prompt string, sessions []*mcp.Client, maxIterations int) (<-chan NativeChunk, error) {
	if maxIterations <= 0 {
		maxIterations = 20
	}
	out := make(chan NativeChunk)
	go p.loop(ctx, system, history, prompt, sessions, maxIterations, out)
	return out, nil
}

func (p *AnthropicNativeProvider) loop(ctx context.Context, system string, history []Message, prompt string, sessions []*mcp.Client, maxIterations int, out chan<- NativeChunk) {
	defer close(out)

	toolIndex := make(map[string]sessionTool)
	var tools []anthropic.ToolUnionParam
	for _, session := range sessions {
		for _, def := range session.Tools() {
			toolIndex[def.Name] = sessionTool{def: def, session: session}
			tools = append(tools, toolParam(def))
		}
	}

	messages, err := toAnthropicMessages(history, prompt)
	if err != nil {
		out <- NativeChunk{Error: err, Done: true}
		return
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(p.model),
			Messages:  messages,
			MaxTokens: DefaultMaxTokens,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		assistantText, toolUses, streamErr := p.drainStream(stream, out)
		if streamErr != nil {
			out <- NativeChunk{Error: streamErr, Done: true}
			return
		}
		if ctx.Err() != nil {
			out <- NativeChunk{Error: ctx.Err(), Done: true}
			return
		}

		assistantContent := toAssistantContent(assistantText, toolUses)
		messages = append(messages, anthropic.NewAssistantMessage(assistantContent...))

		if len(toolUses) == 0 {
			out <- NativeChunk{Text: assistantText, Done: true}
			return
		}

		var resultContent []anthropic.ContentBlockParamUnion
		for _, use := range toolUses {
			entry, ok := toolIndex[use.Name]
			if !ok {
				result := models.ToolResult{ToolCallID: use.ID, Content: fmt.Sprintf("tool %q not attached", use.Name), IsError: true}
				out <- NativeChunk{ToolResult: &result}
				resultContent = append(resultContent, anthropic.NewToolResultBlock(use.ID, result.Content, true))
				continue
			}
			var args map[string]any
			_ = json.Unmarshal(use.Input, &args)
			callResult, callErr := entry.session.CallTool(ctx, use.Name, args)
			text, isErr := mcp.FormatToolCallResult(callResult)
			if callErr != nil {
				text, isErr = callErr.Error(), true
			}
			result := models.ToolResult{ToolCallID: use.ID, Content: text, IsError: isErr}
			out <- NativeChunk{ToolResult: &result}
			resultContent = append(resultContent, anthropic.NewToolResultBlock(use.ID, text, isErr))
		}
		messages = append(messages, anthropic.NewUserMessage(resultContent...))
	}

	out <- NativeChunk{Error: fmt.Errorf("native loop exceeded %d iterations", maxIterations), Done: true}
}

// drainStream consumes one streaming response, emitting Thinking chunks as
// text arrives and accumulating any tool_use blocks for the caller.
func (p *AnthropicNativeProvider) drainStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- NativeChunk) (string, []models.ToolCall, error) {
	var text string
	var toolInput map[string]*strings.Builder
	toolCalls := make(map[string]*models.ToolCall)
	var order []string
	var currentToolID string

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				currentToolID = use.ID
				toolCalls[use.ID] = &models.ToolCall{ID: use.ID, Name: use.Name}
				order = append(order, use.ID)
				if toolInput == nil {
					toolInput = make(map[string]*strings.Builder)
				}
				toolInput[use.ID] = &strings.Builder{}
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text += delta.Text
					out <- NativeChunk{Thinking: delta.Text}
				}
			case "input_json_delta":
				if currentToolID != "" && delta.PartialJSON != "" {
					toolInput[currentToolID].WriteString(delta.PartialJSON)
				}
			}
		case "content_block_stop":
			currentToolID = ""
		case "message_stop":
			goto done
		case "error":
			return text, nil, fmt.Errorf("anthropic stream error")
		}
	}
done:
	if err := stream.Err(); err != nil {
		return text, nil, err
	}

	result := make([]models.ToolCall, 0, len(order))
	for _, id := range order {
		tc := toolCalls[id]
		tc.Input = json.RawMessage(toolInput[id].String())
		result = append(result, *tc)
	}
	return text, result, nil
}

// toolParam converts one MCP tool definition into an Anthropic tool
// parameter. The input schema is forwarded as-is; MCP's JSON-Schema subset
// is a subset of what Anthropic's tool schema accepts.
func toolParam(def *mcp.MCPTool) anthropic.ToolUnionParam {
	var schema anthropic.ToolInputSchemaParam
	if len(def.InputSchema) > 0 {
		_ = json.Unmarshal(def.InputSchema, &schema)
	}
	param := anthropic.ToolUnionParamOfTool(schema, def.Name)
	if param.OfTool != nil {
		param.OfTool.Description = anthropic.String(def.Description)
	}
	return param
}

// toAnthropicMessages seeds a fresh conversation from prior session history
// plus the new user prompt.
func toAnthropicMessages(history []Message, prompt string) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %q: %w", tc.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(content...))
		case models.RoleTool:
			var content []anthropic.ContentBlockParamUnion
			for _, tr := range msg.ToolResults {
				content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			out = append(out, anthropic.NewUserMessage(content...))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	return out, nil
}

// toAssistantContent builds the content blocks for the assistant turn the
// loop just produced, so it can be appended to history before the next
// iteration (or before returning to the caller as final history).
func toAssistantContent(text string, toolUses []models.ToolCall) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	if text != "" {
		content = append(content, anthropic.NewTextBlock(text))
	}
	for _, tc := range toolUses {
		var input map[string]any
		_ = json.Unmarshal(tc.Input, &input)
		content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
	}
	return content
}
