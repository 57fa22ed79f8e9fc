package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/coreforge/agentd/pkg/models"
)

func TestToOpenAIMessagesOrdersSystemFirst(t *testing.T) {
	req := CompletionRequest{
		System: "you are helpful",
		Messages: []Message{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello", ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`)},
			}},
			{Role: models.RoleTool, ToolResults: []models.ToolResult{
				{ToolCallID: "call_1", Content: "file contents"},
			}},
		},
	}

	msgs := toOpenAIMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (system + 3), got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "you are helpful" {
		t.Errorf("expected system message first, got %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("expected user message second, got %+v", msgs[1])
	}
	if msgs[2].Role != openai.ChatMessageRoleAssistant || len(msgs[2].ToolCalls) != 1 {
		t.Errorf("expected assistant message with 1 tool call, got %+v", msgs[2])
	}
	if msgs[2].ToolCalls[0].Function.Name != "read_file" {
		t.Errorf("expected tool call name read_file, got %q", msgs[2].ToolCalls[0].Function.Name)
	}
	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].Content != "file contents" {
		t.Errorf("expected tool result message, got %+v", msgs[3])
	}
}

func TestToOpenAIMessagesNoSystemPrompt(t *testing.T) {
	req := CompletionRequest{Messages: []Message{{Role: models.RoleUser, Content: "hi"}}}
	msgs := toOpenAIMessages(req)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleUser {
		t.Errorf("expected user role, got %q", msgs[0].Role)
	}
}

func TestToOpenAIToolsFallsBackToPermissiveSchema(t *testing.T) {
	tools := toOpenAITools([]ToolSchema{{Name: "noop"}})
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if string(tools[0].Function.Parameters.(json.RawMessage)) != `{"type":"object"}` {
		t.Errorf("expected permissive fallback schema, got %v", tools[0].Function.Parameters)
	}
}

func TestToOpenAIToolsPreservesParameters(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)
	tools := toOpenAITools([]ToolSchema{{Name: "read_file", Parameters: schema}})
	if string(tools[0].Function.Parameters.(json.RawMessage)) != string(schema) {
		t.Errorf("expected preserved schema, got %v", tools[0].Function.Parameters)
	}
}
