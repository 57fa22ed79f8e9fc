package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/coreforge/agentd/internal/adapter"
	"github.com/coreforge/agentd/pkg/models"
)

type stubRunner struct {
	finalText string
	runErr    error
	steps     []models.ReasoningStep
}

func (s stubRunner) Run(ctx context.Context, agentName, prompt, sessionID string) (*adapter.FinalResponse, error) {
	if s.runErr != nil {
		return nil, s.runErr
	}
	return &adapter.FinalResponse{Text: s.finalText}, nil
}

func (s stubRunner) RunStream(ctx context.Context, agentName, prompt, sessionID string) (<-chan models.ReasoningStep, error) {
	ch := make(chan models.ReasoningStep, len(s.steps))
	for _, step := range s.steps {
		ch <- step
	}
	close(ch)
	return ch, nil
}

func TestChatCompletionsHandlerBlocking(t *testing.T) {
	handler := ChatCompletionsHandler(stubRunner{finalText: "hello there"})

	body, _ := json.Marshal(completionsRequest{
		Model:    "assistant",
		Messages: []completionsMessage{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp completionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hello there" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if *resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("finish_reason = %q, want stop", *resp.Choices[0].FinishReason)
	}
}

func TestChatCompletionsHandlerBlockingErrorStillReturns200(t *testing.T) {
	handler := ChatCompletionsHandler(stubRunner{runErr: errBoom{}})

	body, _ := json.Marshal(completionsRequest{
		Model:    "assistant",
		Messages: []completionsMessage{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200 (spec §7: failed runs still return 200)", rec.Code)
	}
	var resp completionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if *resp.Choices[0].FinishReason != "error" {
		t.Fatalf("finish_reason = %q, want error", *resp.Choices[0].FinishReason)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
