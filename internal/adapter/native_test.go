package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/mcp"
	"github.com/coreforge/agentd/internal/providers"
	"github.com/coreforge/agentd/pkg/models"
)

// fakeNativeProvider replays a fixed NativeChunk script, ignoring the
// sessions it was handed, so tests can drive the translation layer (the
// thing NativeAdapter actually owns) without a live MCP session.
type fakeNativeProvider struct {
	chunks []providers.NativeChunk
}

func (f *fakeNativeProvider) Name() string { return "fake-native" }

func (f *fakeNativeProvider) RunWithSessions(ctx context.Context, system string, history []providers.Message, prompt string, sessions []*mcp.Client, maxIterations int) (<-chan providers.NativeChunk, error) {
	ch := make(chan providers.NativeChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func nativeAgent() models.AgentDefinition {
	return models.AgentDefinition{
		Name:      "native-researcher",
		ModelName: "claude",
		Adapter:   models.AdapterNative,
	}
}

func nativeModel() models.ModelDefinition {
	return models.ModelDefinition{Name: "claude", Provider: "anthropic", SupportsMCP: true}
}

// TestNativeAdapterTranslatesDriverEvents covers the §4.7 mapping table:
// thinking->thought, tool_use->tool_call, tool_result->tool_result,
// end->final_answer.
func TestNativeAdapterTranslatesDriverEvents(t *testing.T) {
	provider := &fakeNativeProvider{chunks: []providers.NativeChunk{
		{Thinking: "considering the file"},
		{ToolCall: &models.ToolCall{ID: "call_1", Name: "read_file"}},
		{ToolResult: &models.ToolResult{ToolCallID: "call_1", Content: "hello"}},
		{Text: "the file says hello", Done: true},
	}}
	router := mcp.NewRouter(nil, nil)
	a := NewNativeAdapter(nativeAgent(), nativeModel(), provider, router)

	resp, err := a.Run(context.Background(), "read /tmp/a.txt and summarize", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Text != "the file says hello" {
		t.Errorf("expected final answer %q, got %q", "the file says hello", resp.Text)
	}

	wantKinds := []models.ReasoningStepKind{
		models.StepThought, models.StepToolCall, models.StepToolResult, models.StepFinalAnswer,
	}
	if len(resp.Steps) != len(wantKinds) {
		t.Fatalf("expected %d steps, got %d (%+v)", len(wantKinds), len(resp.Steps), resp.Steps)
	}
	for i, want := range wantKinds {
		if resp.Steps[i].Kind != want {
			t.Errorf("step %d: expected kind %q, got %q", i, want, resp.Steps[i].Kind)
		}
	}
}

// TestNativeAdapterNonIncrementalAnswerFallsBackToSentenceSplit covers the
// §4.7/§4.8 fallback: a driver that never emits an incremental Thinking
// event and hands back its whole answer in the terminal chunk must have it
// sentence-split, with only the last sentence promoted to final_answer.
func TestNativeAdapterNonIncrementalAnswerFallsBackToSentenceSplit(t *testing.T) {
	provider := &fakeNativeProvider{chunks: []providers.NativeChunk{
		{Text: "One. Two. Three.", Done: true},
	}}
	router := mcp.NewRouter(nil, nil)
	a := NewNativeAdapter(nativeAgent(), nativeModel(), provider, router)

	resp, err := a.Run(context.Background(), "summarize", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Text != "Three." {
		t.Errorf("expected final answer %q (last sentence only), got %q", "Three.", resp.Text)
	}

	var thoughts, finals int
	for _, step := range resp.Steps {
		switch step.Kind {
		case models.StepThought:
			thoughts++
		case models.StepFinalAnswer:
			finals++
		}
	}
	if thoughts != 2 || finals != 1 {
		t.Errorf("expected 2 thought steps + 1 final_answer step, got %d thoughts, %d finals (%+v)", thoughts, finals, resp.Steps)
	}
}

// TestNativeAdapterPropagatesDriverError covers the native-side error path:
// whatever Kind the driver's error carries surfaces through unchanged.
func TestNativeAdapterPropagatesDriverError(t *testing.T) {
	driverErr := agenterr.New(agenterr.ToolExecutionError, "remote tool failed")
	provider := &fakeNativeProvider{chunks: []providers.NativeChunk{
		{Error: driverErr, Done: true},
	}}
	router := mcp.NewRouter(nil, nil)
	a := NewNativeAdapter(nativeAgent(), nativeModel(), provider, router)

	_, err := a.Run(context.Background(), "do something", "")
	if agenterr.KindOf(err) != agenterr.ToolExecutionError {
		t.Fatalf("expected ToolExecutionError, got %v", err)
	}
}

// TestNativeAdapterUnkindedErrorDefaultsToToolExecutionError covers a driver
// error with no agenterr.Kind attached (e.g. a raw network error bubbling up
// from the SDK).
func TestNativeAdapterUnkindedErrorDefaultsToToolExecutionError(t *testing.T) {
	provider := &fakeNativeProvider{chunks: []providers.NativeChunk{
		{Error: errors.New("boom"), Done: true},
	}}
	router := mcp.NewRouter(nil, nil)
	a := NewNativeAdapter(nativeAgent(), nativeModel(), provider, router)

	_, err := a.Run(context.Background(), "do something", "")
	if agenterr.KindOf(err) != agenterr.ToolExecutionError {
		t.Fatalf("expected ToolExecutionError default, got %v", err)
	}
}
