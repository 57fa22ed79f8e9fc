package adapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/mcp"
	"github.com/coreforge/agentd/internal/providers"
	"github.com/coreforge/agentd/pkg/models"
)

// fakeProvider replays a fixed script of chunk batches, one batch per
// Complete() call, so a test can drive the wrapper loop deterministically.
type fakeProvider struct {
	batches [][]providers.Chunk
	call    int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req providers.CompletionRequest) (<-chan providers.Chunk, error) {
	if f.call >= len(f.batches) {
		f.call++
		return nil, agenterr.New(agenterr.Timeout, "no more scripted batches")
	}
	batch := f.batches[f.call]
	f.call++
	ch := make(chan providers.Chunk, len(batch))
	for _, c := range batch {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func wrapperAgent(maxIter, maxToolCalls int) models.AgentDefinition {
	return models.AgentDefinition{
		Name:          "researcher",
		ModelName:     "deepseek-chat",
		Adapter:       models.AdapterWrapper,
		SystemPrompt:  "you are a helpful agent",
		MaxIterations: maxIter,
		MaxToolCalls:  maxToolCalls,
	}
}

func wrapperModel() models.ModelDefinition {
	return models.ModelDefinition{Name: "deepseek-chat", Provider: "openai", SupportsMCP: false}
}

// TestWrapperAdapterFinalAnswerNoTools covers the simple one-shot case: no
// tool servers bound, the model answers immediately.
func TestWrapperAdapterFinalAnswerNoTools(t *testing.T) {
	provider := &fakeProvider{
		batches: [][]providers.Chunk{
			{{Text: "hello "}, {Text: "world"}, {Done: true}},
		},
	}
	router := mcp.NewRouter(nil, nil)
	a := NewWrapperAdapter(wrapperAgent(20, 0), wrapperModel(), provider, router)

	resp, err := a.Run(context.Background(), "say hi", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Text != "hello world" {
		t.Errorf("expected final answer %q, got %q", "hello world", resp.Text)
	}

	var sawFinal bool
	prevIteration := 0
	for _, step := range resp.Steps {
		if step.Iteration < prevIteration {
			t.Errorf("iteration went backwards: %d after %d", step.Iteration, prevIteration)
		}
		prevIteration = step.Iteration
		if step.Kind == models.StepFinalAnswer {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Error("expected a final_answer step")
	}
}

// TestWrapperAdapterNonIncrementalAnswerFallsBackToSentenceSplit covers the
// §4.7/§4.8 fallback: a provider that hands back its whole answer as a
// single chunk (no incremental streaming) must have it sentence-split into
// thought steps, with only the last sentence promoted to final_answer.
func TestWrapperAdapterNonIncrementalAnswerFallsBackToSentenceSplit(t *testing.T) {
	provider := &fakeProvider{
		batches: [][]providers.Chunk{
			{{Text: "First sentence. Second sentence. Third."}, {Done: true}},
		},
	}
	router := mcp.NewRouter(nil, nil)
	a := NewWrapperAdapter(wrapperAgent(20, 0), wrapperModel(), provider, router)

	resp, err := a.Run(context.Background(), "say hi", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Text != "Third." {
		t.Errorf("expected final answer %q (last sentence only), got %q", "Third.", resp.Text)
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

// TestWrapperAdapterIncrementalAnswerSkipsSentenceFallback covers the
// opposite case: a provider that does stream incrementally keeps the
// existing behavior of one final_answer carrying the full accumulated text.
func TestWrapperAdapterIncrementalAnswerSkipsSentenceFallback(t *testing.T) {
	provider := &fakeProvider{
		batches: [][]providers.Chunk{
			{{Text: "First sentence. "}, {Text: "Second sentence."}, {Done: true}},
		},
	}
	router := mcp.NewRouter(nil, nil)
	a := NewWrapperAdapter(wrapperAgent(20, 0), wrapperModel(), provider, router)

	resp, err := a.Run(context.Background(), "say hi", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Text != "First sentence. Second sentence." {
		t.Errorf("expected full accumulated text as final answer, got %q", resp.Text)
	}

	var finals int
	for _, step := range resp.Steps {
		if step.Kind == models.StepFinalAnswer {
			finals++
		}
	}
	if finals != 1 {
		t.Errorf("expected exactly 1 final_answer step, got %d", finals)
	}
}

// TestWrapperAdapterUnknownToolSurfacesError exercises the tool_call ->
// tool_result loop when the model names a function that isn't in the
// catalog (here, no tool servers are configured at all).
func TestWrapperAdapterUnknownToolSurfacesError(t *testing.T) {
	provider := &fakeProvider{
		batches: [][]providers.Chunk{
			{
				{ToolCall: &models.ToolCall{ID: "call_1", Name: "filesystem__read_file", Input: json.RawMessage(`{"path":"/tmp/a.txt"}`)}},
				{Done: true},
			},
			{{Text: "done"}, {Done: true}},
		},
	}
	router := mcp.NewRouter(nil, nil)
	a := NewWrapperAdapter(wrapperAgent(20, 0), wrapperModel(), provider, router)

	resp, err := a.Run(context.Background(), "read the file", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var toolResult *models.ToolResult
	for _, step := range resp.Steps {
		if step.Kind == models.StepToolResult {
			toolResult = step.ToolResult
		}
	}
	if toolResult == nil {
		t.Fatal("expected a tool_result step")
	}
	if !toolResult.IsError {
		t.Error("expected tool_result.IsError=true for an unknown catalog tool")
	}
}

// TestWrapperAdapterIterationLimit covers the bounded-loop edge case (spec
// §4.8 step 4 / error kind IterationLimit): a model that never stops
// requesting tool calls must terminate the run with an error step instead
// of looping forever.
func TestWrapperAdapterIterationLimit(t *testing.T) {
	loopingBatch := []providers.Chunk{
		{ToolCall: &models.ToolCall{ID: "call_x", Name: "nonexistent__tool", Input: json.RawMessage(`{}`)}},
		{Done: true},
	}
	batches := make([][]providers.Chunk, 3)
	for i := range batches {
		batches[i] = loopingBatch
	}
	provider := &fakeProvider{batches: batches}
	router := mcp.NewRouter(nil, nil)
	a := NewWrapperAdapter(wrapperAgent(3, 0), wrapperModel(), provider, router)

	resp, err := a.Run(context.Background(), "loop forever", "")
	if agenterr.KindOf(err) != agenterr.IterationLimit {
		t.Fatalf("expected IterationLimit error, got %v", err)
	}
	last := resp.Steps[len(resp.Steps)-1]
	if last.Kind != models.StepError || last.ErrorKind != string(agenterr.IterationLimit) {
		t.Errorf("expected final step to be an IterationLimit error, got %+v", last)
	}
}

// TestWrapperAdapterMaxToolCallsLimit covers the max_tool_calls budget
// independent of max_iterations.
func TestWrapperAdapterMaxToolCallsLimit(t *testing.T) {
	batch := []providers.Chunk{
		{ToolCall: &models.ToolCall{ID: "call_1", Name: "nonexistent__tool", Input: json.RawMessage(`{}`)}},
		{ToolCall: &models.ToolCall{ID: "call_2", Name: "nonexistent__tool", Input: json.RawMessage(`{}`)}},
		{Done: true},
	}
	provider := &fakeProvider{batches: [][]providers.Chunk{batch}}
	router := mcp.NewRouter(nil, nil)
	a := NewWrapperAdapter(wrapperAgent(20, 1), wrapperModel(), provider, router)

	resp, err := a.Run(context.Background(), "call two tools", "")
	if agenterr.KindOf(err) != agenterr.IterationLimit {
		t.Fatalf("expected IterationLimit (max tool calls) error, got %v", err)
	}
	last := resp.Steps[len(resp.Steps)-1]
	if last.Kind != models.StepError {
		t.Errorf("expected final step to be an error, got %+v", last)
	}
}
