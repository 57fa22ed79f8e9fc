package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coreforge/agentd/internal/adapter"
	"github.com/coreforge/agentd/pkg/models"
)

// ChatRunner is the subset of the Agent Registry (C9) the OpenAI-compatible
// completions endpoint depends on: both the blocking and streaming run
// paths, matching *registry.Registry's Run/RunStream signatures.
type ChatRunner interface {
	Run(ctx context.Context, agentName, prompt, sessionID string) (*adapter.FinalResponse, error)
	RunStream(ctx context.Context, agentName, prompt, sessionID string) (<-chan models.ReasoningStep, error)
}

// completionsMessage mirrors the OpenAI chat message shape (spec §6).
type completionsMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionsRequest struct {
	Model       string               `json:"model"`
	Messages    []completionsMessage `json:"messages"`
	Stream      bool                 `json:"stream,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
}

type completionsChoice struct {
	Index        int                 `json:"index"`
	Message      *completionsMessage `json:"message,omitempty"`
	FinishReason *string             `json:"finish_reason"`
}

type completionsResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []completionsChoice `json:"choices"`
	Usage   completionsUsage    `json:"usage"`
}

type completionsUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completionsChunkDelta struct {
	Content *string `json:"content,omitempty"`
}

type completionsChunkChoice struct {
	Index        int                   `json:"index"`
	Delta        completionsChunkDelta `json:"delta"`
	FinishReason *string               `json:"finish_reason,omitempty"`
}

type completionsChunk struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Created int64                    `json:"created"`
	Model   string                   `json:"model"`
	Choices []completionsChunkChoice `json:"choices"`
}

// ChatCompletionsHandler serves POST /v1/chat/completions in both
// non-streaming and streaming (stream:true) modes, translating agent runs
// into the OpenAI-compatible envelope spec §6 describes. A failed
// non-streaming run still returns HTTP 200 with the error text as the
// assistant message and finish_reason "error", per spec §7.
func ChatCompletionsHandler(reg ChatRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req completionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model == "" || len(req.Messages) == 0 {
			http.Error(w, "model and messages are required", http.StatusBadRequest)
			return
		}
		prompt := lastUserContent(req.Messages)
		sessionID := r.Header.Get("X-Session-Id")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		if req.Stream {
			serveStreamingCompletion(w, r, reg, req.Model, prompt, sessionID)
			return
		}
		serveBlockingCompletion(w, r, reg, req.Model, prompt, sessionID)
	}
}

func lastUserContent(messages []completionsMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return messages[len(messages)-1].Content
}

func serveBlockingCompletion(w http.ResponseWriter, r *http.Request, reg ChatRunner, model, prompt, sessionID string) {
	resp, err := reg.Run(r.Context(), model, prompt, sessionID)

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	finish := "stop"
	content := ""
	if err != nil {
		finish = "error"
		content = err.Error()
	} else {
		content = resp.Text
	}

	out := completionsResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []completionsChoice{{
			Index:        0,
			Message:      &completionsMessage{Role: "assistant", Content: content},
			FinishReason: &finish,
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

func serveStreamingCompletion(w http.ResponseWriter, r *http.Request, reg ChatRunner, model, prompt, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	steps, err := reg.RunStream(r.Context(), model, prompt, sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	for step := range steps {
		switch step.Kind {
		case models.StepFinalAnswer:
			text := step.Text
			writeChunk(w, completionsChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []completionsChunkChoice{{Index: 0, Delta: completionsChunkDelta{Content: &text}}},
			})
			finish := "stop"
			writeChunk(w, completionsChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []completionsChunkChoice{{Index: 0, FinishReason: &finish}},
			})
		case models.StepError:
			finish := "error"
			errText := step.Error
			writeChunk(w, completionsChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []completionsChunkChoice{{Index: 0, Delta: completionsChunkDelta{Content: &errText}, FinishReason: &finish}},
			})
		case models.StepThought:
			text := step.Text
			writeChunk(w, completionsChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []completionsChunkChoice{{Index: 0, Delta: completionsChunkDelta{Content: &text}}},
			})
		default:
			continue
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeChunk(w http.ResponseWriter, chunk completionsChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
