package models

import (
	"encoding/json"
	"time"
)

// ReasoningStepKind discriminates the kind of step emitted while an agent
// processes one request.
type ReasoningStepKind string

const (
	StepThought      ReasoningStepKind = "thought"
	StepToolCall     ReasoningStepKind = "tool_call"
	StepToolResult   ReasoningStepKind = "tool_result"
	StepFinalAnswer  ReasoningStepKind = "final_answer"
	StepError        ReasoningStepKind = "error"
)

// ReasoningStep is one emitted unit of an agent run. Iteration is
// monotonically increasing per request (spec P3): a thought/tool_call/
// tool_result triple shares the iteration that produced it, and the next
// iteration's steps carry a strictly larger value.
type ReasoningStep struct {
	Kind       ReasoningStepKind `json:"kind"`
	Iteration  int               `json:"iteration"`
	Text       string            `json:"text,omitempty"`
	ToolCall   *ToolCall         `json:"tool_call,omitempty"`
	ToolResult *ToolResult       `json:"tool_result,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Time       time.Time         `json:"time"`
}

// CacheEntry is one stored response in the in-memory response cache (C10).
type CacheEntry struct {
	Key       string          `json:"key"`
	Response  json.RawMessage `json:"response"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}
