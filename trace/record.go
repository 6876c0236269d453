package trace

import (
	"time"

	"github.com/google/uuid"
)

// Record is the normalized form of one intercepted LLM call. It is built once
// by Normalize and never mutated after it has been handed to a Recorder.
type Record struct {
	TraceID         string         `json:"trace_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Provider        string         `json:"provider"`
	Model           string         `json:"model,omitempty"`
	ConversationID  string         `json:"conversation_id,omitempty"`
	InputMessages   []Message      `json:"input_messages"`
	OutputText      string         `json:"output_text,omitempty"`
	OutputToolCalls []ToolCall     `json:"output_tool_calls,omitempty"`
	TokenUsage      *TokenUsage    `json:"token_usage,omitempty"`
	LatencyMs       int64          `json:"latency_ms"`
	Error           *CallError     `json:"error,omitempty"`
	Caller          string         `json:"caller,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Contexts        []string       `json:"contexts,omitempty"`
	Expected        string         `json:"expected,omitempty"`
	Tools           []any          `json:"tools,omitempty"`
	ToolChoice      any            `json:"tool_choice,omitempty"`
}

// Message is one role/content pair from the prompt.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// TokenUsage holds provider-reported token counts. A nil *TokenUsage on a
// Record means the provider did not report usage; counts are never invented.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CallError describes a failure of the wrapped provider call.
type CallError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Recorder accepts finished records. The root ragmetrics.Client implements it;
// adapters depend only on this interface so custom sinks can be plugged in.
type Recorder interface {
	Record(rec *Record)
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}
