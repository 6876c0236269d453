package trace

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const modulePath = "github.com/ragmetrics-ai/ragmetrics-go"

// Normalize converts one provider call into a Record. response may be a typed
// go-openai response, a flat map (older dict-shaped payloads), a plain string,
// or nil when the call failed. Fields that cannot be located are left absent.
func Normalize(provider, model string, input []Message, response any, callErr error, elapsed time.Duration) *Record {
	rec := &Record{
		TraceID:       NewTraceID(),
		Timestamp:     time.Now().UTC(),
		Provider:      provider,
		Model:         model,
		InputMessages: input,
		LatencyMs:     elapsed.Milliseconds(),
		Caller:        externalCaller(),
	}

	if callErr != nil {
		rec.Error = &CallError{
			Kind:    fmt.Sprintf("%T", callErr),
			Message: callErr.Error(),
		}
		return rec
	}

	switch resp := response.(type) {
	case openai.ChatCompletionResponse:
		normalizeOpenAI(rec, &resp)
	case *openai.ChatCompletionResponse:
		if resp != nil {
			normalizeOpenAI(rec, resp)
		}
	case map[string]any:
		normalizeMap(rec, resp)
	case string:
		rec.OutputText = resp
	case nil:
	default:
		rec.OutputText = fmt.Sprint(resp)
	}
	return rec
}

func normalizeOpenAI(rec *Record, resp *openai.ChatCompletionResponse) {
	if rec.Model == "" {
		rec.Model = resp.Model
	}
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		rec.OutputText = msg.Content
		for _, tc := range msg.ToolCalls {
			rec.OutputToolCalls = append(rec.OutputToolCalls, ToolCall{
				ID:        tc.ID,
				Type:      string(tc.Type),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	// The SDK always materializes Usage; an all-zero struct means the
	// provider reported nothing, so the record keeps the field absent.
	if resp.Usage.PromptTokens != 0 || resp.Usage.CompletionTokens != 0 || resp.Usage.TotalTokens != 0 {
		rec.TokenUsage = &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
}

// normalizeMap covers the older flat response shape:
// {"model": ..., "choices": [{"message": {"content": ...}}], "usage": {...}}.
func normalizeMap(rec *Record, resp map[string]any) {
	if rec.Model == "" {
		if m, ok := resp["model"].(string); ok {
			rec.Model = m
		}
	}

	if choices, ok := resp["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				if content, ok := msg["content"].(string); ok {
					rec.OutputText = content
				}
			} else if text, ok := choice["text"].(string); ok {
				// completion-style choice without a message object
				rec.OutputText = text
			}
		}
	} else if content, ok := resp["content"].(string); ok {
		rec.OutputText = content
	}

	if usage, ok := resp["usage"].(map[string]any); ok {
		// Only counts present in the payload are carried over; a missing
		// total stays zero rather than being derived.
		tu := &TokenUsage{
			PromptTokens:     intField(usage, "prompt_tokens"),
			CompletionTokens: intField(usage, "completion_tokens"),
			TotalTokens:      intField(usage, "total_tokens"),
		}
		if tu.PromptTokens != 0 || tu.CompletionTokens != 0 || tu.TotalTokens != 0 {
			rec.TokenUsage = tu
		}
	}
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// externalCaller walks up the stack and returns the name of the first
// function outside this module, identifying which user function triggered
// the monitored call.
func externalCaller() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fn := frame.Function
		if fn != "" &&
			!strings.HasPrefix(fn, modulePath) &&
			!strings.HasPrefix(fn, "runtime.") &&
			!strings.HasPrefix(fn, "testing.") {
			if idx := strings.LastIndex(fn, "/"); idx >= 0 {
				fn = fn[idx+1:]
			}
			return fn
		}
		if !more {
			return ""
		}
	}
}
