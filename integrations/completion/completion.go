// Package completion wraps bare completion functions, covering SDKs that
// expose a module-level call instead of a client object.
package completion

import (
	"context"
	"time"

	"github.com/ragmetrics-ai/ragmetrics-go/trace"
)

// Func is a prompt-in, text-out completion call.
type Func func(ctx context.Context, model, prompt string) (string, error)

// Wrap returns a Func that records every call before returning the original
// result or error unchanged. Function values are not comparable, so unlike
// client wrapping this is not idempotent; wrap once at setup.
func Wrap(rec trace.Recorder, provider string, fn Func) Func {
	if provider == "" {
		provider = "completion"
	}
	return func(ctx context.Context, model, prompt string) (string, error) {
		start := time.Now()
		output, err := fn(ctx, model, prompt)
		elapsed := time.Since(start)

		var response any
		if err == nil {
			response = output
		}
		msgs := []trace.Message{{Role: "user", Content: prompt}}
		rec.Record(trace.Normalize(provider, model, msgs, response, err, elapsed))

		return output, err
	}
}
