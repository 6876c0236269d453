package ragmetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/ragmetrics-ai/ragmetrics-go/trace"
)

// Traced wraps an arbitrary function so each invocation is logged as a
// trace, which is useful for retrieval steps in RAG pipelines. The wrapped
// function's result and error are returned unchanged.
func Traced[In, Out any](c *Client, name string, fn func(ctx context.Context, in In) (Out, error)) func(ctx context.Context, in In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		start := time.Now()
		out, err := fn(ctx, in)
		elapsed := time.Since(start)

		call := fmt.Sprintf("=%s(%v)", name, in)
		msgs := []trace.Message{{Role: "user", Content: call}}
		var response any
		if err == nil {
			response = fmt.Sprint(out)
		}
		rec := trace.Normalize("function", "", msgs, response, err, elapsed)
		rec.Metadata = map[string]any{"function_name": name, "traced_call": true}
		c.Record(rec)

		return out, err
	}
}
