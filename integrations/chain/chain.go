// Package chain decorates chain-style runnables (LangChain-shaped
// Invoke(ctx, input) components) with RagMetrics recording.
package chain

import (
	"context"
	"time"

	"github.com/ragmetrics-ai/ragmetrics-go/trace"
)

// Runnable is the chain capability being decorated.
type Runnable interface {
	Invoke(ctx context.Context, input string) (string, error)
}

// Monitored wraps a Runnable; Invoke passes through unchanged while each
// call is recorded.
type Monitored struct {
	inner    Runnable
	rec      trace.Recorder
	provider string
	metadata map[string]any
}

type Option func(*Monitored)

// WithProvider overrides the provider tag (default "chain").
func WithProvider(p string) Option {
	return func(m *Monitored) { m.provider = p }
}

// WithMetadata attaches metadata to every record produced by this wrapper.
func WithMetadata(md map[string]any) Option {
	return func(m *Monitored) { m.metadata = md }
}

// Wrap decorates r. Wrapping an already-wrapped runnable returns it
// unchanged.
func Wrap(rec trace.Recorder, r Runnable, opts ...Option) *Monitored {
	if wrapped, ok := r.(*Monitored); ok {
		return wrapped
	}
	m := &Monitored{inner: r, rec: rec, provider: "chain"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Unwrap returns the inner runnable.
func (m *Monitored) Unwrap() Runnable {
	return m.inner
}

func (m *Monitored) Invoke(ctx context.Context, input string) (string, error) {
	start := time.Now()
	output, err := m.inner.Invoke(ctx, input)
	elapsed := time.Since(start)

	var response any
	if err == nil {
		response = output
	}
	msgs := []trace.Message{{Role: "user", Content: input}}
	rec := trace.Normalize(m.provider, "", msgs, response, err, elapsed)
	if len(m.metadata) > 0 {
		rec.Metadata = make(map[string]any, len(m.metadata))
		for k, v := range m.metadata {
			rec.Metadata[k] = v
		}
	}
	m.rec.Record(rec)

	return output, err
}
