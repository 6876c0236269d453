package ragmetrics

import (
	"context"
	"reflect"

	"github.com/ragmetrics-ai/ragmetrics-go/integrations/chain"
	"github.com/ragmetrics-ai/ragmetrics-go/integrations/completion"
	"github.com/ragmetrics-ai/ragmetrics-go/integrations/openaichat"
)

// MonitorOption adjusts how a client is wrapped.
type MonitorOption func(*monitorOptions)

type monitorOptions struct {
	providerHint string
	metadata     map[string]any
}

// WithProviderHint overrides the provider tag recorded for the wrapped
// client.
func WithProviderHint(p string) MonitorOption {
	return func(o *monitorOptions) { o.providerHint = p }
}

// WithWrapMetadata attaches metadata to every record from this wrapper.
func WithWrapMetadata(m map[string]any) MonitorOption {
	return func(o *monitorOptions) { o.metadata = m }
}

// Monitor installs recording on a supported client value and returns the
// decorated replacement. Supported shapes:
//
//   - openaichat.ChatClient (e.g. *openai.Client) -> *openaichat.Client
//   - chain.Runnable -> *chain.Monitored
//   - completion.Func, or a plain function with its signature -> completion.Func
//
// Monitoring is best effort: an unrecognized value is returned unchanged
// after a single warning. Monitoring the same client instance again, or a
// value Monitor already returned, yields the existing wrapper.
func (c *Client) Monitor(v any, opts ...MonitorOption) any {
	if v == nil {
		c.logger.Printf("ragmetrics: monitor called with nil client, skipping")
		return v
	}

	var o monitorOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Values that are already wrappers pass through untouched.
	switch v.(type) {
	case *openaichat.Client, *chain.Monitored:
		return v
	}

	registrable := reflect.TypeOf(v).Comparable()
	if registrable {
		c.mu.Lock()
		wrapped, ok := c.registry[v]
		c.mu.Unlock()
		if ok {
			return wrapped
		}
	}

	var wrapped any
	switch t := v.(type) {
	case openaichat.ChatClient:
		var wopts []openaichat.Option
		if o.providerHint != "" {
			wopts = append(wopts, openaichat.WithProvider(o.providerHint))
		}
		if o.metadata != nil {
			wopts = append(wopts, openaichat.WithMetadata(o.metadata))
		}
		wrapped = openaichat.Wrap(c, t, wopts...)
	case chain.Runnable:
		var wopts []chain.Option
		if o.providerHint != "" {
			wopts = append(wopts, chain.WithProvider(o.providerHint))
		}
		if o.metadata != nil {
			wopts = append(wopts, chain.WithMetadata(o.metadata))
		}
		wrapped = chain.Wrap(c, t, wopts...)
	case completion.Func:
		// Func values are not comparable and cannot be registered.
		return completion.Wrap(c, o.providerHint, t)
	case func(ctx context.Context, model, prompt string) (string, error):
		// Plain function values only match their literal signature.
		return completion.Wrap(c, o.providerHint, completion.Func(t))
	default:
		c.logger.Printf("ragmetrics: no integration found for client of type %T, returning it unmonitored", v)
		return v
	}

	if registrable {
		c.mu.Lock()
		c.registry[v] = wrapped
		c.mu.Unlock()
	}
	return wrapped
}
