// Package openaichat decorates the chat-completion surface of
// github.com/sashabaranov/go-openai clients with RagMetrics recording.
package openaichat

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ragmetrics-ai/ragmetrics-go/trace"
)

// ChatClient is the capability being decorated. *openai.Client satisfies it,
// as does any compatible client (Azure OpenAI via go-openai, test doubles).
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps a ChatClient: every CreateChatCompletion passes through to
// the inner client unchanged while a record of the call is handed to the
// Recorder.
type Client struct {
	inner    ChatClient
	rec      trace.Recorder
	provider string
	metadata map[string]any
}

// Option configures a wrapped client.
type Option func(*Client)

// WithProvider overrides the provider tag (default "openai"), e.g. for
// Azure-hosted deployments.
func WithProvider(p string) Option {
	return func(c *Client) { c.provider = p }
}

// WithMetadata attaches metadata to every record produced by this wrapper.
func WithMetadata(m map[string]any) Option {
	return func(c *Client) { c.metadata = m }
}

// Wrap decorates client. Wrapping an already-wrapped client returns it
// unchanged.
func Wrap(r trace.Recorder, client ChatClient, opts ...Option) *Client {
	if wrapped, ok := client.(*Client); ok {
		return wrapped
	}
	c := &Client{inner: client, rec: r, provider: "openai"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Unwrap returns the inner client.
func (c *Client) Unwrap() ChatClient {
	return c.inner
}

// CreateChatCompletion invokes the inner client and records the call. The
// response and error are returned exactly as the inner client produced them.
func (c *Client) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	start := time.Now()
	resp, err := c.inner.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start)

	c.record(req, resp, err, elapsed)
	return resp, err
}

func (c *Client) record(req openai.ChatCompletionRequest, resp openai.ChatCompletionResponse, callErr error, elapsed time.Duration) {
	var response any
	if callErr == nil {
		response = resp
	}
	rec := trace.Normalize(c.provider, req.Model, messagesFrom(req.Messages), response, callErr, elapsed)

	for _, tool := range req.Tools {
		rec.Tools = append(rec.Tools, tool)
	}
	if req.ToolChoice != nil {
		rec.ToolChoice = req.ToolChoice
	}
	if len(c.metadata) > 0 {
		rec.Metadata = make(map[string]any, len(c.metadata))
		for k, v := range c.metadata {
			rec.Metadata[k] = v
		}
	}

	c.rec.Record(rec)
}

func messagesFrom(msgs []openai.ChatCompletionMessage) []trace.Message {
	out := make([]trace.Message, 0, len(msgs))
	for _, m := range msgs {
		tm := trace.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			tm.ToolCalls = append(tm.ToolCalls, trace.ToolCall{
				ID:        tc.ID,
				Type:      string(tc.Type),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		out = append(out, tm)
	}
	return out
}
