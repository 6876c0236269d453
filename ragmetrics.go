// Package ragmetrics instruments LLM client calls and ships a normalized
// record of each call (prompt, response, latency, token usage) to the
// RagMetrics backend for later analysis and evaluation.
//
// Monitoring is transparent: wrapped clients return exactly what the
// underlying client returns, and any failure inside the monitoring layer is
// logged locally and never surfaces into the application.
package ragmetrics

import (
	"context"
	"errors"
	"log"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ragmetrics-ai/ragmetrics-go/config"
	"github.com/ragmetrics-ai/ragmetrics-go/internal/queue"
	"github.com/ragmetrics-ai/ragmetrics-go/trace"
	"github.com/ragmetrics-ai/ragmetrics-go/transport"
)

// ErrMissingAPIKey is returned by Login when no key is supplied and
// RAGMETRICS_API_KEY is unset.
var ErrMissingAPIKey = errors.New("ragmetrics: missing API key; pass one to Login or set RAGMETRICS_API_KEY")

// TokenEstimator provides best-effort token counts for responses whose
// provider did not report usage. Estimates are recorded as metadata, never
// as provider usage.
type TokenEstimator interface {
	EstimateMessages(model string, msgs []trace.Message) (int, error)
}

// Client owns the connection to the RagMetrics backend: auth key, base URL,
// background delivery queue and the registry of monitored clients. Construct
// one with Login at startup and thread it through explicitly; there is no
// package-level state.
type Client struct {
	cfg       *config.Config
	transport *transport.Transport
	queue     *queue.Queue
	logger    *log.Logger
	tracer    oteltrace.Tracer
	estimator TokenEstimator
	metadata  map[string]any
	off       bool

	mu             sync.Mutex
	registry       map[any]any
	conversationID string
}

// Option configures a Client during Login.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL     string
	httpc       *http.Client
	logger      *log.Logger
	queueSize   int
	tracer      oteltrace.Tracer
	estimator   TokenEstimator
	metadata    map[string]any
	off         bool
}

// WithBaseURL overrides the backend base URL.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = u }
}

// WithHTTPClient replaces the HTTP client used by the transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpc = c }
}

// WithLogger replaces the default logger used for local warnings.
func WithLogger(l *log.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithQueueSize bounds the background delivery queue.
func WithQueueSize(n int) Option {
	return func(o *clientOptions) { o.queueSize = n }
}

// WithTracer additionally emits an OpenTelemetry span per recorded call.
func WithTracer(t oteltrace.Tracer) Option {
	return func(o *clientOptions) { o.tracer = t }
}

// WithTokenEstimator fills metadata.estimated_tokens when a response carries
// no provider-reported usage.
func WithTokenEstimator(e TokenEstimator) Option {
	return func(o *clientOptions) { o.estimator = e }
}

// WithMetadata attaches client-level metadata to every record. Per-wrap
// metadata takes precedence on key conflicts.
func WithMetadata(m map[string]any) Option {
	return func(o *clientOptions) { o.metadata = m }
}

// LoggingOff disables recording entirely: monitored clients pass calls
// through and no traces are sent. Key validation is skipped.
func LoggingOff() Option {
	return func(o *clientOptions) { o.off = true }
}

// Login validates the API key against the backend and returns a ready
// Client. An empty key falls back to the RAGMETRICS_API_KEY environment
// variable; if both are empty Login fails with ErrMissingAPIKey. Backend
// rejection surfaces as *transport.AuthError.
func Login(ctx context.Context, key string, opts ...Option) (*Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if key != "" {
		cfg.APIKey = key
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.queueSize > 0 {
		cfg.QueueSize = o.queueSize
	}
	if o.logger == nil {
		o.logger = log.Default()
	}

	c := &Client{
		cfg:            cfg,
		logger:         o.logger,
		tracer:         o.tracer,
		estimator:      o.estimator,
		metadata:       o.metadata,
		off:            o.off,
		registry:       make(map[any]any),
		conversationID: uuid.New().String(),
	}

	if c.off {
		c.logger.Printf("ragmetrics: logging explicitly disabled")
		return c, nil
	}

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	topts := []transport.Option{transport.WithLogger(o.logger)}
	if o.httpc != nil {
		topts = append(topts, transport.WithHTTPClient(o.httpc))
	}
	c.transport = transport.New(cfg.BaseURL, cfg.APIKey, topts...)

	info, err := c.transport.Login(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("ragmetrics: %s logged in", info.User.Username)

	c.queue = queue.New(c.transport, cfg.QueueSize, cfg.SendTimeout, o.logger)
	return c, nil
}

// Close flushes pending records, bounded by ctx.
func (c *Client) Close(ctx context.Context) error {
	if c.queue == nil {
		return nil
	}
	return c.queue.Close(ctx)
}

// Dropped reports how many records were discarded due to queue overflow.
func (c *Client) Dropped() uint64 {
	if c.queue == nil {
		return 0
	}
	return c.queue.Dropped()
}

// NewConversation rotates the conversation ID so subsequent records are
// grouped under a fresh thread. With an argument, that ID is used instead.
func (c *Client) NewConversation(id ...string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(id) > 0 && id[0] != "" {
		c.conversationID = id[0]
	} else {
		c.conversationID = uuid.New().String()
	}
	return c.conversationID
}

// Record implements trace.Recorder. It finalizes the record (conversation
// grouping, metadata merge, optional token estimate, optional span) and
// enqueues it for background delivery. It never blocks on the network and
// never panics into the caller.
func (c *Client) Record(rec *trace.Record) {
	if c == nil || rec == nil || c.off {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("ragmetrics: recovered while recording trace: %v", r)
		}
	}()

	if len(c.metadata) > 0 {
		merged := make(map[string]any, len(c.metadata)+len(rec.Metadata))
		maps.Copy(merged, c.metadata)
		maps.Copy(merged, rec.Metadata)
		rec.Metadata = merged
	}

	if rec.ConversationID == "" {
		rec.ConversationID = c.conversationFor(rec.InputMessages)
	}

	if rec.TokenUsage == nil && rec.Error == nil && c.estimator != nil {
		if n, err := c.estimator.EstimateMessages(rec.Model, rec.InputMessages); err == nil {
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]any, 1)
			}
			rec.Metadata["estimated_tokens"] = n
		}
	}

	if c.tracer != nil {
		c.emitSpan(rec)
	}

	c.queue.Enqueue(rec)
}

// conversationFor applies the grouping heuristic: a single leading user
// message that is not a tool result or continuation starts a new
// conversation; anything else continues the current one.
func (c *Client) conversationFor(msgs []trace.Message) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(msgs) == 1 {
		m := msgs[0]
		continuation := m.ToolCallID != "" || len(m.ToolCalls) > 0 ||
			m.Role == "assistant" || m.Role == "tool" || m.Role == "system"
		if !continuation {
			c.conversationID = uuid.New().String()
		}
	}
	return c.conversationID
}

func (c *Client) emitSpan(rec *trace.Record) {
	// Timestamp marks the end of the call, so the span is backdated by the
	// measured latency.
	start := rec.Timestamp.Add(-time.Duration(rec.LatencyMs) * time.Millisecond)
	_, span := c.tracer.Start(context.Background(), "llm.call",
		oteltrace.WithTimestamp(start),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("llm.provider", rec.Provider),
		attribute.String("llm.model", rec.Model),
		attribute.Int64("llm.latency_ms", rec.LatencyMs),
		attribute.String("ragmetrics.trace_id", rec.TraceID),
	)
	if rec.TokenUsage != nil {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", rec.TokenUsage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", rec.TokenUsage.CompletionTokens),
		)
	}
	if rec.Error != nil {
		span.SetStatus(codes.Error, rec.Error.Message)
	}
	span.End(oteltrace.WithTimestamp(rec.Timestamp))
}
