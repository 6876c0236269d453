package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ragmetrics-ai/ragmetrics-go/trace"
)

const (
	loginPath    = "/api/client/login/"
	logTracePath = "/api/client/logtrace/"

	// DefaultSendTimeout bounds every network call so a hung backend can
	// never hang the monitored application.
	DefaultSendTimeout = 10 * time.Second
)

// AuthError indicates the backend rejected the API key (401/403).
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ragmetrics: authentication failed (status %d): %s", e.StatusCode, e.Body)
}

// APIError indicates any other non-2xx backend response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ragmetrics: api error (status %d): %s", e.StatusCode, e.Body)
}

// Transport sends records to the RagMetrics backend. Failures never
// propagate to the monitored application: callers log and drop.
type Transport struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *log.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpc = c }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

func New(baseURL, apiKey string, opts ...Option) *Transport {
	t := &Transport{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: DefaultSendTimeout},
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ragmetrics-transport",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return t
}

// LoginInfo is the backend's response to a successful key validation.
type LoginInfo struct {
	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

// Login validates the API key against the backend.
func (t *Transport) Login(ctx context.Context) (*LoginInfo, error) {
	body, err := t.post(ctx, loginPath, map[string]string{"key": t.apiKey})
	if err != nil {
		return nil, err
	}
	var info LoginInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("ragmetrics: invalid login response: %w", err)
	}
	return &info, nil
}

// Send delivers one record. No retries; a failed send means the record is
// lost, which the caller accepts by contract.
func (t *Transport) Send(ctx context.Context, rec *trace.Record) error {
	_, err := t.breaker.Execute(func() (any, error) {
		_, err := t.post(ctx, logTracePath, rec)
		return nil, err
	})
	return err
}

// PostJSON posts payload to path and, when out is non-nil, decodes the JSON
// response into it.
func (t *Transport) PostJSON(ctx context.Context, path string, payload, out any) error {
	body, err := t.post(ctx, path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("ragmetrics: invalid response from %s: %w", path, err)
	}
	return nil
}

// GetJSON issues a GET with the given query parameters and decodes the JSON
// response into out.
func (t *Transport) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := t.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	body, err := t.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("ragmetrics: invalid response from %s: %w", path, err)
	}
	return nil
}

func (t *Transport) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ragmetrics: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *Transport) do(req *http.Request) ([]byte, error) {
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Token "+t.apiKey)
	}

	resp, err := t.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ragmetrics: request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
