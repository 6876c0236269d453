package ragmetrics_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragmetrics "github.com/ragmetrics-ai/ragmetrics-go"
	"github.com/ragmetrics-ai/ragmetrics-go/integrations/chain"
	"github.com/ragmetrics-ai/ragmetrics-go/integrations/completion"
	"github.com/ragmetrics-ai/ragmetrics-go/integrations/openaichat"
	"github.com/ragmetrics-ai/ragmetrics-go/rmtest"
	"github.com/ragmetrics-ai/ragmetrics-go/trace"
	"github.com/ragmetrics-ai/ragmetrics-go/transport"
)

type fakeChatClient struct {
	resp  openai.ChatCompletionResponse
	err   error
	calls int
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	return f.resp, f.err
}

func chatResponse(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:    "resp-1",
		Model: "m",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: text}},
		},
	}
}

func waitForRecords(t *testing.T, server *rmtest.Server, n int) []trace.Record {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		recs := server.Records()
		if len(recs) >= n {
			return recs
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d records, have %d", n, len(server.Records()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLoginMonitorCreateLogsOneRecord(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	c, err := ragmetrics.Login(context.Background(), "k1", ragmetrics.WithBaseURL(server.URL()))
	require.NoError(t, err)
	defer c.Close(context.Background())

	assert.Equal(t, 1, server.Logins())

	inner := &fakeChatClient{resp: chatResponse("hello")}
	monitored := c.Monitor(inner).(*openaichat.Client)

	resp, err := monitored.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "m",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)

	recs := waitForRecords(t, server, 1)
	require.Len(t, recs, 1)
	assert.Equal(t, "m", recs[0].Model)
	assert.Equal(t, []trace.Message{{Role: "user", Content: "hi"}}, recs[0].InputMessages)
	assert.Equal(t, "hello", recs[0].OutputText)
	assert.Nil(t, recs[0].Error)
	assert.NotEmpty(t, recs[0].ConversationID)
}

func TestLoginEmptyKey(t *testing.T) {
	t.Setenv("RAGMETRICS_API_KEY", "")
	_, err := ragmetrics.Login(context.Background(), "")
	assert.ErrorIs(t, err, ragmetrics.ErrMissingAPIKey)
}

func TestLoginKeyFromEnv(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	t.Setenv("RAGMETRICS_API_KEY", "env-key")
	t.Setenv("RAGMETRICS_BASE_URL", server.URL())

	c, err := ragmetrics.Login(context.Background(), "")
	require.NoError(t, err)
	defer c.Close(context.Background())
	assert.Equal(t, 1, server.Logins())
}

func TestLoginRejectedKey(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	// Wrong base path: the backend answers 404 and Login must fail
	// instead of returning a half-configured client.
	_, err := ragmetrics.Login(context.Background(), "k1",
		ragmetrics.WithBaseURL(server.URL()+"/missing"))

	var apiErr *transport.APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestMonitorTwiceWrapsOnce(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	c, err := ragmetrics.Login(context.Background(), "k1", ragmetrics.WithBaseURL(server.URL()))
	require.NoError(t, err)
	defer c.Close(context.Background())

	inner := &fakeChatClient{resp: chatResponse("hi")}
	first := c.Monitor(inner)
	second := c.Monitor(inner)
	assert.Same(t, first, second, "re-monitoring the same instance returns the existing wrapper")

	third := c.Monitor(first)
	assert.Same(t, first, third, "monitoring a wrapper is a no-op")

	_, _ = second.(*openaichat.Client).CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "m",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, c.Close(context.Background()))
	assert.Len(t, server.Records(), 1, "single wrap means single record per call")
}

func TestMonitorUnrecognizedShape(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	var buf bytes.Buffer
	c, err := ragmetrics.Login(context.Background(), "k1",
		ragmetrics.WithBaseURL(server.URL()),
		ragmetrics.WithLogger(log.New(&buf, "", 0)))
	require.NoError(t, err)
	defer c.Close(context.Background())

	type opaque struct{ n int }
	v := &opaque{n: 1}
	got := c.Monitor(v)

	assert.Same(t, v, got, "unrecognized values come back unmodified")
	warnings := strings.Count(buf.String(), "no integration found")
	assert.Equal(t, 1, warnings, "exactly one warning is logged")
}

func TestTransportFailureDoesNotAffectCall(t *testing.T) {
	server := rmtest.NewServer()

	var buf bytes.Buffer
	c, err := ragmetrics.Login(context.Background(), "k1",
		ragmetrics.WithBaseURL(server.URL()),
		ragmetrics.WithLogger(log.New(&buf, "", 0)))
	require.NoError(t, err)

	// Backend goes away after login; monitored calls must not notice.
	server.Close()

	inner := &fakeChatClient{resp: chatResponse("still fine")}
	monitored := c.Monitor(inner).(*openaichat.Client)

	resp, err := monitored.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "m",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "still fine", resp.Choices[0].Message.Content)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Close(ctx)
}

func TestOriginalErrorPropagates(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	c, err := ragmetrics.Login(context.Background(), "k1", ragmetrics.WithBaseURL(server.URL()))
	require.NoError(t, err)
	defer c.Close(context.Background())

	wantErr := errors.New("context length exceeded")
	inner := &fakeChatClient{err: wantErr}
	monitored := c.Monitor(inner).(*openaichat.Client)

	_, err = monitored.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "m",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	assert.Same(t, wantErr, err)

	recs := waitForRecords(t, server, 1)
	require.NotNil(t, recs[0].Error)
	assert.Equal(t, "context length exceeded", recs[0].Error.Message)
}

func TestConversationGrouping(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	c, err := ragmetrics.Login(context.Background(), "k1", ragmetrics.WithBaseURL(server.URL()))
	require.NoError(t, err)
	defer c.Close(context.Background())

	inner := &fakeChatClient{resp: chatResponse("ok")}
	monitored := c.Monitor(inner).(*openaichat.Client)

	single := openai.ChatCompletionRequest{
		Model:    "m",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "fresh question"}},
	}
	multi := openai.ChatCompletionRequest{
		Model: "m",
		Messages: []openai.ChatCompletionMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "follow up"},
		},
	}

	_, _ = monitored.CreateChatCompletion(context.Background(), single)
	_, _ = monitored.CreateChatCompletion(context.Background(), multi)
	_, _ = monitored.CreateChatCompletion(context.Background(), single)

	recs := waitForRecords(t, server, 3)
	assert.Equal(t, recs[0].ConversationID, recs[1].ConversationID,
		"a multi-message call continues the conversation")
	assert.NotEqual(t, recs[1].ConversationID, recs[2].ConversationID,
		"a fresh single user message starts a new conversation")
}

func TestChainMonitoring(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	c, err := ragmetrics.Login(context.Background(), "k1", ragmetrics.WithBaseURL(server.URL()))
	require.NoError(t, err)
	defer c.Close(context.Background())

	monitored := c.Monitor(&echoRunnable{}, ragmetrics.WithProviderHint("langchain")).(*chain.Monitored)

	out, err := monitored.Invoke(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", out)

	recs := waitForRecords(t, server, 1)
	assert.Equal(t, "langchain", recs[0].Provider)
	assert.Equal(t, "echo: ping", recs[0].OutputText)
}

func TestMonitorCompletionFunction(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	c, err := ragmetrics.Login(context.Background(), "k1", ragmetrics.WithBaseURL(server.URL()))
	require.NoError(t, err)
	defer c.Close(context.Background())

	// A plain function with the completion signature, no pre-conversion.
	legacy := func(ctx context.Context, model, prompt string) (string, error) {
		return "done: " + prompt, nil
	}
	monitored, ok := c.Monitor(legacy).(completion.Func)
	require.True(t, ok, "plain completion functions get wrapped, not passed through")

	out, err := monitored(context.Background(), "legacy-model", "summarize")
	require.NoError(t, err)
	assert.Equal(t, "done: summarize", out)

	recs := waitForRecords(t, server, 1)
	assert.Equal(t, "completion", recs[0].Provider)
	assert.Equal(t, "legacy-model", recs[0].Model)
	assert.Equal(t, "summarize", recs[0].InputMessages[0].Content)
	assert.Equal(t, "done: summarize", recs[0].OutputText)
}

type echoRunnable struct{}

func (echoRunnable) Invoke(ctx context.Context, input string) (string, error) {
	return "echo: " + input, nil
}

type stubEstimator struct{ n int }

func (s stubEstimator) EstimateMessages(model string, msgs []trace.Message) (int, error) {
	return s.n, nil
}

func TestTokenEstimatorFillsMetadataOnly(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	c, err := ragmetrics.Login(context.Background(), "k1",
		ragmetrics.WithBaseURL(server.URL()),
		ragmetrics.WithTokenEstimator(stubEstimator{n: 7}))
	require.NoError(t, err)
	defer c.Close(context.Background())

	inner := &fakeChatClient{resp: chatResponse("no usage reported")}
	monitored := c.Monitor(inner).(*openaichat.Client)
	_, _ = monitored.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "m",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})

	recs := waitForRecords(t, server, 1)
	assert.Nil(t, recs[0].TokenUsage, "estimates never masquerade as provider usage")
	assert.Equal(t, float64(7), recs[0].Metadata["estimated_tokens"], "estimate lands in metadata")
}

func TestLoggingOff(t *testing.T) {
	c, err := ragmetrics.Login(context.Background(), "", ragmetrics.LoggingOff())
	require.NoError(t, err, "logging-off mode needs no key and no backend")

	inner := &fakeChatClient{resp: chatResponse("quiet")}
	monitored := c.Monitor(inner).(*openaichat.Client)

	resp, err := monitored.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "m",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "quiet", resp.Choices[0].Message.Content)
	require.NoError(t, c.Close(context.Background()))
}

func TestTracedFunction(t *testing.T) {
	server := rmtest.NewServer()
	defer server.Close()

	c, err := ragmetrics.Login(context.Background(), "k1", ragmetrics.WithBaseURL(server.URL()))
	require.NoError(t, err)
	defer c.Close(context.Background())

	lookup := ragmetrics.Traced(c, "lookup", func(ctx context.Context, city string) (string, error) {
		return "sunny in " + city, nil
	})

	out, err := lookup(context.Background(), "Paris")
	require.NoError(t, err)
	assert.Equal(t, "sunny in Paris", out)

	recs := waitForRecords(t, server, 1)
	assert.Equal(t, "function", recs[0].Provider)
	assert.Equal(t, "=lookup(Paris)", recs[0].InputMessages[0].Content)
	assert.Equal(t, "sunny in Paris", recs[0].OutputText)
	assert.Equal(t, true, recs[0].Metadata["traced_call"])
}
