package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/i2y/marengo/provider"
	"github.com/i2y/marengo/transport"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithTransport(transport.New(transport.WithSchedule(0))),
	)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New()
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv("OPENAI_API_KEY", "from-env")
	p, err := New()
	require.NoError(t, err)
	assert.Equal(t, "from-env", p.client.apiKey)
}

func TestProvider_Capabilities(t *testing.T) {
	p := &Provider{}
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, provider.Capabilities{SystemRole: true, StrictSchemas: true}, p.Capabilities())
}

func TestProvider_Call(t *testing.T) {
	var body []byte
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{
			"choices": [{
				"message": {"role": "assistant", "content": null, "tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "add_numbers", "arguments": "{\"a\":2,\"b\":2}"}}
				]},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`)
	})

	temp := 0.5
	resp, err := p.Call(context.Background(), &provider.Request{
		Model:       "gpt-4o-mini",
		Temperature: &temp,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "Be brief."},
			{Role: provider.RoleUser, Content: "What is 2+2?", Author: "ada"},
			{Role: provider.RoleAssistant, FunctionCalls: []provider.FunctionCall{{ID: "c0", Name: "lookup", Arguments: "{}"}}},
			{Role: provider.RoleFunction, FunctionResult: &provider.FunctionResult{ID: "c0", Name: "lookup", Value: "found"}},
			{Role: provider.RoleFunction, FunctionResult: &provider.FunctionResult{Value: "Either call a function or respond with text."}},
			{Role: provider.RoleUser, Content: "this one", Images: []provider.Image{{URL: "https://example.com/cat.png"}}},
		},
		Tools: []provider.ToolDef{{
			Name:        "add_numbers",
			Description: "Add two numbers",
			Parameters:  []byte(`{"type":"object","properties":{"a":{"type":"integer"}}}`),
			Strict:      true,
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, provider.FinishReasonToolCalls, resp.FinishReason)
	assert.Equal(t, provider.Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20}, resp.Usage)
	require.Len(t, resp.FunctionCalls, 1)
	assert.Equal(t, provider.FunctionCall{ID: "call_1", Name: "add_numbers", Arguments: `{"a":2,"b":2}`}, resp.FunctionCalls[0])

	req := gjson.ParseBytes(body)
	assert.Equal(t, "gpt-4o-mini", req.Get("model").String())
	assert.InDelta(t, 0.5, req.Get("temperature").Float(), 1e-9)
	assert.False(t, req.Get("stream").Exists())

	msgs := req.Get("messages").Array()
	require.Len(t, msgs, 6)
	assert.Equal(t, "system", msgs[0].Get("role").String())
	assert.Equal(t, "ada", msgs[1].Get("name").String())
	assert.Equal(t, "c0", msgs[2].Get("tool_calls.0.id").String())
	assert.Equal(t, "lookup", msgs[2].Get("tool_calls.0.function.name").String())
	assert.False(t, msgs[2].Get("content").Exists())
	assert.Equal(t, "tool", msgs[3].Get("role").String())
	assert.Equal(t, "c0", msgs[3].Get("tool_call_id").String())
	assert.Equal(t, "user", msgs[4].Get("role").String())
	assert.Equal(t, "Either call a function or respond with text.", msgs[4].Get("content").String())
	assert.Equal(t, "image_url", msgs[5].Get("content.1.type").String())
	assert.Equal(t, "https://example.com/cat.png", msgs[5].Get("content.1.image_url.url").String())

	tool := req.Get("tools.0")
	assert.Equal(t, "function", tool.Get("type").String())
	assert.Equal(t, "add_numbers", tool.Get("function.name").String())
	assert.True(t, tool.Get("function.strict").Bool())
	assert.Equal(t, "integer", tool.Get("function.parameters.properties.a.type").String())
}

func TestProvider_CallErrors(t *testing.T) {
	t.Run("retries then reports the API error", func(t *testing.T) {
		var hits atomic.Int32
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`)
		})

		_, err := p.Call(context.Background(), &provider.Request{Model: "m", MaxAttempts: 3})
		require.Error(t, err)
		assert.EqualValues(t, 3, hits.Load())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		assert.Equal(t, "Rate limit reached", apiErr.Message)
		assert.Equal(t, "rate_limit_exceeded", apiErr.Code)

		var terr *transport.Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, 3, terr.Attempts)
	})

	t.Run("recovers after a transient failure", func(t *testing.T) {
		var hits atomic.Int32
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"4"},"finish_reason":"stop"}]}`)
		})

		resp, err := p.Call(context.Background(), &provider.Request{Model: "m", MaxAttempts: 3})
		require.NoError(t, err)
		assert.Equal(t, "4", resp.Content)
		assert.Equal(t, provider.FinishReasonStop, resp.FinishReason)
	})

	t.Run("non-JSON error body", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusServiceUnavailable)
		})
		_, err := p.Call(context.Background(), &provider.Request{Model: "m", MaxAttempts: 1})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Contains(t, apiErr.Message, "upstream down")
	})

	t.Run("cancelled", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("request must not be sent")
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Call(ctx, &provider.Request{Model: "m", MaxAttempts: 3})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func sse(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, f := range frames {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", f)
	}
}

func drain(t *testing.T, s provider.ResponseStream) []provider.StreamChunk {
	t.Helper()
	defer func() { _ = s.Close() }()
	var chunks []provider.StreamChunk
	for s.Next() {
		chunks = append(chunks, *s.Current())
	}
	require.NoError(t, s.Err())
	return chunks
}

func TestProvider_CallStream(t *testing.T) {
	var body []byte
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sse(w,
			`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Let me "}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"add."}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"add_numbers","arguments":""}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"a\":"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"2}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
			`[DONE]`,
		)
	})

	s, err := p.CallStream(context.Background(), &provider.Request{Model: "m"})
	require.NoError(t, err)
	chunks := drain(t, s)

	req := gjson.ParseBytes(body)
	assert.True(t, req.Get("stream").Bool())
	assert.True(t, req.Get("stream_options.include_usage").Bool())

	var text string
	var deltas []provider.ToolCallDelta
	var usage *provider.Usage
	var finish provider.FinishReason
	for _, c := range chunks {
		text += c.Delta
		if c.ToolCallDelta != nil {
			deltas = append(deltas, *c.ToolCallDelta)
		}
		if c.Usage != nil {
			usage = c.Usage
		}
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}

	assert.Equal(t, "Let me add.", text)
	assert.Equal(t, []provider.ToolCallDelta{
		{ID: "call_1", Name: "add_numbers"},
		{ID: "call_1", ArgumentsDelta: `{"a":`},
		{ID: "call_1", ArgumentsDelta: `2}`},
	}, deltas)
	assert.Equal(t, provider.FinishReasonToolCalls, finish)
	require.NotNil(t, usage)
	assert.Equal(t, 8, usage.TotalTokens)
}

func TestProvider_CallStreamErrors(t *testing.T) {
	t.Run("malformed frame", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			sse(w, `{"choices":[{"delta":{"content":"ok"}}]}`, `{not json`)
		})
		s, err := p.CallStream(context.Background(), &provider.Request{Model: "m"})
		require.NoError(t, err)
		defer func() { _ = s.Close() }()

		require.True(t, s.Next())
		assert.Equal(t, "ok", s.Current().Delta)
		assert.False(t, s.Next())
		assert.Error(t, s.Err())
	})

	t.Run("establishing fails", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
		})
		_, err := p.CallStream(context.Background(), &provider.Request{Model: "m", MaxAttempts: 2})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "invalid_request_error", apiErr.Type)
		assert.True(t, errors.As(err, new(*transport.Error)))
	})
}
