package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
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

func TestNew_APIKeyFallbacks(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	_, err := New()
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv("GOOGLE_API_KEY", "google")
	p, err := New()
	require.NoError(t, err)
	assert.Equal(t, "google", p.client.apiKey)
}

func TestProvider_Capabilities(t *testing.T) {
	p := &Provider{}
	assert.Equal(t, "gemini", p.Name())
	caps := p.Capabilities()
	assert.False(t, caps.SystemRole)
	assert.True(t, caps.MergeConsecutive)
	assert.False(t, caps.StrictSchemas)
}

func TestBuildRequest(t *testing.T) {
	temp := 0.1
	req := buildRequest(&provider.Request{
		Temperature: &temp,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "Weather in Paris?", Images: []provider.Image{{URL: "gs://bucket/map.png", MIMEType: "image/png"}}},
			{Role: provider.RoleAssistant, FunctionCalls: []provider.FunctionCall{{ID: "x", Name: "get_weather", Arguments: `{"city":"Paris"}`}}},
			{Role: provider.RoleFunction, FunctionResult: &provider.FunctionResult{ID: "x", Name: "get_weather", Value: "Sunny"}},
			{Role: provider.RoleFunction, FunctionResult: &provider.FunctionResult{ID: "y", Name: "get_details", Value: `{"temp":22}`}},
		},
		Tools: []provider.ToolDef{{Name: "get_weather", Description: "Weather", Parameters: []byte(`{"type":"object"}`)}},
	})

	require.Len(t, req.Contents, 3)
	assert.Equal(t, "user", req.Contents[0].Role)
	require.Len(t, req.Contents[0].Parts, 2)
	assert.Equal(t, "gs://bucket/map.png", req.Contents[0].Parts[1].FileData.FileURI)

	assert.Equal(t, "model", req.Contents[1].Role)
	assert.JSONEq(t, `{"city":"Paris"}`, string(req.Contents[1].Parts[0].FunctionCall.Args))

	results := req.Contents[2]
	require.Len(t, results.Parts, 2)
	assert.Equal(t, "get_weather", results.Parts[0].FunctionResponse.Name)
	assert.JSONEq(t, `{"result":"Sunny"}`, string(results.Parts[0].FunctionResponse.Response))
	assert.JSONEq(t, `{"temp":22}`, string(results.Parts[1].FunctionResponse.Response))

	require.NotNil(t, req.GenerationConfig)
	assert.Equal(t, &temp, req.GenerationConfig.Temperature)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_weather", req.Tools[0].FunctionDeclarations[0].Name)

	assert.Nil(t, buildRequest(&provider.Request{}).GenerationConfig)
}

func TestProvider_Call(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		_, _ = io.WriteString(w, `{
			"candidates": [{
				"content": {"role": "model", "parts": [
					{"functionCall": {"name": "add_numbers", "args": {"a": 2, "b": 2}}},
					{"functionCall": {"name": "add_numbers", "args": {"a": 1, "b": 1}}}
				]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 4, "totalTokenCount": 13}
		}`)
	})

	resp, err := p.Call(context.Background(), &provider.Request{
		Model:    "gemini-2.0-flash",
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "2+2 and 1+1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, provider.FinishReasonToolCalls, resp.FinishReason)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
	require.Len(t, resp.FunctionCalls, 2)
	for _, fc := range resp.FunctionCalls {
		_, err := uuid.Parse(fc.ID)
		assert.NoError(t, err, "synthesized call IDs are UUIDs")
	}
	assert.NotEqual(t, resp.FunctionCalls[0].ID, resp.FunctionCalls[1].ID)
	assert.JSONEq(t, `{"a":2,"b":2}`, resp.FunctionCalls[0].Arguments)
}

func TestProvider_CallError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := p.Call(context.Background(), &provider.Request{Model: "m", MaxAttempts: 1})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Status)
	assert.Equal(t, "API key not valid", apiErr.Message)
}

func TestProvider_CallStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		frames := []string{
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"The answer "}]}}],"usageMetadata":{"promptTokenCount":5,"totalTokenCount":5}}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"is 4."}]}}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":4,"totalTokenCount":9}}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"log","args":{"n":4}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":6,"totalTokenCount":11}}`,
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			_, _ = fmt.Fprintf(w, "data: %s\r\n\r\n", f)
		}
	})

	s, err := p.CallStream(context.Background(), &provider.Request{Model: "m"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var (
		text   string
		calls  []provider.ToolCallDelta
		usages []provider.Usage
	)
	for s.Next() {
		c := s.Current()
		text += c.Delta
		if c.ToolCallDelta != nil {
			calls = append(calls, *c.ToolCallDelta)
		}
		if c.Usage != nil {
			usages = append(usages, *c.Usage)
		}
	}
	require.NoError(t, s.Err())

	assert.Equal(t, "The answer is 4.", text)
	require.Len(t, calls, 1)
	assert.Equal(t, "log", calls[0].Name)
	assert.NotEmpty(t, calls[0].ID)
	assert.JSONEq(t, `{"n":4}`, calls[0].ArgumentsDelta)
	assert.Equal(t, []provider.Usage{{PromptTokens: 5, CompletionTokens: 6, TotalTokens: 11}}, usages)
}

func TestResponseObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Sunny", want: `{"result":"Sunny"}`},
		{in: "42", want: `{"result":"42"}`},
		{in: `[1,2]`, want: `{"result":"[1,2]"}`},
		{in: `{"ok":true}`, want: `{"ok":true}`},
		{in: "", want: `{"result":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.JSONEq(t, tt.want, string(responseObject(tt.in)))
		})
	}

	assert.True(t, gjson.Valid(string(responseObject(`say "hi"`))))
}
