// Package openai provides an OpenAI provider implementation.
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/goccy/go-json"

	"github.com/i2y/marengo/provider"
	"github.com/i2y/marengo/transport"
)

func init() {
	provider.Register("openai", func() (provider.Provider, error) {
		return New()
	})
}

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("OpenAI API key required: set OPENAI_API_KEY or use WithAPIKey")

// Provider implements the OpenAI chat completions API.
type Provider struct {
	client *client
}

// Option configures the OpenAI provider.
type Option func(*providerConfig)

type providerConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	transport  *transport.Client
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *providerConfig) {
		c.apiKey = key
	}
}

// WithBaseURL sets a custom base URL, for OpenAI-compatible servers.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used by the default transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *providerConfig) {
		c.httpClient = client
	}
}

// WithTransport replaces the retrying transport.
func WithTransport(t *transport.Client) Option {
	return func(c *providerConfig) {
		c.transport = t
	}
}

// New creates a new OpenAI provider. The API key falls back to the
// OPENAI_API_KEY environment variable.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	t := cfg.transport
	if t == nil {
		var topts []transport.Option
		if cfg.httpClient != nil {
			topts = append(topts, transport.WithHTTPClient(cfg.httpClient))
		}
		t = transport.New(topts...)
	}

	return &Provider{client: newClient(cfg.apiKey, cfg.baseURL, t)}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{SystemRole: true, StrictSchemas: true}
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.chatCompletion(ctx, buildRequest(req), req.MaxAttempts)
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// CallStream implements provider.StreamingProvider.
func (p *Provider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	events, err := p.client.chatCompletionStream(ctx, buildRequest(req), req.MaxAttempts)
	if err != nil {
		return nil, err
	}
	return &stream{events: events, ids: make(map[int]string)}, nil
}

// buildRequest converts a provider.Request to an OpenAI API request.
func buildRequest(req *provider.Request) *chatCompletionRequest {
	apiReq := &chatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Seed:        req.Seed,
		Stop:        req.StopSequences,
	}

	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, convertMessage(msg))
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  json.RawMessage(tool.Parameters),
				Strict:      tool.Strict,
			},
		})
	}
	return apiReq
}

func convertMessage(msg provider.Message) message {
	if r := msg.FunctionResult; r != nil {
		// Results that answer no call are plain user text.
		if r.ID == "" {
			return message{Role: "user", Content: r.Value}
		}
		return message{Role: "tool", ToolCallID: r.ID, Content: r.Value}
	}

	apiMsg := message{Role: string(msg.Role), Name: msg.Author}
	if msg.Role == provider.RoleFunction {
		apiMsg.Role = "user"
	}

	switch {
	case len(msg.Images) > 0:
		parts := make([]contentPart, 0, len(msg.Images)+1)
		if msg.Content != "" {
			parts = append(parts, contentPart{Type: "text", Text: msg.Content})
		}
		for _, img := range msg.Images {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img.URL}})
		}
		apiMsg.Content = parts
	case msg.Content != "":
		apiMsg.Content = msg.Content
	}

	for _, fc := range msg.FunctionCalls {
		apiMsg.ToolCalls = append(apiMsg.ToolCalls, toolCall{
			ID:       fc.ID,
			Type:     "function",
			Function: functionCall{Name: fc.Name, Arguments: fc.Arguments},
		})
	}
	return apiMsg
}

func convertResponse(resp *chatCompletionResponse) *provider.Response {
	result := &provider.Response{Usage: convertUsage(resp.Usage)}
	if len(resp.Choices) == 0 {
		return result
	}

	choice := resp.Choices[0]
	result.Content = choice.Message.Content
	result.FinishReason = convertFinishReason(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		result.FunctionCalls = append(result.FunctionCalls, provider.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result
}

func convertUsage(u usage) provider.Usage {
	return provider.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return provider.FinishReasonToolCalls
	case "length":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}

// stream implements provider.ResponseStream. A frame carrying several
// deltas is split into one chunk per delta.
type stream struct {
	events  *transport.EventReader
	pending []provider.StreamChunk
	current *provider.StreamChunk
	err     error
	done    bool

	// ids maps a tool call index to its ID; only the first fragment of a
	// call carries the ID on the wire.
	ids map[int]string
}

func (s *stream) Next() bool {
	for len(s.pending) == 0 {
		if s.done || s.err != nil {
			return false
		}
		s.readFrame()
	}
	chunk := s.pending[0]
	s.pending = s.pending[1:]
	s.current = &chunk
	return true
}

func (s *stream) readFrame() {
	ev, err := s.events.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
			return
		}
		s.err = err
		return
	}
	if string(ev.Data) == "[DONE]" {
		s.done = true
		return
	}

	var chunk streamChunk
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		s.err = err
		return
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			s.pending = append(s.pending, provider.StreamChunk{Delta: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			if tc.ID != "" {
				s.ids[tc.Index] = tc.ID
			}
			s.pending = append(s.pending, provider.StreamChunk{ToolCallDelta: &provider.ToolCallDelta{
				ID:             s.ids[tc.Index],
				Name:           tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			}})
		}
		if choice.FinishReason != nil {
			s.pending = append(s.pending, provider.StreamChunk{FinishReason: convertFinishReason(*choice.FinishReason)})
		}
	}
	if chunk.Usage != nil {
		u := convertUsage(*chunk.Usage)
		s.pending = append(s.pending, provider.StreamChunk{Usage: &u})
	}
}

func (s *stream) Current() *provider.StreamChunk {
	return s.current
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	return s.events.Close()
}
