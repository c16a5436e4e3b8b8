// Package anthropic provides an Anthropic Claude provider implementation.
package anthropic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/i2y/marengo/provider"
	"github.com/i2y/marengo/transport"
)

func init() {
	provider.Register("anthropic", func() (provider.Provider, error) {
		return New()
	})
}

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("Anthropic API key required: set ANTHROPIC_API_KEY or use WithAPIKey")

// Provider implements the Anthropic Messages API.
type Provider struct {
	client *client
}

// Option configures the Anthropic provider.
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

// WithBaseURL sets a custom base URL.
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

// New creates a new Anthropic provider. The API key falls back to the
// ANTHROPIC_API_KEY environment variable.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("ANTHROPIC_API_KEY")
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
	return "anthropic"
}

// Capabilities implements provider.Provider. System messages are lifted
// into the request's system prompt, and the API requires alternating
// roles.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{SystemRole: true, MergeConsecutive: true}
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.messages(ctx, buildRequest(req), req.MaxAttempts)
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// CallStream implements provider.StreamingProvider.
func (p *Provider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	events, err := p.client.messagesStream(ctx, buildRequest(req), req.MaxAttempts)
	if err != nil {
		return nil, err
	}
	return &stream{events: events, ids: make(map[int]string)}, nil
}

// buildRequest converts a provider.Request to a Messages API request.
// Adjacent messages that map to the same role are sent as one message.
func buildRequest(req *provider.Request) *messagesRequest {
	apiReq := &messagesRequest{
		Model:         req.Model,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == provider.RoleSystem {
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
			continue
		}

		role, blocks := convertMessage(msg)
		if len(blocks) == 0 {
			continue
		}
		if n := len(apiReq.Messages); n > 0 && apiReq.Messages[n-1].Role == role {
			apiReq.Messages[n-1].Content = append(apiReq.Messages[n-1].Content, blocks...)
			continue
		}
		apiReq.Messages = append(apiReq.Messages, message{Role: role, Content: blocks})
	}
	apiReq.System = strings.Join(system, "\n\n")

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: json.RawMessage(tool.Parameters),
		})
	}
	return apiReq
}

func convertMessage(msg provider.Message) (string, []contentBlock) {
	if r := msg.FunctionResult; r != nil {
		if r.ID == "" {
			return "user", []contentBlock{{Type: "text", Text: r.Value}}
		}
		return "user", []contentBlock{{Type: "tool_result", ToolUseID: r.ID, Content: r.Value}}
	}

	role := "user"
	if msg.Role == provider.RoleAssistant {
		role = "assistant"
	}

	var blocks []contentBlock
	if msg.Content != "" {
		blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
	}
	for _, img := range msg.Images {
		blocks = append(blocks, contentBlock{Type: "image", Source: &imageSource{Type: "url", URL: img.URL}})
	}
	for _, fc := range msg.FunctionCalls {
		input := fc.Arguments
		if !gjson.Valid(input) {
			input = "{}"
		}
		blocks = append(blocks, contentBlock{
			Type:  "tool_use",
			ID:    fc.ID,
			Name:  fc.Name,
			Input: json.RawMessage(input),
		})
	}
	return role, blocks
}

func convertResponse(resp *messagesResponse) *provider.Response {
	result := &provider.Response{
		FinishReason: convertStopReason(resp.StopReason),
		Usage:        convertUsage(resp.Usage),
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			result.FunctionCalls = append(result.FunctionCalls, provider.FunctionCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	result.Content = text.String()
	return result
}

func convertUsage(u messagesUsage) provider.Usage {
	return provider.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

func convertStopReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_use":
		return provider.FinishReasonToolCalls
	case "max_tokens":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}

// stream implements provider.ResponseStream over Messages API events.
type stream struct {
	events  *transport.EventReader
	current *provider.StreamChunk
	err     error
	done    bool

	// ids maps a content block index to its tool_use ID.
	ids         map[int]string
	inputTokens int
}

func (s *stream) Next() bool {
	for !s.done && s.err == nil {
		if chunk, ok := s.readEvent(); ok {
			s.current = chunk
			return true
		}
	}
	return false
}

// readEvent consumes one event and reports the chunk it produced, if any.
func (s *stream) readEvent() (*provider.StreamChunk, bool) {
	raw, err := s.events.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
		} else {
			s.err = err
		}
		return nil, false
	}

	var ev streamEvent
	if err := json.Unmarshal(raw.Data, &ev); err != nil {
		s.err = err
		return nil, false
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			s.inputTokens = ev.Message.Usage.InputTokens
		}

	case "content_block_start":
		block := ev.ContentBlock
		if block == nil {
			break
		}
		switch block.Type {
		case "tool_use":
			s.ids[ev.Index] = block.ID
			return &provider.StreamChunk{ToolCallDelta: &provider.ToolCallDelta{ID: block.ID, Name: block.Name}}, true
		case "text":
			if block.Text != "" {
				return &provider.StreamChunk{Delta: block.Text}, true
			}
		}

	case "content_block_delta":
		if ev.Delta == nil {
			break
		}
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text != "" {
				return &provider.StreamChunk{Delta: ev.Delta.Text}, true
			}
		case "input_json_delta":
			if ev.Delta.PartialJSON != "" {
				return &provider.StreamChunk{ToolCallDelta: &provider.ToolCallDelta{
					ID:             s.ids[ev.Index],
					ArgumentsDelta: ev.Delta.PartialJSON,
				}}, true
			}
		}

	case "message_delta":
		chunk := &provider.StreamChunk{}
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			chunk.FinishReason = convertStopReason(ev.Delta.StopReason)
		}
		if ev.Usage != nil {
			u := convertUsage(messagesUsage{InputTokens: s.inputTokens, OutputTokens: ev.Usage.OutputTokens})
			chunk.Usage = &u
		}
		return chunk, true

	case "message_stop":
		s.done = true

	case "error":
		apiErr := &APIError{Message: "stream error"}
		if ev.Error != nil {
			apiErr.Type = ev.Error.Type
			apiErr.Message = ev.Error.Message
		}
		s.err = apiErr
	}
	return nil, false
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
