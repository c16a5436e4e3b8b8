// Package gemini provides a Google Gemini provider implementation.
package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/i2y/marengo/provider"
	"github.com/i2y/marengo/transport"
)

func init() {
	provider.Register("gemini", func() (provider.Provider, error) {
		return New()
	})
}

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("Gemini API key required: set GEMINI_API_KEY or GOOGLE_API_KEY, or use WithAPIKey")

// Provider implements the Gemini generateContent API.
type Provider struct {
	client *client
}

// Option configures the Gemini provider.
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

// New creates a new Gemini provider. The API key falls back to the
// GEMINI_API_KEY and GOOGLE_API_KEY environment variables.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("GOOGLE_API_KEY")
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
	return "gemini"
}

// Capabilities implements provider.Provider. Gemini has no system role
// and no function call IDs; IDs are generated for the calls it returns.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{MergeConsecutive: true}
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.generateContent(ctx, req.Model, buildRequest(req), req.MaxAttempts)
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// CallStream implements provider.StreamingProvider.
func (p *Provider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	events, err := p.client.streamGenerateContent(ctx, req.Model, buildRequest(req), req.MaxAttempts)
	if err != nil {
		return nil, err
	}
	return &stream{events: events}, nil
}

func buildRequest(req *provider.Request) *generateContentRequest {
	apiReq := &generateContentRequest{}

	for _, msg := range req.Messages {
		role, parts := convertMessage(msg)
		if len(parts) == 0 {
			continue
		}
		if n := len(apiReq.Contents); n > 0 && apiReq.Contents[n-1].Role == role {
			apiReq.Contents[n-1].Parts = append(apiReq.Contents[n-1].Parts, parts...)
			continue
		}
		apiReq.Contents = append(apiReq.Contents, content{Role: role, Parts: parts})
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil ||
		req.TopK != nil || req.Seed != nil || len(req.StopSequences) > 0 {
		apiReq.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
			TopK:            req.TopK,
			Seed:            req.Seed,
			StopSequences:   req.StopSequences,
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			})
		}
		apiReq.Tools = []tool{{FunctionDeclarations: decls}}
	}
	return apiReq
}

func convertMessage(msg provider.Message) (string, []part) {
	if r := msg.FunctionResult; r != nil {
		if r.ID == "" {
			return "user", []part{{Text: r.Value}}
		}
		return "user", []part{{FunctionResponse: &functionResponse{
			Name:     r.Name,
			Response: responseObject(r.Value),
		}}}
	}

	role := "user"
	if msg.Role == provider.RoleAssistant {
		role = "model"
	}

	var parts []part
	if msg.Content != "" {
		parts = append(parts, part{Text: msg.Content})
	}
	for _, img := range msg.Images {
		parts = append(parts, part{FileData: &fileData{MIMEType: img.MIMEType, FileURI: img.URL}})
	}
	for _, fc := range msg.FunctionCalls {
		var args json.RawMessage
		if gjson.Valid(fc.Arguments) {
			args = json.RawMessage(fc.Arguments)
		}
		parts = append(parts, part{FunctionCall: &functionCall{Name: fc.Name, Args: args}})
	}
	return role, parts
}

// responseObject wraps a function result in the object Gemini expects.
// Results that already are JSON objects are sent as they are.
func responseObject(value string) json.RawMessage {
	if gjson.Valid(value) && gjson.Parse(value).IsObject() {
		return json.RawMessage(value)
	}
	out, err := sjson.SetBytes([]byte(`{}`), "result", value)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}

func convertResponse(resp *generateContentResponse) *provider.Response {
	result := &provider.Response{}
	if resp.UsageMetadata != nil {
		result.Usage = convertUsage(*resp.UsageMetadata)
	}
	if len(resp.Candidates) == 0 {
		return result
	}

	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			result.Content += p.Text
			if p.FunctionCall != nil {
				result.FunctionCalls = append(result.FunctionCalls, convertCall(p.FunctionCall))
			}
		}
	}

	result.FinishReason = convertFinishReason(cand.FinishReason)
	if len(result.FunctionCalls) > 0 {
		result.FinishReason = provider.FinishReasonToolCalls
	}
	return result
}

// convertCall keeps the call ID the API sent, or generates one.
func convertCall(fc *functionCall) provider.FunctionCall {
	id := fc.ID
	if id == "" {
		id = uuid.NewString()
	}
	args := string(fc.Args)
	if args == "" || args == "null" {
		args = "{}"
	}
	return provider.FunctionCall{ID: id, Name: fc.Name, Arguments: args}
}

func convertUsage(u usageMetadata) provider.Usage {
	return provider.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "MAX_TOKENS":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}

// stream implements provider.ResponseStream. Each frame is a partial
// response; usage metadata is cumulative, so only the last value is
// reported, once the stream ends.
type stream struct {
	events  *transport.EventReader
	pending []provider.StreamChunk
	current *provider.StreamChunk
	usage   *provider.Usage
	err     error
	done    bool
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
		if !errors.Is(err, io.EOF) {
			s.err = err
			return
		}
		s.done = true
		if s.usage != nil {
			s.pending = append(s.pending, provider.StreamChunk{Usage: s.usage})
		}
		return
	}

	var frame generateContentResponse
	if err := json.Unmarshal(ev.Data, &frame); err != nil {
		s.err = err
		return
	}

	if frame.UsageMetadata != nil {
		u := convertUsage(*frame.UsageMetadata)
		s.usage = &u
	}
	if len(frame.Candidates) == 0 {
		return
	}

	cand := frame.Candidates[0]
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				s.pending = append(s.pending, provider.StreamChunk{Delta: p.Text})
			}
			if p.FunctionCall != nil {
				call := convertCall(p.FunctionCall)
				s.pending = append(s.pending, provider.StreamChunk{ToolCallDelta: &provider.ToolCallDelta{
					ID:             call.ID,
					Name:           call.Name,
					ArgumentsDelta: call.Arguments,
				}})
			}
		}
	}
	if cand.FinishReason != "" {
		s.pending = append(s.pending, provider.StreamChunk{FinishReason: convertFinishReason(cand.FinishReason)})
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
