package anthropic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/i2y/marengo/transport"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// client sends Messages API requests through a retrying transport.
type client struct {
	apiKey    string
	baseURL   string
	transport *transport.Client
}

func newClient(apiKey, baseURL string, t *transport.Client) *client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &client{apiKey: apiKey, baseURL: baseURL, transport: t}
}

func (c *client) messages(ctx context.Context, req *messagesRequest, maxAttempts int) (*messagesResponse, error) {
	httpResp, err := c.post(ctx, req, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}

func (c *client) messagesStream(ctx context.Context, req *messagesRequest, maxAttempts int) (*transport.EventReader, error) {
	req.Stream = true
	httpResp, err := c.post(ctx, req, maxAttempts)
	if err != nil {
		return nil, err
	}
	return transport.NewEventReader(httpResp.Body), nil
}

func (c *client) post(ctx context.Context, req *messagesRequest, maxAttempts int) (*http.Response, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := c.transport.Send(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", apiVersion)
		return httpReq, nil
	}, maxAttempts)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) {
			return nil, parseError(terr)
		}
		return nil, err
	}
	return resp, nil
}

func parseError(terr *transport.Error) error {
	apiErr := &APIError{StatusCode: terr.StatusCode, Err: terr}

	var errResp errorResponse
	switch {
	case terr.Err != nil:
		apiErr.Message = terr.Err.Error()
	case json.Unmarshal(terr.Body, &errResp) == nil && errResp.Error.Message != "":
		apiErr.Type = errResp.Error.Type
		apiErr.Message = errResp.Error.Message
	default:
		apiErr.Message = string(terr.Body)
	}
	return apiErr
}

// APIError represents an error from the Anthropic API. Errors raised
// while establishing a request wrap the transport error; errors reported
// inside a stream do not.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
