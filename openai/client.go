package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/tidwall/sjson"

	"github.com/i2y/marengo/transport"
)

const defaultBaseURL = "https://api.openai.com/v1"

// client sends chat completion requests through a retrying transport.
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

func (c *client) chatCompletion(ctx context.Context, req *chatCompletionRequest, maxAttempts int) (*chatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpResp, err := c.post(ctx, body, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}

// chatCompletionStream opens a streamed completion. Usage is requested in
// the final frame.
func (c *client) chatCompletionStream(ctx context.Context, req *chatCompletionRequest, maxAttempts int) (*transport.EventReader, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	if body, err = sjson.SetBytes(body, "stream", true); err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	if body, err = sjson.SetBytes(body, "stream_options.include_usage", true); err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpResp, err := c.post(ctx, body, maxAttempts)
	if err != nil {
		return nil, err
	}
	return transport.NewEventReader(httpResp.Body), nil
}

func (c *client) post(ctx context.Context, body []byte, maxAttempts int) (*http.Response, error) {
	resp, err := c.transport.Send(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
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

// parseError decodes the error body of the last failed attempt.
func parseError(terr *transport.Error) error {
	apiErr := &APIError{StatusCode: terr.StatusCode, Err: terr}

	var errResp errorResponse
	switch {
	case terr.Err != nil:
		apiErr.Message = terr.Err.Error()
	case json.Unmarshal(terr.Body, &errResp) == nil && errResp.Error.Message != "":
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		if errResp.Error.Code != nil {
			apiErr.Code = fmt.Sprint(errResp.Error.Code)
		}
	default:
		apiErr.Message = string(terr.Body)
	}
	return apiErr
}

// APIError represents an error from the OpenAI API. It wraps the
// transport error of the last attempt.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("openai API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("openai API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
