package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/i2y/marengo/transport"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	apiVersion     = "v1beta"
)

// client sends generateContent requests through a retrying transport.
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

func (c *client) generateContent(ctx context.Context, model string, req *generateContentRequest, maxAttempts int) (*generateContentResponse, error) {
	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, apiVersion, url.PathEscape(model))
	httpResp, err := c.post(ctx, endpoint, req, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp generateContentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}

func (c *client) streamGenerateContent(ctx context.Context, model string, req *generateContentRequest, maxAttempts int) (*transport.EventReader, error) {
	endpoint := fmt.Sprintf("%s/%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, apiVersion, url.PathEscape(model))
	httpResp, err := c.post(ctx, endpoint, req, maxAttempts)
	if err != nil {
		return nil, err
	}
	return transport.NewEventReader(httpResp.Body), nil
}

func (c *client) post(ctx context.Context, endpoint string, req *generateContentRequest, maxAttempts int) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := c.transport.Send(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
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
		apiErr.Code = errResp.Error.Code
		apiErr.Status = errResp.Error.Status
		apiErr.Message = errResp.Error.Message
	default:
		apiErr.Message = string(terr.Body)
	}
	return apiErr
}

// APIError represents an error from the Gemini API. It wraps the
// transport error of the last attempt.
type APIError struct {
	StatusCode int
	Code       int
	Status     string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini API error (status %d, %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
