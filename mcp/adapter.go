// Package mcp imports the tools of a Model Context Protocol server as
// llm.Functions.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/i2y/marengo/llm"
	"github.com/i2y/marengo/schema"
)

// ErrToolFailed is wrapped by errors of tool calls the server reported as
// failed.
var ErrToolFailed = errors.New("MCP tool failed")

// Client is a session with an MCP server.
type Client struct {
	session *mcp.ClientSession
	timeout time.Duration
	filters []string
	logger  *slog.Logger
}

// Option configures the MCP client.
type Option func(*clientConfig)

type clientConfig struct {
	timeout time.Duration
	filters []string
	logger  *slog.Logger
	env     []string
}

// WithTimeout sets the timeout of each tool call.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithToolFilter keeps only the tools whose names match one of the glob
// patterns, e.g. "read_*" or "{search,fetch}".
func WithToolFilter(patterns ...string) Option {
	return func(c *clientConfig) {
		c.filters = append(c.filters, patterns...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithEnv adds KEY=VALUE pairs to the environment of a stdio server.
func WithEnv(env ...string) Option {
	return func(c *clientConfig) {
		c.env = append(c.env, env...)
	}
}

func newClientConfig(opts []Option) *clientConfig {
	cfg := &clientConfig{
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// NewStdioClient starts command as a subprocess and connects to it over
// stdio.
//
// Example:
//
//	client, err := mcp.NewStdioClient(ctx, "./my-mcp-server", nil,
//	    mcp.WithToolFilter("read_*"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	fns, err := client.Functions(ctx)
func NewStdioClient(ctx context.Context, command string, args []string, opts ...Option) (*Client, error) {
	cfg := newClientConfig(opts)
	cmd := exec.Command(command, args...)
	if len(cfg.env) > 0 {
		cmd.Env = append(cmd.Environ(), cfg.env...)
	}
	return connect(ctx, &mcp.CommandTransport{Command: cmd}, cfg)
}

// NewClient connects to an MCP server over t.
func NewClient(ctx context.Context, t mcp.Transport, opts ...Option) (*Client, error) {
	return connect(ctx, t, newClientConfig(opts))
}

func connect(ctx context.Context, t mcp.Transport, cfg *clientConfig) (*Client, error) {
	for _, p := range cfg.filters {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid tool filter %q", p)
		}
	}

	impl := &mcp.Implementation{Name: "marengo", Version: "0.1.0"}
	session, err := mcp.NewClient(impl, nil).Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server: %w", err)
	}

	return &Client{
		session: session,
		timeout: cfg.timeout,
		filters: cfg.filters,
		logger:  cfg.logger,
	}, nil
}

// Functions lists the server's tools and returns those that pass the tool
// filter. Each Function carries the parameters of the tool's input schema
// and a handler that calls the tool.
func (c *Client) Functions(ctx context.Context) ([]*llm.Function, error) {
	var fns []*llm.Function
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing MCP tools: %w", err)
		}
		if !c.keep(tool.Name) {
			c.logger.Debug("skipping filtered MCP tool", slog.String("tool", tool.Name))
			continue
		}

		params, err := toolParameters(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", tool.Name, err)
		}
		fns = append(fns, llm.NewParamsFunction(tool.Name, params, c.handler(tool.Name, params),
			llm.Description(tool.Description)))
	}
	return fns, nil
}

// FunctionSet is like Functions but collects the tools into a set.
func (c *Client) FunctionSet(ctx context.Context) (*llm.FunctionSet, error) {
	fns, err := c.Functions(ctx)
	if err != nil {
		return nil, err
	}
	return llm.NewFunctionSet(fns...), nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) keep(name string) bool {
	if len(c.filters) == 0 {
		return true
	}
	for _, p := range c.filters {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (c *Client) handler(name string, params []schema.Parameter) llm.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		raw, err := schema.RemapArguments(args, params)
		if err != nil {
			return nil, err
		}
		var arguments map[string]any
		if err := json.Unmarshal(raw, &arguments); err != nil {
			return nil, fmt.Errorf("decoding arguments: %w", err)
		}

		c.logger.DebugContext(ctx, "calling MCP tool", slog.String("tool", name))
		result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
			Name:      name,
			Arguments: arguments,
		})
		if err != nil {
			return nil, fmt.Errorf("calling MCP tool: %w", err)
		}

		text := flatten(result.Content)
		if result.IsError {
			return nil, fmt.Errorf("%w: %s", ErrToolFailed, text)
		}
		return text, nil
	}
}

// flatten renders tool result content as text, one item per line.
// Binary content is described rather than included.
func flatten(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch item := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, item.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s, %d bytes]", item.MIMEType, len(item.Data)))
		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[Audio: %s, %d bytes]", item.MIMEType, len(item.Data)))
		case *mcp.ResourceLink:
			parts = append(parts, fmt.Sprintf("[Resource: %s]", item.URI))
		case *mcp.EmbeddedResource:
			switch {
			case item.Resource == nil:
				parts = append(parts, "[Resource: embedded]")
			case item.Resource.Text != "":
				parts = append(parts, item.Resource.Text)
			default:
				parts = append(parts, fmt.Sprintf("[Resource: %s]", item.Resource.URI))
			}
		}
	}
	return strings.Join(parts, "\n")
}
