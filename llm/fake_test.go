package llm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/i2y/marengo/provider"
)

// fakeProvider replays canned responses in order, repeating the last one.
type fakeProvider struct {
	mu        sync.Mutex
	caps      provider.Capabilities
	responses []*provider.Response
	streams   [][]provider.StreamChunk
	streamErr error
	err       error
	requests  []*provider.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Capabilities() provider.Capabilities { return f.caps }

func (f *fakeProvider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	i := min(len(f.requests)-1, len(f.responses)-1)
	return f.responses[i], nil
}

func (f *fakeProvider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	i := min(len(f.requests)-1, len(f.streams)-1)
	return &sliceStream{chunks: f.streams[i], err: f.streamErr}, nil
}

func (f *fakeProvider) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// callOnly hides the streaming method of a provider.
type callOnly struct {
	p *fakeProvider
}

func (c callOnly) Name() string { return c.p.Name() }

func (c callOnly) Capabilities() provider.Capabilities { return c.p.Capabilities() }

func (c callOnly) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	return c.p.Call(ctx, req)
}

// sliceStream is a ResponseStream over fixed chunks. err is reported once
// the chunks are exhausted.
type sliceStream struct {
	chunks  []provider.StreamChunk
	i       int
	current *provider.StreamChunk
	err     error
	closed  bool
}

func (s *sliceStream) Next() bool {
	if s.i >= len(s.chunks) {
		return false
	}
	s.current = &s.chunks[s.i]
	s.i++
	return true
}

func (s *sliceStream) Current() *provider.StreamChunk { return s.current }

func (s *sliceStream) Err() error {
	if s.i < len(s.chunks) {
		return nil
	}
	return s.err
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func textResponse(text string) *provider.Response {
	return &provider.Response{Content: text, FinishReason: provider.FinishReasonStop}
}

func callResponse(calls ...FunctionCall) *provider.Response {
	return &provider.Response{FunctionCalls: calls, FinishReason: provider.FinishReasonToolCalls}
}

func textChunks(deltas ...string) []provider.StreamChunk {
	chunks := make([]provider.StreamChunk, len(deltas))
	for i, d := range deltas {
		chunks[i] = provider.StreamChunk{Delta: d}
	}
	return chunks
}

func callChunk(id, name, args string) provider.StreamChunk {
	return provider.StreamChunk{ToolCallDelta: &provider.ToolCallDelta{ID: id, Name: name, ArgumentsDelta: args}}
}

// testOptions returns the options every orchestration test needs.
func testOptions(p provider.Provider, opts ...Option) []Option {
	base := []Option{
		WithProviderInstance(p),
		WithModel("test-model"),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	return append(base, opts...)
}
