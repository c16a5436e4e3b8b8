package llm

import (
	"context"
	"iter"
	"strings"

	"github.com/i2y/marengo/provider"
)

// Stream is the streaming form of Complete. The returned sequence yields
// text deltas as they arrive; the next frame is not read until the
// previous delta has been consumed. Function calls are reassembled from
// their fragments and executed after each stream ends, and the
// conversation continues as a new stream until the model answers with
// text. Errors are yielded once, with an empty delta, and end the sequence.
//
// The sequence can be iterated once. When the consumer stops early, the
// text yielded so far in the current response is appended to the
// conversation as an assistant message; function calls that had not
// finished streaming are discarded and never executed.
//
// Example:
//
//	for delta, err := range llm.Stream(ctx, conv, opts...) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(delta)
//	}
func Stream(ctx context.Context, conv *Conversation, opts ...Option) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		o, err := newOrchestrator(opts)
		if err != nil {
			yield("", err)
			return
		}

		sp, ok := o.provider.(provider.StreamingProvider)
		if !ok {
			yield("", ErrStreamingUnsupported)
			return
		}

		ctx, cancel := o.withTimeout(ctx)
		defer cancel()

		for depth := 0; ; depth++ {
			if err := o.checkDepth(depth); err != nil {
				yield("", err)
				return
			}

			done, err := o.streamRound(ctx, sp, conv, depth, yield)
			if err != nil {
				yield("", err)
				return
			}
			if done {
				return
			}
		}
	}
}

// stopped signals that the consumer stopped iterating.
type stopped struct{}

func (stopped) Error() string { return "stream consumer stopped" }

// streamRound performs one streamed round-trip. It reports done when the
// conversation reached a final answer or the consumer stopped.
func (o *orchestrator) streamRound(
	ctx context.Context,
	sp provider.StreamingProvider,
	conv *Conversation,
	depth int,
	yield func(string, error) bool,
) (bool, error) {
	text, calls, err := o.readStream(ctx, sp, conv, depth, yield)
	if err != nil {
		if _, ok := err.(stopped); ok {
			if text != "" {
				o.appendMessage(ctx, conv, AssistantMessage(text))
			}
			return true, nil
		}
		return false, err
	}

	failures := 0
	if len(calls) > 0 {
		o.appendMessage(ctx, conv, FunctionCallMessage(calls...))
		prior := conv.Messages[:len(conv.Messages)-1]

		for i, call := range calls {
			n := countCalls(prior, call.Name) + countCalls([]Message{{FunctionCalls: calls[:i+1]}}, call.Name)
			result, failed, err := o.execute(ctx, call, n)
			if err != nil {
				return false, err
			}
			if failed {
				failures++
			}
			o.appendMessage(ctx, conv, result)
		}
	}

	if text != "" {
		o.appendMessage(ctx, conv, AssistantMessage(text))
	}

	switch {
	case len(calls) > 0:
		if o.opts.ShortCircuitFailedCalls && failures == len(calls) {
			o.appendMessage(ctx, conv, AssistantMessage(shortCircuitText))
			yield(shortCircuitText, nil)
			return true, nil
		}
		return false, nil
	case text != "":
		return true, nil
	default:
		o.appendMessage(ctx, conv, FunctionResultMessage("", "", malformedResponseText))
		return false, nil
	}
}

// readStream consumes one response stream, yielding text deltas and
// reassembling function calls. When the consumer stops, it returns the
// text yielded so far with a stopped error.
func (o *orchestrator) readStream(
	ctx context.Context,
	sp provider.StreamingProvider,
	conv *Conversation,
	depth int,
	yield func(string, error) bool,
) (string, []FunctionCall, error) {
	rctx, span, req, err := o.startRoundTrip(ctx, conv, depth, true)
	if err != nil {
		return "", nil, err
	}

	stream, err := sp.CallStream(rctx, req)
	if err != nil {
		err = o.providerError(ctx, depth, err)
		endSpan(span, err)
		return "", nil, err
	}
	defer func() { _ = stream.Close() }()

	var (
		text      strings.Builder
		assembler callAssembler
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk == nil {
			continue
		}
		if chunk.Usage != nil {
			o.opts.Usage.Add(o.opts.Model, *chunk.Usage)
		}
		if chunk.ToolCallDelta != nil {
			assembler.add(*chunk.ToolCallDelta)
		}
		if chunk.Delta != "" {
			text.WriteString(chunk.Delta)
			if !yield(chunk.Delta, nil) {
				endSpan(span, nil)
				return text.String(), nil, stopped{}
			}
		}
	}
	if err := stream.Err(); err != nil {
		err = o.providerError(ctx, depth, err)
		endSpan(span, err)
		return "", nil, err
	}

	endSpan(span, nil)
	return text.String(), assembler.finish(), nil
}

// callAssembler rebuilds complete function calls from streamed fragments.
// A fragment starts a new call when it carries an ID different from the
// current call's, or a name while the current call already has one.
// Argument fragments are concatenated.
type callAssembler struct {
	calls   []FunctionCall
	current *FunctionCall
	args    strings.Builder
}

func (a *callAssembler) add(d provider.ToolCallDelta) {
	startsNew := a.current == nil ||
		(d.ID != "" && d.ID != a.current.ID) ||
		(d.ID == "" && d.Name != "" && a.current.Name != "")
	if startsNew {
		a.flush()
		a.current = &FunctionCall{ID: d.ID}
	}
	if d.Name != "" {
		a.current.Name = d.Name
	}
	a.args.WriteString(d.ArgumentsDelta)
}

func (a *callAssembler) flush() {
	if a.current == nil {
		return
	}
	a.current.Arguments = a.args.String()
	if a.current.Arguments == "" {
		a.current.Arguments = "{}"
	}
	a.calls = append(a.calls, *a.current)
	a.current = nil
	a.args.Reset()
}

// finish completes the call in progress and returns all calls.
func (a *callAssembler) finish() []FunctionCall {
	a.flush()
	return a.calls
}
