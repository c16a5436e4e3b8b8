// Package llm runs multi-turn conversations with a language model,
// executing the functions the model calls until it answers with text.
package llm

import (
	"context"
	"log/slog"
)

// Complete sends the conversation to the model and returns its final text
// answer. Every message produced along the way (function calls, function
// results, the answer) is appended to conv.
//
// When the model calls functions, each call is executed in order and its
// result appended before the conversation is sent again. The number of
// round-trips is bounded by the recursion limit.
//
// Example:
//
//	conv := llm.NewConversation(llm.UserMessage("What is 2+2?"))
//	answer, err := llm.Complete(ctx, conv,
//	    llm.WithProvider("openai"),
//	    llm.WithModel("gpt-4o-mini"),
//	)
func Complete(ctx context.Context, conv *Conversation, opts ...Option) (string, error) {
	o, err := newOrchestrator(opts)
	if err != nil {
		return "", err
	}
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	return o.complete(ctx, conv)
}

func (o *orchestrator) complete(ctx context.Context, conv *Conversation) (string, error) {
	for depth := 0; ; depth++ {
		if err := o.checkDepth(depth); err != nil {
			return "", err
		}

		text, done, err := o.completeRound(ctx, conv, depth)
		if err != nil {
			return "", err
		}
		if done {
			return text, nil
		}
	}
}

// completeRound performs one buffered round-trip. It reports done when the
// conversation has reached a final answer.
func (o *orchestrator) completeRound(ctx context.Context, conv *Conversation, depth int) (string, bool, error) {
	rctx, span, req, err := o.startRoundTrip(ctx, conv, depth, false)
	if err != nil {
		return "", false, err
	}

	resp, err := o.provider.Call(rctx, req)
	if err != nil {
		err = o.providerError(ctx, depth, err)
		endSpan(span, err)
		return "", false, err
	}
	o.opts.Usage.Add(o.opts.Model, resp.Usage)
	endSpan(span, nil)

	switch {
	case len(resp.FunctionCalls) > 0:
		return o.handleCalls(ctx, conv, resp.FunctionCalls)

	case resp.Content != "":
		o.appendMessage(ctx, conv, AssistantMessage(resp.Content))
		return resp.Content, true, nil

	default:
		o.logger.WarnContext(ctx, "response had neither text nor function calls", slog.Int("depth", depth))
		o.appendMessage(ctx, conv, FunctionResultMessage("", "", malformedResponseText))
		return "", false, nil
	}
}

// handleCalls records and executes a batch of calls from a buffered
// response, one call message and one result message per call.
func (o *orchestrator) handleCalls(ctx context.Context, conv *Conversation, calls []FunctionCall) (string, bool, error) {
	failures := 0
	for _, call := range calls {
		o.appendMessage(ctx, conv, FunctionCallMessage(call))

		result, failed, err := o.execute(ctx, call, countCalls(conv.Messages, call.Name))
		if err != nil {
			return "", false, err
		}
		if failed {
			failures++
		}
		o.appendMessage(ctx, conv, result)
	}

	if o.opts.ShortCircuitFailedCalls && failures == len(calls) {
		o.appendMessage(ctx, conv, AssistantMessage(shortCircuitText))
		return shortCircuitText, true, nil
	}
	return "", false, nil
}
