package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/marengo/provider"
	"github.com/i2y/marengo/schema"
)

// Texts fed back to the model.
const (
	malformedResponseText = "Either call a function or respond with text."
	shortCircuitText      = "I could not complete the requested function calls. " +
		"Please provide the required parameters, or ask me to answer directly."
)

func notFoundText(name string) string {
	return fmt.Sprintf("Function '%s' not found.", name)
}

func confirmationText(name string) string {
	return fmt.Sprintf("Function '%s' requires confirmation. "+
		"Call it again with the same arguments to execute it.", name)
}

func noHandlerText(name string) string {
	return fmt.Sprintf("Error: no handler registered for function '%s'", name)
}

// orchestrator holds the resolved state shared by the round-trips of one
// Complete or Stream call.
type orchestrator struct {
	opts     *Options
	provider provider.Provider
	logger   *slog.Logger
	tracer   trace.Tracer
}

func newOrchestrator(opts []Option) (*orchestrator, error) {
	o := newOptions(opts...)
	p, err := o.resolveProvider()
	if err != nil {
		return nil, err
	}
	return &orchestrator{
		opts:     o,
		provider: p,
		logger:   o.Logger.With(slog.String("provider", p.Name()), slog.String("model", o.Model)),
		tracer:   o.Tracer,
	}, nil
}

func (o *orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.Timeout > 0 {
		return context.WithTimeout(ctx, o.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (o *orchestrator) appendMessage(ctx context.Context, conv *Conversation, msg Message) {
	conv.Append(msg)
	if o.opts.Hook != nil {
		o.opts.Hook(ctx, msg)
	}
}

func (o *orchestrator) checkDepth(depth int) error {
	if depth >= o.opts.RecursionLimit {
		o.logger.Warn("recursion limit reached", slog.Int("limit", o.opts.RecursionLimit))
		return ErrRecursionLimit
	}
	return nil
}

// startRoundTrip opens the span for one round-trip and builds its request.
func (o *orchestrator) startRoundTrip(ctx context.Context, conv *Conversation, depth int, streaming bool) (context.Context, trace.Span, *provider.Request, error) {
	ctx, span := o.tracer.Start(ctx, "llm.round_trip", trace.WithAttributes(
		attribute.String("llm.provider", o.provider.Name()),
		attribute.String("llm.model", o.opts.Model),
		attribute.Int("llm.depth", depth),
		attribute.Bool("llm.streaming", streaming),
	))

	caps := o.provider.Capabilities()
	msgs := Prepare(ctx, conv.Messages, o.opts, caps)
	req, err := o.buildRequest(msgs, caps)
	if err != nil {
		endSpan(span, err)
		return ctx, span, nil, err
	}

	o.logger.DebugContext(ctx, "sending request",
		slog.Int("depth", depth),
		slog.Int("messages", len(req.Messages)),
		slog.Int("functions", len(req.Tools)),
		slog.Bool("streaming", streaming),
	)
	return ctx, span, req, nil
}

func (o *orchestrator) buildRequest(msgs []Message, caps provider.Capabilities) (*provider.Request, error) {
	req := &provider.Request{
		Model:         o.opts.Model,
		Messages:      msgs,
		Temperature:   o.opts.Temperature,
		MaxTokens:     o.opts.MaxTokens,
		TopP:          o.opts.TopP,
		TopK:          o.opts.TopK,
		Seed:          o.opts.Seed,
		StopSequences: o.opts.StopSequences,
		MaxAttempts:   o.opts.MaxAttempts,
	}

	dialect := schema.Dialect{Strict: caps.StrictSchemas}
	for _, fn := range o.opts.Functions.All() {
		fs := fn.Schema(dialect)
		params, err := fs.ParametersJSON()
		if err != nil {
			return nil, fmt.Errorf("serializing function %q: %w", fn.Name, err)
		}
		req.Tools = append(req.Tools, provider.ToolDef{
			Name:        fs.Name,
			Description: fs.Description,
			Parameters:  params,
			Strict:      fs.Strict && caps.StrictSchemas,
		})
	}
	return req, nil
}

// providerError converts a failed provider call. Cancellation is returned
// as the context's own error.
func (o *orchestrator) providerError(ctx context.Context, depth int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &ProviderError{Provider: o.provider.Name(), Depth: depth, Cause: err}
}

// execute runs one function call and returns its result message. priorCalls
// is the number of calls to the same function already in the conversation,
// including this one. failed reports a missing function or an error result.
func (o *orchestrator) execute(ctx context.Context, call FunctionCall, priorCalls int) (msg Message, failed bool, err error) {
	ctx, span := o.tracer.Start(ctx, "llm.function", trace.WithAttributes(
		attribute.String("llm.function.name", call.Name),
		attribute.String("llm.function.call_id", call.ID),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("llm.function.failed", failed))
		endSpan(span, err)
	}()

	log := o.logger.With(slog.String("function", call.Name), slog.String("call_id", call.ID))

	text, failed, err := o.invoke(ctx, call, priorCalls)
	if err != nil {
		return Message{}, true, err
	}

	if failed {
		log.InfoContext(ctx, "function call failed", slog.String("result", text))
	} else {
		log.InfoContext(ctx, "function call handled")
	}
	return FunctionResultMessage(call.ID, call.Name, text), failed, nil
}

func (o *orchestrator) invoke(ctx context.Context, call FunctionCall, priorCalls int) (string, bool, error) {
	fn, ok := o.opts.Functions.Get(call.Name)
	if !ok {
		return notFoundText(call.Name), true, nil
	}

	if fn.DoubleCheck && priorCalls%2 == 1 {
		return confirmationText(call.Name), false, nil
	}

	args := json.RawMessage(call.Arguments)
	var (
		v   any
		err error
	)
	switch {
	case fn.Handler != nil:
		v, err = guard(func() (any, error) { return fn.Handler(ctx, args) })
	case o.opts.DefaultHandler != nil:
		v, err = guard(func() (any, error) { return o.opts.DefaultHandler(ctx, fn.Name, args) })
	default:
		return noHandlerText(call.Name), true, nil
	}

	if errors.Is(err, ErrFunctionPanicked) {
		o.logger.ErrorContext(ctx, "function panicked",
			slog.String("function", call.Name), slog.Any("error", err))
		return "Error: " + err.Error(), true, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", true, ctxErr
		}
		return "Error: " + err.Error(), true, nil
	}

	text, err := resultText(v)
	if err != nil {
		return "Error: " + err.Error(), true, nil
	}
	return text, false, nil
}

// guard runs call, turning a panic into an error wrapping
// ErrFunctionPanicked.
func guard(call func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%w: %v", ErrFunctionPanicked, r)
		}
	}()
	return call()
}

// countCalls counts the calls to name in msgs.
func countCalls(msgs []Message, name string) int {
	key := schema.Key(name)
	n := 0
	for _, m := range msgs {
		for _, c := range m.FunctionCalls {
			if schema.Key(c.Name) == key {
				n++
			}
		}
	}
	return n
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
