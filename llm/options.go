package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/marengo/provider"
)

const (
	// DefaultMaxAttempts is the number of transport attempts per round-trip.
	DefaultMaxAttempts = 3
	// DefaultRecursionLimit is the maximum number of round-trips per call.
	DefaultRecursionLimit = 5

	tracerName = "github.com/i2y/marengo/llm"
)

// Hook is called after every message appended to the conversation, before
// the orchestration continues.
type Hook func(ctx context.Context, msg Message)

// Options holds the configuration of a Complete or Stream call.
type Options struct {
	ProviderName string
	// Provider, when set, is used instead of looking up ProviderName.
	Provider provider.Provider
	Model    string

	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	TopK          *int
	Seed          *int
	StopSequences []string

	MaxAttempts int
	// Timeout bounds a whole Complete or Stream call. Zero means no limit.
	Timeout time.Duration

	// MessageLimit caps the number of non-system messages sent. Zero
	// disables the limit.
	MessageLimit int
	// CharacterLimit caps the summed content length of the messages sent.
	// Zero disables the limit.
	CharacterLimit int

	Functions *FunctionSet

	TimeAware bool
	Clock     func() time.Time

	// SystemMessage supplies a system message placed first on every
	// round-trip. An empty result adds nothing.
	SystemMessage func(ctx context.Context) string

	DefaultHandler DefaultHandler
	Hook           Hook

	RecursionLimit int

	// IgnorePreviousFunctionCalls drops function calls and results that
	// precede the latest user message.
	IgnorePreviousFunctionCalls bool
	// ShortCircuitFailedCalls ends the conversation with an assistant
	// message when every call of a batch failed, instead of sending the
	// failures back to the model.
	ShortCircuitFailedCalls bool

	Usage  *UsageTracker
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Option configures a call.
type Option func(*Options)

func newOptions(opts ...Option) *Options {
	o := &Options{
		MaxAttempts:    DefaultMaxAttempts,
		RecursionLimit: DefaultRecursionLimit,
		Clock:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// resolveProvider validates the options and returns the provider to use.
func (o *Options) resolveProvider() (provider.Provider, error) {
	if o.Model == "" {
		return nil, ErrModelRequired
	}
	if o.Provider != nil {
		return o.Provider, nil
	}
	if o.ProviderName == "" {
		return nil, ErrProviderRequired
	}
	p, err := provider.Get(o.ProviderName)
	if err != nil {
		return nil, fmt.Errorf("getting provider: %w", err)
	}
	return p, nil
}

// WithProvider selects a registered provider by name (e.g., "openai", "anthropic").
func WithProvider(name string) Option {
	return func(o *Options) {
		o.ProviderName = name
	}
}

// WithProviderInstance uses p directly instead of the registry.
func WithProviderInstance(p provider.Provider) Option {
	return func(o *Options) {
		o.Provider = p
	}
}

// WithModel sets the model to use (e.g., "gpt-4o-mini").
func WithModel(name string) Option {
	return func(o *Options) {
		o.Model = name
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Options) {
		o.Temperature = &t
	}
}

// WithMaxTokens sets the maximum tokens in the response.
func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = &n
	}
}

// WithTopP sets the nucleus sampling parameter (0.0 to 1.0).
func WithTopP(p float64) Option {
	return func(o *Options) {
		o.TopP = &p
	}
}

// WithTopK limits token selection to the k most probable tokens.
// Note: Not supported by OpenAI.
func WithTopK(k int) Option {
	return func(o *Options) {
		o.TopK = &k
	}
}

// WithSeed sets a random seed for reproducibility.
// Note: Not supported by Anthropic.
func WithSeed(seed int) Option {
	return func(o *Options) {
		o.Seed = &seed
	}
}

// WithStopSequences sets stop sequences to end generation.
func WithStopSequences(seqs ...string) Option {
	return func(o *Options) {
		o.StopSequences = seqs
	}
}

// WithMaxAttempts sets how many times a failed request is attempted.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithTimeout bounds the duration of a whole call, including every
// round-trip and function execution.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMessageLimit caps the number of non-system messages sent per
// round-trip. Older unpinned messages are dropped first.
func WithMessageLimit(n int) Option {
	return func(o *Options) {
		o.MessageLimit = n
	}
}

// WithCharacterLimit caps the total message length sent per round-trip.
func WithCharacterLimit(n int) Option {
	return func(o *Options) {
		o.CharacterLimit = n
	}
}

// WithFunctions sets the functions the model may call.
func WithFunctions(fs *FunctionSet) Option {
	return func(o *Options) {
		o.Functions = fs
	}
}

// WithTimeAwareness tells the model the current date and time on every
// round-trip.
func WithTimeAwareness() Option {
	return func(o *Options) {
		o.TimeAware = true
	}
}

// WithClock sets the time source used for time awareness.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Clock = now
	}
}

// WithSystemMessage places a fixed system message first on every round-trip.
func WithSystemMessage(msg string) Option {
	return WithSystemMessageFunc(func(context.Context) string { return msg })
}

// WithSystemMessageFunc computes the leading system message on every
// round-trip.
func WithSystemMessageFunc(fn func(ctx context.Context) string) Option {
	return func(o *Options) {
		o.SystemMessage = fn
	}
}

// WithDefaultHandler handles calls to registered functions without a
// handler of their own.
func WithDefaultHandler(h DefaultHandler) Option {
	return func(o *Options) {
		o.DefaultHandler = h
	}
}

// WithHook observes every message appended to the conversation.
func WithHook(h Hook) Option {
	return func(o *Options) {
		o.Hook = h
	}
}

// WithRecursionLimit sets the maximum number of round-trips per call.
func WithRecursionLimit(n int) Option {
	return func(o *Options) {
		o.RecursionLimit = n
	}
}

// WithIgnorePreviousFunctionCalls hides function calls and results from
// earlier user turns.
func WithIgnorePreviousFunctionCalls() Option {
	return func(o *Options) {
		o.IgnorePreviousFunctionCalls = true
	}
}

// WithShortCircuitFailedCalls stops instead of recursing when every call in
// a batch failed.
func WithShortCircuitFailedCalls() Option {
	return func(o *Options) {
		o.ShortCircuitFailedCalls = true
	}
}

// WithUsageTracker records token usage reported by the provider.
func WithUsageTracker(t *UsageTracker) Option {
	return func(o *Options) {
		o.Usage = t
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithTracer sets the tracer for round-trip and function spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) {
		o.Tracer = t
	}
}
