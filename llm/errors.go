package llm

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrProviderRequired is returned when no provider is configured.
	ErrProviderRequired = errors.New("provider is required: use WithProvider option")

	// ErrModelRequired is returned when WithModel is not specified.
	ErrModelRequired = errors.New("model is required: use WithModel option")

	// ErrRecursionLimit is returned when a conversation needs more
	// round-trips than the configured ceiling allows.
	ErrRecursionLimit = errors.New("recursion limit reached")

	// ErrStreamingUnsupported is returned by Stream for providers that
	// cannot stream.
	ErrStreamingUnsupported = errors.New("provider does not support streaming")

	// ErrFunctionNotRegistered is returned by FunctionSet.Call for names
	// the set does not hold.
	ErrFunctionNotRegistered = errors.New("not registered")

	// ErrNoHandler is returned by FunctionSet.Call for functions declared
	// without a handler.
	ErrNoHandler = errors.New("no handler")

	// ErrFunctionPanicked is wrapped by the error of a handler that
	// panicked.
	ErrFunctionPanicked = errors.New("panic")
)

// ProviderError wraps a failed round-trip to the LLM provider.
type ProviderError struct {
	Provider string
	Depth    int
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s request failed (round-trip %d): %v", e.Provider, e.Depth+1, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// FunctionError is returned by a function handler that failed. Its message
// is what the model sees in the function result.
type FunctionError struct {
	Name  string
	Cause error
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %q failed: %v", e.Name, e.Cause)
}

func (e *FunctionError) Unwrap() error {
	return e.Cause
}
