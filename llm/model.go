package llm

import (
	"context"
	"iter"
)

// Model represents a configured LLM model with default options.
// It provides a convenient way to reuse common configuration.
//
// Example:
//
//	model := llm.NewModel("openai", "gpt-4o-mini",
//	    llm.WithTemperature(0.7),
//	    llm.WithFunctions(fns),
//	)
//
//	answer, err := model.Ask(ctx, "Tell me a joke")
type Model struct {
	providerName string
	modelName    string
	baseOpts     []Option
}

// NewModel creates a new Model with the given provider and model name.
// Additional options can be provided as default configuration.
func NewModel(providerName, modelName string, opts ...Option) *Model {
	return &Model{
		providerName: providerName,
		modelName:    modelName,
		baseOpts:     opts,
	}
}

// NewModelFromConfig creates a Model from a loaded config.
func NewModelFromConfig(cfg *Config, opts ...Option) (*Model, error) {
	base, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return NewModel(cfg.Provider, cfg.Model, append(base, opts...)...), nil
}

// Complete runs Complete with this model's configuration.
// Per-call options override the model's base options.
func (m *Model) Complete(ctx context.Context, conv *Conversation, opts ...Option) (string, error) {
	return Complete(ctx, conv, m.mergeOptions(opts)...)
}

// Stream runs Stream with this model's configuration.
func (m *Model) Stream(ctx context.Context, conv *Conversation, opts ...Option) iter.Seq2[string, error] {
	return Stream(ctx, conv, m.mergeOptions(opts)...)
}

// Ask sends a single user prompt in a fresh conversation and returns the
// answer.
func (m *Model) Ask(ctx context.Context, prompt string, opts ...Option) (string, error) {
	return m.Complete(ctx, NewConversation(UserMessage(prompt)), opts...)
}

// mergeOptions combines base options with per-call options.
func (m *Model) mergeOptions(opts []Option) []Option {
	allOpts := make([]Option, 0, len(m.baseOpts)+len(opts)+2)
	allOpts = append(allOpts, WithProvider(m.providerName), WithModel(m.modelName))
	allOpts = append(allOpts, m.baseOpts...)
	allOpts = append(allOpts, opts...) // Per-call opts override base opts
	return allOpts
}
