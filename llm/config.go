package llm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of the call options.
//
// Example:
//
//	provider: openai
//	model: gpt-4o-mini
//	temperature: 0.2
//	max_attempts: 5
//	message_limit: 40
//	time_aware: true
//	timeout: 2m
type Config struct {
	Provider      string   `yaml:"provider"`
	Model         string   `yaml:"model"`
	Temperature   *float64 `yaml:"temperature,omitempty"`
	MaxTokens     *int     `yaml:"max_tokens,omitempty"`
	TopP          *float64 `yaml:"top_p,omitempty"`
	TopK          *int     `yaml:"top_k,omitempty"`
	Seed          *int     `yaml:"seed,omitempty"`
	StopSequences []string `yaml:"stop_sequences,omitempty"`

	MaxAttempts    int    `yaml:"max_attempts,omitempty"`
	Timeout        string `yaml:"timeout,omitempty"`
	MessageLimit   int    `yaml:"message_limit,omitempty"`
	CharacterLimit int    `yaml:"character_limit,omitempty"`
	RecursionLimit int    `yaml:"recursion_limit,omitempty"`

	SystemMessage               string `yaml:"system_message,omitempty"`
	TimeAware                   bool   `yaml:"time_aware,omitempty"`
	IgnorePreviousFunctionCalls bool   `yaml:"ignore_previous_function_calls,omitempty"`
	ShortCircuitFailedCalls     bool   `yaml:"short_circuit_failed_calls,omitempty"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML config.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Options converts the config into call options. Unset fields keep their
// defaults.
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	if c.Provider != "" {
		opts = append(opts, WithProvider(c.Provider))
	}
	if c.Model != "" {
		opts = append(opts, WithModel(c.Model))
	}
	if c.Temperature != nil {
		opts = append(opts, WithTemperature(*c.Temperature))
	}
	if c.MaxTokens != nil {
		opts = append(opts, WithMaxTokens(*c.MaxTokens))
	}
	if c.TopP != nil {
		opts = append(opts, WithTopP(*c.TopP))
	}
	if c.TopK != nil {
		opts = append(opts, WithTopK(*c.TopK))
	}
	if c.Seed != nil {
		opts = append(opts, WithSeed(*c.Seed))
	}
	if len(c.StopSequences) > 0 {
		opts = append(opts, WithStopSequences(c.StopSequences...))
	}
	if c.MaxAttempts > 0 {
		opts = append(opts, WithMaxAttempts(c.MaxAttempts))
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
		}
		opts = append(opts, WithTimeout(d))
	}
	if c.MessageLimit > 0 {
		opts = append(opts, WithMessageLimit(c.MessageLimit))
	}
	if c.CharacterLimit > 0 {
		opts = append(opts, WithCharacterLimit(c.CharacterLimit))
	}
	if c.RecursionLimit > 0 {
		opts = append(opts, WithRecursionLimit(c.RecursionLimit))
	}
	if c.SystemMessage != "" {
		opts = append(opts, WithSystemMessage(c.SystemMessage))
	}
	if c.TimeAware {
		opts = append(opts, WithTimeAwareness())
	}
	if c.IgnorePreviousFunctionCalls {
		opts = append(opts, WithIgnorePreviousFunctionCalls())
	}
	if c.ShortCircuitFailedCalls {
		opts = append(opts, WithShortCircuitFailedCalls())
	}
	return opts, nil
}
