package llm

import (
	"context"
)

type (
	// ThinkingLevel selects the provider "thinking" effort for models that
	// support reflective chains.
	ThinkingLevel string

	// GenerateOptions carries the per-call generation parameters. Zero values
	// mean "provider default". Fields map to common provider parameters and
	// may be ignored by backends that do not support them.
	GenerateOptions struct {
		// ID names the call for spans and durable call descriptions.
		ID string
		// Temperature controls sampling temperature.
		Temperature float64
		// TopP is nucleus sampling probability mass.
		TopP float64
		// TopK limits sampling to the K most likely tokens. Values above 40
		// are clamped to 40 before reaching providers.
		TopK int
		// FrequencyPenalty penalizes repeated tokens.
		FrequencyPenalty float64
		// PresencePenalty penalizes tokens already present.
		PresencePenalty float64
		// StopSequences stop generation when emitted.
		StopSequences []string
		// MaxRetries bounds the transient-error retry count. Zero uses the
		// package default.
		MaxRetries int
		// MaxTokens caps completion tokens.
		MaxTokens int
		// Thinking selects the thinking effort: "low", "medium" or "high".
		// Empty disables thinking.
		Thinking ThinkingLevel
	}

	// Llm is the uniform request surface across providers. Implementations
	// must be safe for concurrent use.
	Llm interface {
		// Generate sends the message history to the model and returns the
		// assistant message including usage stats. Transient provider
		// failures are wrapped in RetryableError for the retry layer.
		Generate(ctx context.Context, messages []Message, opts GenerateOptions) (Message, error)
		// IsConfigured reports whether the provider has the credentials and
		// settings it needs to serve calls.
		IsConfigured() bool
		// GetMaxInputTokens returns the provider input context limit.
		GetMaxInputTokens() int
		// GetID returns the stable provider/model identifier recorded on
		// durable LLM calls.
		GetID() string
	}

	// TokenCounter estimates the token count of text. The composite client
	// uses it to skip providers whose input limit would be exceeded.
	TokenCounter interface {
		CountTokens(text string) int
	}
)

// Thinking levels accepted by GenerateOptions.Thinking.
const (
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// MaxTopK is the upper bound applied to GenerateOptions.TopK.
const MaxTopK = 40

// ClampTopK returns opts with TopK clamped to MaxTopK.
func ClampTopK(opts GenerateOptions) GenerateOptions {
	if opts.TopK > MaxTopK {
		opts.TopK = MaxTopK
	}
	return opts
}

// CountMessageTokens estimates the total token count of a message slice using
// the provided counter.
func CountMessageTokens(counter TokenCounter, messages []Message) int {
	if counter == nil {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += counter.CountTokens(m.Text())
	}
	return total
}
