package llm

import (
	"context"
	"fmt"

	"github.com/typedai/typedai/telemetry"
)

type (
	// FallbackLlm composes an ordered provider list behind the Llm interface.
	// Generate walks the list in priority order: unconfigured providers are
	// skipped, providers whose input limit the estimated token count exceeds
	// are skipped, and provider errors fall through to the next entry. The
	// call fails with ErrAllProvidersFailed only when the list is exhausted.
	FallbackLlm struct {
		id        string
		providers []Llm
		counter   TokenCounter
		logger    telemetry.Logger
	}
)

// NewFallback builds a composite client from providers in priority order. The
// counter estimates input tokens for capability checks; when nil, the token
// limit check is skipped.
func NewFallback(id string, counter TokenCounter, logger telemetry.Logger, providers ...Llm) (*FallbackLlm, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("llm: fallback %q requires at least one provider", id)
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &FallbackLlm{id: id, providers: providers, counter: counter, logger: logger}, nil
}

// Generate implements Llm by walking the provider list.
func (f *FallbackLlm) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (Message, error) {
	inputTokens := CountMessageTokens(f.counter, messages)
	var lastErr error
	for _, provider := range f.providers {
		if !provider.IsConfigured() {
			f.logger.Debug(ctx, "fallback: provider not configured", "provider", provider.GetID())
			continue
		}
		if limit := provider.GetMaxInputTokens(); limit > 0 && inputTokens > limit {
			f.logger.Debug(ctx, "fallback: input exceeds provider limit",
				"provider", provider.GetID(), "inputTokens", inputTokens, "maxInputTokens", limit)
			continue
		}
		msg, err := generateWithRetry(ctx, provider, messages, opts)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		f.logger.Warn(ctx, "fallback: provider failed, trying next",
			"provider", provider.GetID(), "err", err.Error())
	}
	if lastErr != nil {
		return Message{}, fmt.Errorf("%w: last error: %v", ErrAllProvidersFailed, lastErr)
	}
	return Message{}, ErrAllProvidersFailed
}

// IsConfigured reports true only when every provider in the list is
// configured.
func (f *FallbackLlm) IsConfigured() bool {
	for _, provider := range f.providers {
		if !provider.IsConfigured() {
			return false
		}
	}
	return true
}

// GetMaxInputTokens returns the maximum input limit across providers.
func (f *FallbackLlm) GetMaxInputTokens() int {
	max := 0
	for _, provider := range f.providers {
		if limit := provider.GetMaxInputTokens(); limit > max {
			max = limit
		}
	}
	return max
}

// GetID returns the composite identifier.
func (f *FallbackLlm) GetID() string { return f.id }
