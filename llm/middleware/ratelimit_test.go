package middleware

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/time/rate"

	"github.com/typedai/typedai/llm"
)

type fakeLlm struct {
	generateErr error
	calls       int
}

func (f *fakeLlm) Generate(_ context.Context, _ []llm.Message, _ llm.GenerateOptions) (llm.Message, error) {
	f.calls++
	return llm.Assistant("ok"), f.generateErr
}

func (f *fakeLlm) IsConfigured() bool     { return true }
func (f *fakeLlm) GetMaxInputTokens() int { return 100000 }
func (f *fakeLlm) GetID() string          { return "fake" }

func TestAdaptiveRateLimiter_BackoffOnRateLimited(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 60000)

	initialTPM := limiter.currentTPM

	client := &fakeLlm{generateErr: llm.Retryable(errors.New("429"))}
	wrapped := limiter.Middleware()(client)

	_, err := wrapped.Generate(context.Background(), []llm.Message{llm.UserMsg("hello")}, llm.GenerateOptions{})
	if err == nil || !llm.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM >= initialTPM {
		t.Fatalf("expected TPM to decrease, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_ProbeOnSuccess(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)

	limiter.mu.Lock()
	initialTPM := limiter.currentTPM
	limiter.recoveryRate = 1000
	limiter.mu.Unlock()

	client := &fakeLlm{}
	wrapped := limiter.Middleware()(client)

	_, err := wrapped.Generate(context.Background(), []llm.Message{llm.UserMsg("hello")}, llm.GenerateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM <= initialTPM {
		t.Fatalf("expected TPM to increase, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_NonRetryableErrorLeavesBudget(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)

	initialTPM := limiter.currentTPM

	client := &fakeLlm{generateErr: errors.New("bad request")}
	wrapped := limiter.Middleware()(client)

	_, err := wrapped.Generate(context.Background(), []llm.Message{llm.UserMsg("hello")}, llm.GenerateOptions{})
	if err == nil {
		t.Fatal("expected error")
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM != initialTPM {
		t.Fatalf("expected TPM unchanged, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_RespectsContextWhenQueued(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60, 60)

	limiter.mu.Lock()
	limiter.currentTPM = 60
	// An impossible limiter makes any non-zero token request fail
	// immediately, exercising the error path without relying on timing.
	limiter.limiter = rate.NewLimiter(0, 0)
	limiter.mu.Unlock()

	client := &fakeLlm{}
	wrapped := limiter.Middleware()(client)

	_, err := wrapped.Generate(context.Background(), []llm.Message{llm.UserMsg("hello")}, llm.GenerateOptions{})
	if err == nil {
		t.Fatal("expected limiter error")
	}
	if client.calls != 0 {
		t.Fatalf("expected underlying client not to be called, got %d calls", client.calls)
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	small := estimateTokens([]llm.Message{llm.UserMsg("short")})
	big := estimateTokens([]llm.Message{llm.UserMsg("this is a much longer message than the short one above")})

	if small <= 0 {
		t.Fatalf("expected positive token estimate for small request, got %d", small)
	}
	if big <= small {
		t.Fatalf("expected larger estimate for larger request, small=%d big=%d", small, big)
	}
}
