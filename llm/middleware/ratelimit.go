// Package middleware provides reusable llm.Llm middlewares such as adaptive
// rate limiting.
package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/typedai/typedai/llm"
)

type (
	// AdaptiveRateLimiter applies an AIMD-style adaptive token bucket on top
	// of an llm.Llm. It estimates the token cost of each request, blocks
	// callers until capacity is available, and adjusts its effective
	// tokens-per-minute budget in response to rate limiting signals from the
	// provider.
	//
	// The limiter is designed to sit at the provider client boundary. Callers
	// construct a single instance per process and per provider key, and wrap
	// the underlying llm.Llm with Middleware.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64

		onBackoff func(newTPM float64)
		onProbe   func(newTPM float64)
	}

	limitedClient struct {
		next    llm.Llm
		limiter *AdaptiveRateLimiter
	}

	// budgetMap is the shared-budget surface used by the cluster-aware
	// limiter. redisBudgetMap implements it on Redis; tests use a fake.
	budgetMap interface {
		Get(ctx context.Context, key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe(ctx context.Context, key string) <-chan string
	}

	redisBudgetMap struct {
		rdb redis.UniversalClient
	}
)

// testAndSetScript atomically replaces the budget value only when the current
// value matches the caller's expectation, returning the value it observed.
var testAndSetScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
end
if cur == false then
  return ''
end
return cur
`)

// NewAdaptiveRateLimiter constructs an AdaptiveRateLimiter with a
// tokens-per-minute budget. When rdb and key are set, it coordinates capacity
// across processes through a shared Redis value; otherwise it operates as a
// process-local limiter.
func NewAdaptiveRateLimiter(ctx context.Context, rdb redis.UniversalClient, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	var bm budgetMap
	if rdb != nil {
		bm = &redisBudgetMap{rdb: rdb}
	}
	return newClusterAdaptiveRateLimiter(ctx, bm, key, initialTPM, maxTPM)
}

// newAdaptiveRateLimiter constructs a process-local limiter with an initial
// tokens-per-minute budget and an upper bound, using a simple AIMD strategy.
//
// initialTPM and maxTPM are expressed in tokens per minute. When maxTPM is
// zero or less than initialTPM, it is clamped to initialTPM.
func newAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		// Conservative budget when callers do not provide one.
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	lim := rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM))

	return &AdaptiveRateLimiter{
		limiter:      lim,
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Middleware returns an llm.Llm middleware that enforces the adaptive
// tokens-per-minute limit on Generate calls.
func (l *AdaptiveRateLimiter) Middleware() func(llm.Llm) llm.Llm {
	return func(next llm.Llm) llm.Llm {
		if next == nil {
			return nil
		}
		return &limitedClient{
			next:    next,
			limiter: l,
		}
	}
}

// Generate enforces the limiter before delegating to the underlying client.
func (c *limitedClient) Generate(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (llm.Message, error) {
	if err := c.limiter.wait(ctx, messages); err != nil {
		return llm.Message{}, err
	}
	out, err := c.next.Generate(ctx, messages, opts)
	c.limiter.observe(err)
	return out, err
}

// IsConfigured delegates to the underlying client.
func (c *limitedClient) IsConfigured() bool { return c.next.IsConfigured() }

// GetMaxInputTokens delegates to the underlying client.
func (c *limitedClient) GetMaxInputTokens() int { return c.next.GetMaxInputTokens() }

// GetID delegates to the underlying client.
func (c *limitedClient) GetID() string { return c.next.GetID() }

func (l *AdaptiveRateLimiter) wait(ctx context.Context, messages []llm.Message) error {
	return l.limiter.WaitN(ctx, estimateTokens(messages))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if llm.IsRetryable(err) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()

	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))

	cb := l.onBackoff

	l.mu.Unlock()

	if cb != nil {
		cb(newTPM)
	}
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()

	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))

	cb := l.onProbe

	l.mu.Unlock()

	if cb != nil {
		cb(newTPM)
	}
}

// estimateTokens computes a cheap heuristic for the number of tokens in the
// message history: roughly one token per three characters plus a fixed buffer
// for system prompts and provider framing.
func estimateTokens(messages []llm.Message) int {
	charCount := 0
	for _, m := range messages {
		charCount += len(m.Text())
	}
	if charCount <= 0 {
		// Minimal non-zero estimate so callers still incur limiter costs
		// even when messages are extremely small.
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

// replaceTPM updates the limiter effective budget to the given value, clamped
// to the configured [minTPM, maxTPM] range.
func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	if tpm == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
	l.mu.Unlock()
}

func (l *AdaptiveRateLimiter) setClusterCallbacks(onBackoff, onProbe func(newTPM float64)) {
	l.mu.Lock()
	l.onBackoff = onBackoff
	l.onProbe = onProbe
	l.mu.Unlock()
}

func (m *redisBudgetMap) Get(ctx context.Context, key string) (string, bool) {
	val, err := m.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (m *redisBudgetMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, err
	}
	if ok {
		m.rdb.Publish(ctx, key+":events", value)
	}
	return ok, nil
}

func (m *redisBudgetMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	prev, err := testAndSetScript.Run(ctx, m.rdb, []string{key}, test, value).Text()
	if err != nil {
		return "", err
	}
	if prev == test {
		m.rdb.Publish(ctx, key+":events", value)
	}
	return prev, nil
}

func (m *redisBudgetMap) Subscribe(ctx context.Context, key string) <-chan string {
	sub := m.rdb.Subscribe(ctx, key+":events")
	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		for msg := range sub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func newClusterAdaptiveRateLimiter(ctx context.Context, m budgetMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if key == "" || m == nil {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}

	// Best-effort initialization: if the key does not exist yet, seed it with
	// the initial value. A concurrent writer may still win; we refresh below.
	if _, ok := m.Get(ctx, key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
			// When seeding the shared budget fails, fall back to a
			// process-local limiter so callers still make progress.
			return newAdaptiveRateLimiter(initialTPM, maxTPM)
		}
	}

	sharedTPM := initialTPM
	if cur, ok := m.Get(ctx, key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			sharedTPM = v
		}
	}

	l := newAdaptiveRateLimiter(sharedTPM, maxTPM)

	floor := l.minTPM
	ceiling := l.maxTPM
	step := l.recoveryRate

	l.setClusterCallbacks(
		func(_ float64) {
			go globalBackoff(context.Background(), m, key, floor)
		},
		func(_ float64) {
			go globalProbe(context.Background(), m, key, step, ceiling)
		},
	)

	// Watch for external changes to the shared budget and reconcile the local
	// limiter when they occur.
	ch := m.Subscribe(ctx, key)
	go func() {
		for cur := range ch {
			v, err := strconv.ParseFloat(cur, 64)
			if err != nil || v <= 0 {
				continue
			}
			l.replaceTPM(v)
		}
	}()

	return l
}

func globalBackoff(ctx context.Context, m budgetMap, key string, floor float64) {
	const maxAttempts = 3

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(ctx, key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil {
			return
		}
		if prev == curStr {
			return
		}
	}
}

func globalProbe(ctx context.Context, m budgetMap, key string, step, ceiling float64) {
	const maxAttempts = 3

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(ctx, key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		if cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil {
			return
		}
		if prev == curStr {
			return
		}
	}
}
