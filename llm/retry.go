package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxRetries bounds transient-error retries when
// GenerateOptions.MaxRetries is zero.
const DefaultMaxRetries = 5

// generateWithRetry invokes target.Generate, retrying transient failures with
// exponential backoff. Non-retryable errors surface immediately; exhausted
// retries surface the last transient error unwrapped from its marker.
func generateWithRetry(ctx context.Context, target Llm, messages []Message, opts GenerateOptions) (Message, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(30*time.Second),
	), uint64(maxRetries)), ctx)

	var out Message
	operation := func() error {
		msg, err := target.Generate(ctx, messages, opts)
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = msg
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return Message{}, err
	}
	return out, nil
}
