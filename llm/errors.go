package llm

import (
	"errors"
	"fmt"
)

// ErrAllProvidersFailed is returned by the composite client when every
// provider in its list was skipped or failed.
var ErrAllProvidersFailed = errors.New("llm: all providers failed")

type (
	// RetryableError wraps a transient provider failure (HTTP 429/529,
	// transport errors). The retry layer unwraps it to decide whether another
	// attempt may succeed.
	RetryableError struct {
		cause error
	}

	// MaxTokensError reports that the model hit its output token cap. It
	// carries the partial assistant response so callers can replay with a
	// continuation prompt.
	MaxTokensError struct {
		// Partial is the truncated assistant message.
		Partial Message
	}
)

// Retryable wraps err as transient. Returns nil when err is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{cause: err}
}

// IsRetryable reports whether err or anything in its chain is transient.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("llm: retryable: %v", e.cause)
}

// Unwrap returns the transient cause.
func (e *RetryableError) Unwrap() error { return e.cause }

func (e *MaxTokensError) Error() string {
	return fmt.Sprintf("llm: max output tokens exceeded (%d chars of partial response)", len(e.Partial.Text()))
}

// AsMaxTokens returns the MaxTokensError in err's chain, if any.
func AsMaxTokens(err error) (*MaxTokensError, bool) {
	var mt *MaxTokensError
	if errors.As(err, &mt) {
		return mt, true
	}
	return nil, false
}
