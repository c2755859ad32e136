// Package telemetry defines the logging and tracing seams used throughout the
// runtime. Components depend on the Logger and Tracer interfaces rather than
// concrete backends so tests can run with no-ops and production wires Clue
// logging plus OpenTelemetry tracing.
package telemetry

import (
	"context"
)

type (
	// Logger emits structured log records with alternating key-value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Tracer opens spans around operations that matter. Implementations must
	// be cheap when tracing is disabled; the runtime calls WithSpan on every
	// agent iteration and every LLM invocation.
	Tracer interface {
		// StartSpan opens a span and returns the derived context plus a
		// function that ends the span. The end function must be safe to call
		// on all exit paths.
		StartSpan(ctx context.Context, name string) (context.Context, func(err error))
	}
)

// WithSpan runs fn inside a span named name. The span records fn's error, and
// closing the span never masks fn's outcome.
func WithSpan(ctx context.Context, tracer Tracer, name string, fn func(ctx context.Context) error) error {
	if tracer == nil {
		return fn(ctx)
	}
	spanCtx, end := tracer.StartSpan(ctx, name)
	err := fn(spanCtx)
	end(err)
	return err
}
