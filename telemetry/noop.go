package telemetry

import "context"

type (
	// NoopLogger discards all log records.
	NoopLogger struct{}

	// NoopTracer produces no spans.
	NoopTracer struct{}
)

// NewNoopLogger returns a Logger that discards everything.
func NewNoopLogger() Logger { return NoopLogger{} }

// NewNoopTracer returns a Tracer that produces no spans.
func NewNoopTracer() Tracer { return NoopTracer{} }

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

// StartSpan implements Tracer.
func (NoopTracer) StartSpan(ctx context.Context, _ string) (context.Context, func(err error)) {
	return ctx, func(error) {}
}
