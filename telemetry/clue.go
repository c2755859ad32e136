package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger delegates to goa.design/clue/log. Formatting and debug
	// settings come from the context (set via log.Context and
	// log.WithFormat/log.WithDebug at boot).
	ClueLogger struct{}

	// OtelTracer opens spans through the global OpenTelemetry
	// TracerProvider. When no provider is configured the SDK returns no-op
	// spans, so this tracer is safe to install unconditionally.
	OtelTracer struct {
		tracer trace.Tracer
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger {
	return ClueLogger{}
}

// NewOtelTracer constructs a Tracer that delegates to the global
// TracerProvider. Configure the provider via otel.SetTracerProvider before
// runtime use (typically done at boot from OTEL_EXPORTER_OTLP_ENDPOINT).
func NewOtelTracer() Tracer {
	return &OtelTracer{tracer: otel.Tracer("github.com/typedai/typedai")}
}

// Debug emits a debug-level log message with structured key-value pairs.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, kvFielders(msg, keyvals)...)
}

// Info emits an info-level log message with structured key-value pairs.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, kvFielders(msg, keyvals)...)
}

// Warn emits a warning-level log message with structured key-value pairs.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, kvFielders(msg, keyvals)...)
}

// Error emits an error-level log message with structured key-value pairs.
func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, kvFielders(msg, keyvals)...)
}

// StartSpan implements Tracer.
func (t *OtelTracer) StartSpan(ctx context.Context, name string) (context.Context, func(err error)) {
	spanCtx, span := t.tracer.Start(ctx, name)
	return spanCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// kvFielders converts (msg, k1, v1, k2, v2, ...) into Clue fielders. Non-string
// keys are skipped; a trailing key without a value is paired with nil.
func kvFielders(msg string, keyvals []any) []log.Fielder {
	fielders := []log.Fielder{log.KV{K: "msg", V: msg}}
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: key, V: v})
	}
	return fielders
}
