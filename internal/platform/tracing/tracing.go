// Package tracing wraps the OTel tracer used by the resolver and the batch
// linker. Without a registered TracerProvider the global no-op provider is
// used and spans are inert.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "whereabouts"

// Start creates a span as a child of the span in ctx. Callers must End it.
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}
