package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new internal span with the given name and
// attributes (used for send/receive/commit operations).
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanError marks the span as errored.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys for broker spans.
var (
	AttrQueueName     = attribute.Key("helianthus.queue.name")
	AttrTopicName     = attribute.Key("helianthus.topic.name")
	AttrMessageID     = attribute.Key("helianthus.message.id")
	AttrTransactionID = attribute.Key("helianthus.transaction.id")
	AttrShardID       = attribute.Key("helianthus.shard.id")
	AttrDeliveryMode  = attribute.Key("helianthus.delivery_mode")
	AttrDurationMs    = attribute.Key("helianthus.duration_ms")
)
