// Package telemetry provides OpenTelemetry tracing for message delivery and
// task execution.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name used when none is given.
const InstrumentationName = "github.com/vinayprograms/coordkit"

// Tracer wraps an OpenTelemetry tracer with coordination-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, payloads and params are recorded on spans
}

// NewTracer creates a tracer from the given provider.
func NewTracer(tp trace.TracerProvider, name string, debug bool) *Tracer {
	if name == "" {
		name = InstrumentationName
	}
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// Debug returns whether payloads are recorded on spans.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a generic span.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Delivery Spans ---

// DeliverySpanOptions describes a message being delivered.
type DeliverySpanOptions struct {
	MessageID     string
	Type          string
	SenderID      string
	RecipientID   string
	CorrelationID string
	Payload       interface{} // Only recorded if debug=true
}

// StartDeliverySpan starts a span covering delivery of one message.
func (t *Tracer) StartDeliverySpan(ctx context.Context, opts DeliverySpanOptions) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "bus.deliver", trace.WithSpanKind(trace.SpanKindConsumer))

	attrs := []attribute.KeyValue{
		attribute.String("message.id", opts.MessageID),
		attribute.String("message.type", opts.Type),
		attribute.String("message.sender", opts.SenderID),
	}
	if opts.RecipientID != "" {
		attrs = append(attrs, attribute.String("message.recipient", opts.RecipientID))
	}
	if opts.CorrelationID != "" {
		attrs = append(attrs, attribute.String("message.correlation_id", opts.CorrelationID))
	}
	if t.debug && opts.Payload != nil {
		attrs = append(attrs, attribute.String("message.payload", truncate(fmt.Sprint(opts.Payload), 2000)))
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

// EndDeliverySpan records how many callbacks ran and how many failed.
func (t *Tracer) EndDeliverySpan(span trace.Span, mode string, delivered, failed int) {
	span.SetAttributes(
		attribute.String("delivery.mode", mode),
		attribute.Int("delivery.callbacks", delivered),
		attribute.Int("delivery.failed", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d callbacks failed", failed, delivered))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Task Spans ---

// TaskSpanOptions describes a task being executed.
type TaskSpanOptions struct {
	TaskID    string
	Type      string
	CreatorID string
	Priority  int
	Params    map[string]interface{} // Only recorded if debug=true
}

// StartTaskSpan starts a span covering one handler invocation.
func (t *Tracer) StartTaskSpan(ctx context.Context, opts TaskSpanOptions) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "task."+opts.Type, trace.WithSpanKind(trace.SpanKindInternal))

	attrs := []attribute.KeyValue{
		attribute.String("task.id", opts.TaskID),
		attribute.String("task.type", opts.Type),
		attribute.String("task.creator", opts.CreatorID),
		attribute.Int("task.priority", opts.Priority),
	}
	if t.debug {
		for k, v := range opts.Params {
			attrs = append(attrs, attribute.String("task.param."+k, truncate(fmt.Sprint(v), 500)))
		}
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

// EndTaskSpan ends a task span with its final status.
func (t *Tracer) EndTaskSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("task.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
