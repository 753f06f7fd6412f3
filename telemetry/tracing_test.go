package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(debug bool) (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracer(tp, "test", debug), rec
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestDeliverySpan(t *testing.T) {
	tr, rec := newRecordingTracer(false)

	_, span := tr.StartDeliverySpan(context.Background(), DeliverySpanOptions{
		MessageID:     "m-1",
		Type:          "lint.done",
		SenderID:      "linter",
		CorrelationID: "t-1",
		Payload:       "secret",
	})
	tr.EndDeliverySpan(span, "broadcast", 3, 1)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "bus.deliver", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "lint.done", attrs["message.type"].AsString())
	assert.Equal(t, "t-1", attrs["message.correlation_id"].AsString())
	assert.Equal(t, int64(3), attrs["delivery.callbacks"].AsInt64())
	_, hasPayload := attrs["message.payload"]
	assert.False(t, hasPayload, "payload must not be recorded outside debug mode")
	_, hasRecipient := attrs["message.recipient"]
	assert.False(t, hasRecipient)
}

func TestTaskSpan(t *testing.T) {
	tr, rec := newRecordingTracer(true)

	_, span := tr.StartTaskSpan(context.Background(), TaskSpanOptions{
		TaskID:   "t-1",
		Type:     "echo",
		Priority: 7,
		Params:   map[string]interface{}{"x": 1},
	})
	tr.EndTaskSpan(span, "failed", fmt.Errorf("boom"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "task.echo", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, int64(7), attrs["task.priority"].AsInt64())
	assert.Equal(t, "1", attrs["task.param.x"].AsString())
	assert.Equal(t, "failed", attrs["task.status"].AsString())
}

func TestNoopTracer(t *testing.T) {
	tr := Noop()
	ctx, span := tr.StartTaskSpan(context.Background(), TaskSpanOptions{TaskID: "t", Type: "x"})
	assert.NotNil(t, ctx)
	tr.EndTaskSpan(span, "completed", nil)
	assert.False(t, span.SpanContext().IsValid())
}

func TestInitProviderRequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	_, err := InitProvider(context.Background(), ProviderConfig{})
	assert.Error(t, err)
}

func TestInitProviderUnknownProtocol(t *testing.T) {
	_, err := InitProvider(context.Background(), ProviderConfig{
		Endpoint: "localhost:4317",
		Protocol: "carrier-pigeon",
	})
	assert.ErrorContains(t, err, "unknown protocol")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}

func TestInitProviderHTTP(t *testing.T) {
	p, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:    "coordkit-test",
		ServiceVersion: "0.0.1",
		Endpoint:       "http://localhost:4318",
		Protocol:       "http",
		Insecure:       true,
	})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())

	_, span := p.Tracer().StartTaskSpan(context.Background(), TaskSpanOptions{TaskID: "t-1", Type: "echo"})
	assert.True(t, span.SpanContext().IsValid())
	p.Tracer().EndTaskSpan(span, "completed", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}
