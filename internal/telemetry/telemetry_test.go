package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerProvider_RecordsSpans(t *testing.T) {
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()

	tp, err := NewTracerProvider(ctx, "tokenledger-test", "", sdktrace.WithSpanProcessor(sr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prev := otel.GetTracerProvider()
	Install(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := otel.Tracer("test").Start(ctx, "work")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "work", spans[0].Name())
	assert.Contains(t, spans[0].Resource().Attributes(), attribute.String("service.name", "tokenledger-test"))
}
