package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gotel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/o11y"
)

func newTestProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return NewProvider("gateway-test", "v0", WithTracerProvider(tp), WithMeterProvider(noop.NewMeterProvider())), recorder
}

func TestProviderSpans(t *testing.T) {
	p, recorder := newTestProvider(t)

	_, span := p.StartSpan(context.Background(), "eventbus.publish")
	span.SetAttributes(o11y.Label{Key: "topic", Value: "g1"})
	o11y.EndSpan(span, nil)

	_, failed := p.StartSpan(context.Background(), "eventbus.subscribe")
	o11y.EndSpan(failed, errors.New("broker down"))

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	assert.Equal(t, "eventbus.publish", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("topic", "g1"))
	assert.Equal(t, "gateway-test", ended[0].InstrumentationScope().Name)

	assert.Equal(t, "eventbus.subscribe", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "broker down", ended[1].Status().Description)
}

func TestProviderNestedSpans(t *testing.T) {
	p, recorder := newTestProvider(t)

	ctx, parent := p.StartSpan(context.Background(), "parent")
	_, child := p.StartSpan(ctx, "child")
	child.End()
	parent.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
}

func TestProviderInstrumentsAreCached(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	p.Counter("gateway_connections_total").Add(ctx, 1, o11y.Label{Key: "status", Value: "success"})
	p.Counter("gateway_connections_total").Add(ctx, 1)
	p.Histogram("gateway_frame_size_bytes").Record(ctx, 12)
	p.Gauge("gateway_active_connections").Set(ctx, 3)

	assert.Len(t, p.counters, 1)
	assert.Len(t, p.histograms, 1)
	assert.Len(t, p.gauges, 1)
}

func TestProviderUsesGlobalsByDefault(t *testing.T) {
	p := NewProvider("gateway-test", "v0")

	ctx, span := p.StartSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	span.SetAttributes(o11y.Label{Key: "k", Value: "v"})
	span.SetStatus(o11y.SpanStatusUnset, "")
	span.End()

	p.Counter("c").Add(context.Background(), 1)
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "", "gateway", "v0")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingEnabled(t *testing.T) {
	previous := gotel.GetTracerProvider()
	t.Cleanup(func() { gotel.SetTracerProvider(previous) })

	shutdown, err := SetupTracing(context.Background(), "http://127.0.0.1:1", "gateway", "v0")
	require.NoError(t, err)

	p := NewProvider("gateway", "v0")
	_, span := p.StartSpan(context.Background(), "startup")
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Export fails against the closed port; shutdown must still return.
	_ = shutdown(ctx)
}
