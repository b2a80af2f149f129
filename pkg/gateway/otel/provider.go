// Package otel adapts OpenTelemetry to the o11y interfaces used by the
// gateway components.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/o11y"
)

// Provider is both an o11y.MetricsProvider and an o11y.TracingProvider.
// Instruments are created once per name and shared.
type Provider struct {
	meter  metric.Meter
	tracer trace.Tracer

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

type options struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

type Option func(*options)

// WithMeterProvider records metrics to mp instead of the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider starts spans on tp instead of the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

func NewProvider(serviceName, serviceVersion string, opts ...Option) *Provider {
	o := options{
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Provider{
		meter:      o.meterProvider.Meter(serviceName, metric.WithInstrumentationVersion(serviceVersion)),
		tracer:     o.tracerProvider.Tracer(serviceName, trace.WithInstrumentationVersion(serviceVersion)),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// instrument returns the cached instrument for name, creating it with create
// on first use. A creation error yields nil, which callers treat as a no-op.
func instrument[T any](p *Provider, cache map[string]T, name string, create func(string) (T, error)) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if inst, ok := cache[name]; ok {
		return inst, true
	}
	inst, err := create(name)
	if err != nil {
		var zero T
		return zero, false
	}
	cache[name] = inst
	return inst, true
}

func (p *Provider) Counter(name string) o11y.Counter {
	c, ok := instrument(p, p.counters, name, func(n string) (metric.Int64Counter, error) {
		return p.meter.Int64Counter(n)
	})
	if !ok {
		return nopInstrument{}
	}
	return counter{c}
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	h, ok := instrument(p, p.histograms, name, func(n string) (metric.Float64Histogram, error) {
		return p.meter.Float64Histogram(n)
	})
	if !ok {
		return nopInstrument{}
	}
	return histogram{h}
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	g, ok := instrument(p, p.gauges, name, func(n string) (metric.Float64Gauge, error) {
		return p.meter.Float64Gauge(n)
	})
	if !ok {
		return nopInstrument{}
	}
	return gauge{g}
}

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	ctx, s := p.tracer.Start(ctx, name)
	return ctx, span{s}
}

func attributes(labels []o11y.Label) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, len(labels))
	for i, label := range labels {
		attrs[i] = attribute.String(label.Key, label.Value)
	}
	return attrs
}

type counter struct{ metric.Int64Counter }

func (c counter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	c.Int64Counter.Add(ctx, value, metric.WithAttributes(attributes(labels)...))
}

type histogram struct{ metric.Float64Histogram }

func (h histogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	h.Float64Histogram.Record(ctx, value, metric.WithAttributes(attributes(labels)...))
}

type gauge struct{ metric.Float64Gauge }

func (g gauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	g.Float64Gauge.Record(ctx, value, metric.WithAttributes(attributes(labels)...))
}

type nopInstrument struct{}

func (nopInstrument) Add(context.Context, int64, ...o11y.Label)      {}
func (nopInstrument) Record(context.Context, float64, ...o11y.Label) {}
func (nopInstrument) Set(context.Context, float64, ...o11y.Label)    {}

type span struct{ trace.Span }

func (s span) SetAttributes(labels ...o11y.Label) {
	s.Span.SetAttributes(attributes(labels)...)
}

func (s span) SetStatus(code o11y.SpanStatusCode, description string) {
	switch code {
	case o11y.SpanStatusOK:
		s.Span.SetStatus(codes.Ok, description)
	case o11y.SpanStatusError:
		s.Span.SetStatus(codes.Error, description)
	default:
		s.Span.SetStatus(codes.Unset, description)
	}
}

func (s span) End() {
	s.Span.End()
}
