// Package o11y is the seam between gateway components and whatever metrics
// or tracing backend the process runs with. Components take a MetricsProvider
// and a TracingProvider; both may be nil.
package o11y

import (
	"context"
)

type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter only goes up.
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge holds the last value set.
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label is a metric attribute or span attribute.
type Label struct {
	Key   string
	Value string
}

type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// StatusLabel is status="error" for a non-nil err, else status="success".
func StatusLabel(err error) Label {
	if err != nil {
		return Label{Key: "status", Value: "error"}
	}
	return Label{Key: "status", Value: "success"}
}

// EndSpan marks span with the outcome of err and ends it. A nil span is ignored.
func EndSpan(span Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.SetStatus(SpanStatusError, err.Error())
	} else {
		span.SetStatus(SpanStatusOK, "")
	}
	span.End()
}
