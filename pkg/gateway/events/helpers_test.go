package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/o11y"
)

// recorder collects the events delivered to it.
type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan Event, 1024)}
}

func (r *recorder) OnEvent(ctx context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.notify <- event
	return nil
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// next waits for the next delivered event.
func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.notify:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// none asserts nothing is delivered within d.
func (r *recorder) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case e := <-r.notify:
		t.Fatalf("unexpected event %q", e.Name)
	case <-time.After(d):
	}
}

// fakeBackend is a Backend that records calls without delivering anything.
type fakeBackend struct {
	mu        sync.Mutex
	published []Event
	topics    []string
	closed    bool
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Publish(ctx context.Context, topic string, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	s := newSubscription(ctx, topic, handler, nil, nil)
	s.onStop = func() { close(s.done) }
	return s, nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type countingMetricsProvider struct {
	mu       sync.Mutex
	counters map[string]*countingCounter
	gauges   map[string]*lastGauge
}

func newCountingMetricsProvider() *countingMetricsProvider {
	return &countingMetricsProvider{
		counters: make(map[string]*countingCounter),
		gauges:   make(map[string]*lastGauge),
	}
}

func (p *countingMetricsProvider) Counter(name string) o11y.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &countingCounter{}
	p.counters[name] = c
	return c
}

func (p *countingMetricsProvider) Histogram(name string) o11y.Histogram {
	return noopHistogram{}
}

func (p *countingMetricsProvider) Gauge(name string) o11y.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := &lastGauge{}
	p.gauges[name] = g
	return g
}

type countingCounter struct {
	mu    sync.Mutex
	total int64
}

func (c *countingCounter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	c.mu.Lock()
	c.total += value
	c.mu.Unlock()
}

func (c *countingCounter) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

type noopHistogram struct{}

func (noopHistogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {}

type lastGauge struct {
	mu    sync.Mutex
	value float64
}

func (g *lastGauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	g.mu.Lock()
	g.value = value
	g.mu.Unlock()
}

func (g *lastGauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}
