package o11y

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a point-in-time copy of everything a SnapshotProvider
// has recorded. Series are keyed by metric name followed by their labels,
// e.g. `gateway_closes_total{code="4001"}`.
type MetricsSnapshot struct {
	Timestamp   time.Time                    `json:"timestamp"`
	ServiceName string                       `json:"service_name"`
	Counters    map[string]int64             `json:"counters"`
	Histograms  map[string]HistogramSnapshot `json:"histograms"`
	Gauges      map[string]float64           `json:"gauges"`
}

type HistogramSnapshot struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// SnapshotProvider is an in-process MetricsProvider whose values can be
// read back with Snapshot.
type SnapshotProvider struct {
	serviceName string

	counters   sync.Map // map[string]*snapshotCounter
	histograms sync.Map // map[string]*snapshotHistogram
	gauges     sync.Map // map[string]*snapshotGauge
}

func NewSnapshotProvider(serviceName string) *SnapshotProvider {
	if serviceName == "" {
		serviceName = "unknown"
	}
	return &SnapshotProvider{serviceName: serviceName}
}

func (s *SnapshotProvider) Counter(name string) Counter {
	return &snapshotCounter{provider: s, name: name}
}

func (s *SnapshotProvider) Histogram(name string) Histogram {
	return &snapshotHistogram{provider: s, name: name}
}

func (s *SnapshotProvider) Gauge(name string) Gauge {
	return &snapshotGauge{provider: s, name: name}
}

// Snapshot copies the current values.
func (s *SnapshotProvider) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Timestamp:   time.Now(),
		ServiceName: s.serviceName,
		Counters:    make(map[string]int64),
		Histograms:  make(map[string]HistogramSnapshot),
		Gauges:      make(map[string]float64),
	}

	s.counters.Range(func(key, value any) bool {
		snapshot.Counters[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	s.histograms.Range(func(key, value any) bool {
		snapshot.Histograms[key.(string)] = value.(*histogramSeries).snapshot()
		return true
	})

	s.gauges.Range(func(key, value any) bool {
		snapshot.Gauges[key.(string)] = math.Float64frombits(value.(*atomic.Uint64).Load())
		return true
	})

	return snapshot
}

// Report calls sink with a fresh snapshot every interval until ctx is done,
// then once more.
func (s *SnapshotProvider) Report(ctx context.Context, interval time.Duration, sink func(MetricsSnapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sink(s.Snapshot())
		case <-ctx.Done():
			sink(s.Snapshot())
			return
		}
	}
}

// ServeHTTP writes the current snapshot as JSON.
func (s *SnapshotProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Snapshot())
}

// seriesKey renders name and labels in a stable order.
func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}

	sorted := make([]Label, len(labels))
	copy(sorted, labels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Key)
		b.WriteString(`="`)
		b.WriteString(l.Value)
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

type snapshotCounter struct {
	provider *SnapshotProvider
	name     string
}

func (c *snapshotCounter) Add(ctx context.Context, value int64, labels ...Label) {
	v, _ := c.provider.counters.LoadOrStore(seriesKey(c.name, labels), new(atomic.Int64))
	v.(*atomic.Int64).Add(value)
}

type snapshotGauge struct {
	provider *SnapshotProvider
	name     string
}

func (g *snapshotGauge) Set(ctx context.Context, value float64, labels ...Label) {
	v, _ := g.provider.gauges.LoadOrStore(seriesKey(g.name, labels), new(atomic.Uint64))
	v.(*atomic.Uint64).Store(math.Float64bits(value))
}

type snapshotHistogram struct {
	provider *SnapshotProvider
	name     string
}

func (h *snapshotHistogram) Record(ctx context.Context, value float64, labels ...Label) {
	v, _ := h.provider.histograms.LoadOrStore(seriesKey(h.name, labels), &histogramSeries{})
	v.(*histogramSeries).record(value)
}

type histogramSeries struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	min   float64
	max   float64
}

func (s *histogramSeries) record(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 || value < s.min {
		s.min = value
	}
	if s.count == 0 || value > s.max {
		s.max = value
	}
	s.count++
	s.sum += value
}

func (s *histogramSeries) snapshot() HistogramSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HistogramSnapshot{Count: s.count, Sum: s.sum, Min: s.min, Max: s.max}
}

// MultiMetrics fans every measurement out to all providers. Nil providers
// are skipped.
func MultiMetrics(providers ...MetricsProvider) MetricsProvider {
	var live multiMetrics
	for _, p := range providers {
		if p != nil {
			live = append(live, p)
		}
	}
	return live
}

type multiMetrics []MetricsProvider

func (m multiMetrics) Counter(name string) Counter {
	counters := make(multiCounter, len(m))
	for i, p := range m {
		counters[i] = p.Counter(name)
	}
	return counters
}

func (m multiMetrics) Histogram(name string) Histogram {
	histograms := make(multiHistogram, len(m))
	for i, p := range m {
		histograms[i] = p.Histogram(name)
	}
	return histograms
}

func (m multiMetrics) Gauge(name string) Gauge {
	gauges := make(multiGauge, len(m))
	for i, p := range m {
		gauges[i] = p.Gauge(name)
	}
	return gauges
}

type multiCounter []Counter

func (m multiCounter) Add(ctx context.Context, value int64, labels ...Label) {
	for _, c := range m {
		c.Add(ctx, value, labels...)
	}
}

type multiHistogram []Histogram

func (m multiHistogram) Record(ctx context.Context, value float64, labels ...Label) {
	for _, h := range m {
		h.Record(ctx, value, labels...)
	}
}

type multiGauge []Gauge

func (m multiGauge) Set(ctx context.Context, value float64, labels ...Label) {
	for _, g := range m {
		g.Set(ctx, value, labels...)
	}
}
