package o11y

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotProviderRecords(t *testing.T) {
	ctx := context.Background()
	p := NewSnapshotProvider("gateway")

	p.Counter("frames_total").Add(ctx, 2)
	p.Counter("frames_total").Add(ctx, 3)
	p.Counter("closes_total").Add(ctx, 1, Label{Key: "code", Value: "4001"})
	p.Counter("closes_total").Add(ctx, 1, Label{Key: "code", Value: "4002"})
	p.Counter("closes_total").Add(ctx, 1, Label{Key: "code", Value: "4001"})

	p.Gauge("active").Set(ctx, 4)
	p.Gauge("active").Set(ctx, 2)

	h := p.Histogram("size")
	h.Record(ctx, 10)
	h.Record(ctx, 2)
	h.Record(ctx, 30)

	s := p.Snapshot()
	assert.Equal(t, "gateway", s.ServiceName)
	assert.Equal(t, int64(5), s.Counters["frames_total"])
	assert.Equal(t, int64(2), s.Counters[`closes_total{code="4001"}`])
	assert.Equal(t, int64(1), s.Counters[`closes_total{code="4002"}`])
	assert.Equal(t, 2.0, s.Gauges["active"])
	assert.Equal(t, HistogramSnapshot{Count: 3, Sum: 42, Min: 2, Max: 30}, s.Histograms["size"])
}

func TestSeriesKeyIsOrderIndependent(t *testing.T) {
	a := seriesKey("m", []Label{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}})
	b := seriesKey("m", []Label{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}})
	assert.Equal(t, `m{a="1",b="2"}`, a)
	assert.Equal(t, a, b)
	assert.Equal(t, "m", seriesKey("m", nil))
}

func TestSnapshotProviderConcurrent(t *testing.T) {
	p := NewSnapshotProvider("")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Counter("hits").Add(ctx, 1)
				p.Histogram("lat").Record(ctx, 1)
			}
		}()
	}
	wg.Wait()

	s := p.Snapshot()
	assert.Equal(t, "unknown", s.ServiceName)
	assert.Equal(t, int64(5000), s.Counters["hits"])
	assert.Equal(t, uint64(5000), s.Histograms["lat"].Count)
}

func TestSnapshotProviderServeHTTP(t *testing.T) {
	p := NewSnapshotProvider("gateway")
	p.Counter("hits").Add(context.Background(), 7)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/metrics", nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var s MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, int64(7), s.Counters["hits"])
}

func TestSnapshotProviderReport(t *testing.T) {
	p := NewSnapshotProvider("gateway")
	p.Counter("hits").Add(context.Background(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan MetricsSnapshot, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Report(ctx, 10*time.Millisecond, func(s MetricsSnapshot) { reports <- s })
	}()

	select {
	case s := <-reports:
		assert.Equal(t, int64(1), s.Counters["hits"])
	case <-time.After(time.Second):
		t.Fatal("no periodic report")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report did not return after cancel")
	}
	assert.NotEmpty(t, reports)
}

func TestMultiMetrics(t *testing.T) {
	ctx := context.Background()
	a := NewSnapshotProvider("a")
	b := NewSnapshotProvider("b")
	m := MultiMetrics(a, nil, b)

	m.Counter("c").Add(ctx, 2)
	m.Gauge("g").Set(ctx, 1.5)
	m.Histogram("h").Record(ctx, 3)

	for _, p := range []*SnapshotProvider{a, b} {
		s := p.Snapshot()
		assert.Equal(t, int64(2), s.Counters["c"])
		assert.Equal(t, 1.5, s.Gauges["g"])
		assert.Equal(t, uint64(1), s.Histograms["h"].Count)
	}
}
