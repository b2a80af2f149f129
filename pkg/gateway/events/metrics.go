package events

import (
	"context"
	"time"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/o11y"
)

// busMetrics holds the instruments recorded by the bus and its backends.
// A nil *busMetrics records nothing.
type busMetrics struct {
	publishCounter     o11y.Counter
	subscribeCounter   o11y.Counter
	unsubscribeCounter o11y.Counter
	errorCounter       o11y.Counter
	dropCounter        o11y.Counter
	latencyHistogram   o11y.Histogram
	subscriptionGauge  o11y.Gauge
}

func newBusMetrics(provider o11y.MetricsProvider) *busMetrics {
	if provider == nil {
		return nil
	}

	return &busMetrics{
		publishCounter:     provider.Counter("eventbus_messages_published_total"),
		subscribeCounter:   provider.Counter("eventbus_subscriptions_total"),
		unsubscribeCounter: provider.Counter("eventbus_unsubscriptions_total"),
		errorCounter:       provider.Counter("eventbus_errors_total"),
		dropCounter:        provider.Counter("eventbus_dropped_total"),
		latencyHistogram:   provider.Histogram("eventbus_publish_duration_seconds"),
		subscriptionGauge:  provider.Gauge("eventbus_active_subscriptions"),
	}
}

func (m *busMetrics) recordPublish(ctx context.Context, backend, topic string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.publishCounter.Add(ctx, 1,
		o11y.Label{Key: "topic", Value: topic},
		o11y.Label{Key: "backend", Value: backend},
		o11y.StatusLabel(err),
	)
	m.latencyHistogram.Record(ctx, time.Since(start).Seconds(), o11y.Label{Key: "backend", Value: backend})
	if err != nil {
		m.recordError(ctx, "publish", topic)
	}
}

func (m *busMetrics) recordSubscribe(ctx context.Context, topic string, err error) {
	if m == nil {
		return
	}
	m.subscribeCounter.Add(ctx, 1, o11y.Label{Key: "topic", Value: topic}, o11y.StatusLabel(err))
	if err != nil {
		m.recordError(ctx, "subscribe", topic)
	}
}

func (m *busMetrics) recordUnsubscribe(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.unsubscribeCounter.Add(ctx, 1, o11y.Label{Key: "topic", Value: topic})
}

func (m *busMetrics) recordError(ctx context.Context, operation, topic string) {
	if m == nil {
		return
	}
	m.errorCounter.Add(ctx, 1,
		o11y.Label{Key: "operation", Value: operation},
		o11y.Label{Key: "topic", Value: topic},
	)
}

func (m *busMetrics) recordDrop(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.dropCounter.Add(ctx, 1, o11y.Label{Key: "topic", Value: topic})
}

func (m *busMetrics) setActiveSubscriptions(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.subscriptionGauge.Set(ctx, float64(count))
}
