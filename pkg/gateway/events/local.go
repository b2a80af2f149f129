package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultLocalCapacity is the number of events a local subscription may have
// pending before further events are dropped for it.
const DefaultLocalCapacity = 100

// LocalBackend is the in-process Backend used when no broker is available.
//
// Publish never blocks: each subscription owns a bounded buffer and an event
// that does not fit is dropped for that subscription only. A subscription that
// lags keeps receiving whatever arrives after it catches up. Publishes are
// serialised, so every subscriber sees events in the same order.
type LocalBackend struct {
	logger   *zap.Logger
	capacity int
	metrics  *busMetrics

	mu        sync.Mutex
	receivers map[string]map[*localReceiver]struct{}
	closed    bool
	dropped   atomic.Uint64
}

type localReceiver struct {
	*subscription
	ch     chan Event
	lagged atomic.Uint64
}

// NewLocalBackend creates an in-process backend. A non-positive capacity
// selects DefaultLocalCapacity.
func NewLocalBackend(logger *zap.Logger, capacity int) *LocalBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultLocalCapacity
	}

	return &LocalBackend{
		logger:    logger,
		capacity:  capacity,
		receivers: make(map[string]map[*localReceiver]struct{}),
	}
}

func (l *LocalBackend) Name() string {
	return "local"
}

// Publish hands event to every subscription of topic without waiting.
// Publishing to a topic nobody listens to succeeds.
func (l *LocalBackend) Publish(ctx context.Context, topic string, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrBusClosed
	}

	for r := range l.receivers[topic] {
		select {
		case r.ch <- event:
		default:
			r.lagged.Add(1)
			l.dropped.Add(1)
			l.metrics.recordDrop(ctx, topic)
			l.logger.Debug("Local subscriber lagging, event dropped",
				zap.String("topic", topic),
				zap.String("event", event.Name),
			)
		}
	}

	return nil
}

func (l *LocalBackend) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	r := &localReceiver{
		subscription: newSubscription(ctx, topic, handler, l.logger, l.metrics),
		ch:           make(chan Event, l.capacity),
	}
	r.onStop = func() { l.remove(r) }

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		r.cancel()
		return nil, ErrBusClosed
	}
	set, ok := l.receivers[topic]
	if !ok {
		set = make(map[*localReceiver]struct{})
		l.receivers[topic] = set
	}
	set[r] = struct{}{}
	l.mu.Unlock()

	go r.run()

	return r, nil
}

func (r *localReceiver) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		case event := <-r.ch:
			if !r.deliver(event) {
				return
			}
		}
	}
}

// Lagged returns how many events were dropped for this subscription.
func (r *localReceiver) Lagged() uint64 {
	return r.lagged.Load()
}

func (l *LocalBackend) remove(r *localReceiver) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if set, ok := l.receivers[r.topic]; ok {
		delete(set, r)
		if len(set) == 0 {
			delete(l.receivers, r.topic)
		}
	}
}

// Dropped returns the number of events dropped across all subscriptions.
func (l *LocalBackend) Dropped() uint64 {
	return l.dropped.Load()
}

// Close cancels every subscription. Later calls to Publish and Subscribe fail
// with ErrBusClosed.
func (l *LocalBackend) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true

	var all []*localReceiver
	for _, set := range l.receivers {
		for r := range set {
			all = append(all, r)
		}
	}
	l.mu.Unlock()

	for _, r := range all {
		r.Unsubscribe()
	}

	return nil
}
