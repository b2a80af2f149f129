package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/o11y"
	"go.uber.org/zap"
)

// Bus decouples event producers from consumers grouped by topic. The zero
// value is not usable; construct one with NewBus().Build().
type Bus struct {
	logger          *zap.Logger
	brokerURL       string
	connectTimeout  time.Duration
	connectAttempts uint
	localCapacity   int
	injected        Backend

	metrics         *busMetrics
	tracingProvider o11y.TracingProvider

	initMu  sync.Mutex
	backend atomic.Pointer[pinnedBackend]
	closed  atomic.Bool
	active  atomic.Int64
}

type pinnedBackend struct {
	Backend
}

// Initialize selects the backend. It is idempotent and safe for concurrent
// callers; callers arriving while another Initialize runs wait for it.
//
// With a broker URL the broker is dialled with a bounded number of attempts;
// if none succeeds the bus falls back to the local backend. Either way the
// choice is final for the life of the bus. Initialize only fails when ctx is
// done before a backend could be chosen, in which case it may be called again.
func (b *Bus) Initialize(ctx context.Context) error {
	if b.backend.Load() != nil {
		return nil
	}

	b.initMu.Lock()
	defer b.initMu.Unlock()

	if b.backend.Load() != nil {
		return nil
	}
	if b.closed.Load() {
		return ErrBusClosed
	}

	backend, err := b.selectBackend(ctx)
	if err != nil {
		return err
	}

	b.backend.Store(&pinnedBackend{backend})
	b.logger.Info("Event bus initialized", zap.String("backend", backend.Name()))
	return nil
}

func (b *Bus) selectBackend(ctx context.Context) (Backend, error) {
	if b.injected != nil {
		return b.injected, nil
	}

	if b.brokerURL != "" {
		broker, err := b.dialBroker(ctx)
		if err == nil {
			broker.metrics = b.metrics
			return broker, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		b.logger.Warn("Broker unavailable, falling back to local event bus", zap.Error(err))
	}

	local := NewLocalBackend(b.logger, b.localCapacity)
	local.metrics = b.metrics
	return local, nil
}

func (b *Bus) dialBroker(ctx context.Context) (*BrokerBackend, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (*BrokerBackend, error) {
		broker, err := DialBroker(b.brokerURL, b.connectTimeout, b.logger)
		if err != nil && errors.Is(err, errInvalidBrokerURL) {
			return nil, backoff.Permanent(err)
		}
		return broker, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(b.connectAttempts),
		backoff.WithMaxElapsedTime(time.Duration(b.connectAttempts)*(b.connectTimeout+policy.MaxInterval)),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.logger.Warn("Broker connection attempt failed",
				zap.Error(err),
				zap.Duration("retry_in", next),
			)
		}),
	)
}

// Backend returns the name of the pinned backend, or "" before Initialize.
func (b *Bus) Backend() string {
	if p := b.backend.Load(); p != nil {
		return p.Name()
	}
	return ""
}

func (b *Bus) pinned() (Backend, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	p := b.backend.Load()
	if p == nil {
		b.logger.Error("Event bus used before Initialize")
		return nil, ErrBusUninitialized
	}
	return p.Backend, nil
}

func (b *Bus) startSpan(ctx context.Context, name, topic string) (context.Context, o11y.Span) {
	if b.tracingProvider == nil {
		return ctx, nil
	}
	ctx, span := b.tracingProvider.StartSpan(ctx, name)
	span.SetAttributes(o11y.Label{Key: "topic", Value: topic})
	return ctx, span
}

// Publish routes event to every subscriber of its topic.
//
// An event without a guild, channel or user id fails with ErrMissingRoutingKey
// and has no effect. On the local backend Publish never blocks and succeeds
// even with no subscribers. On the broker backend it waits for the broker's
// confirmation and reports failures as *PublishError, without retrying.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if ctx == nil {
		ctx = context.Background()
	}

	topic, err := event.Topic()
	if err != nil {
		return err
	}

	backend, err := b.pinned()
	if err != nil {
		return err
	}

	ctx, span := b.startSpan(ctx, "eventbus.publish", topic)
	start := time.Now()

	err = backend.Publish(ctx, topic, event)

	b.metrics.recordPublish(ctx, backend.Name(), topic, start, err)
	o11y.EndSpan(span, err)

	return err
}

// Subscribe registers handler for events published to topic. Events published
// before Subscribe returns may not be delivered.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if topic == "" {
		return nil, ErrMissingRoutingKey
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe to %q: handler is required", topic)
	}

	backend, err := b.pinned()
	if err != nil {
		return nil, err
	}

	ctx, span := b.startSpan(ctx, "eventbus.subscribe", topic)

	sub, err := backend.Subscribe(ctx, topic, handler)

	b.metrics.recordSubscribe(ctx, topic, err)
	o11y.EndSpan(span, err)

	if err != nil {
		return nil, err
	}

	b.metrics.setActiveSubscriptions(ctx, b.active.Add(1))
	return &trackedSubscription{Subscription: sub, bus: b}, nil
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Bus) SubscribeFunc(ctx context.Context, topic string, fn func(ctx context.Context, event Event) error) (Subscription, error) {
	return b.Subscribe(ctx, topic, HandlerFunc(fn))
}

// Close tears the bus down, cancelling every live subscription and releasing
// the backend. It is safe to call more than once.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.initMu.Lock()
	defer b.initMu.Unlock()

	p := b.backend.Load()
	if p == nil {
		return nil
	}

	err := p.Close()
	b.logger.Info("Event bus closed", zap.String("backend", p.Name()))
	return err
}

// trackedSubscription keeps the bus's active subscription count.
type trackedSubscription struct {
	Subscription
	bus  *Bus
	once sync.Once
}

func (t *trackedSubscription) Unsubscribe() {
	t.Subscription.Unsubscribe()
	t.once.Do(func() {
		ctx := context.Background()
		t.bus.metrics.recordUnsubscribe(ctx, t.Topic())
		t.bus.metrics.setActiveSubscriptions(ctx, t.bus.active.Add(-1))
	})
}
