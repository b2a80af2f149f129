package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// subscription is the delivery state shared by both backends. Every handler
// invocation passes through deliver, which refuses to start once the
// subscription has been cancelled.
type subscription struct {
	topic   string
	handler Handler
	logger  *zap.Logger
	metrics *busMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	// onStop runs once, synchronously, from Unsubscribe.
	onStop func()
}

func newSubscription(ctx context.Context, topic string, handler Handler, logger *zap.Logger, metrics *busMetrics) *subscription {
	// Handlers keep the subscriber's context values but not its deadline.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &subscription{
		topic:   topic,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		ctx:     subCtx,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *subscription) Topic() string {
	return s.topic
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()

		close(s.stop)
		s.cancel()

		if s.onStop != nil {
			s.onStop()
		}
	})
}

// stopped reports whether Unsubscribe has been called.
func (s *subscription) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// deliver invokes the handler for event unless the subscription was cancelled
// first. It reports whether the handler ran.
func (s *subscription) deliver(event Event) (ran bool) {
	if s.stopped() {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Event handler panicked",
				zap.String("topic", s.topic),
				zap.String("event", event.Name),
				zap.Any("panic", r),
			)
			s.metrics.recordError(s.ctx, "on_event", s.topic)
			ran = true
		}
	}()

	if err := s.handler.OnEvent(s.ctx, event); err != nil {
		s.logger.Error("Error in OnEvent",
			zap.String("topic", s.topic),
			zap.String("event", event.Name),
			zap.Error(err),
		)
		s.metrics.recordError(s.ctx, "on_event", s.topic)
	}
	return true
}
