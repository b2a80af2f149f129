package events

import "context"

// Handler receives the events of a subscription. OnEvent is never called
// concurrently for the same subscription. A returned error is logged and
// counted; it does not end the subscription.
type Handler interface {
	OnEvent(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) OnEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription is a live registration of a Handler for one topic.
type Subscription interface {
	// Topic returns the subscribed topic.
	Topic() string

	// Unsubscribe stops delivery. It is idempotent, does not block on an
	// in-flight handler and may be called from inside the handler. Once it
	// returns no further handler invocation starts.
	Unsubscribe()

	// Done is closed when the delivery goroutine has exited.
	Done() <-chan struct{}
}

// Backend is the transport behind a Bus. Implementations receive events whose
// topic has already been derived.
type Backend interface {
	Name() string
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	Close() error
}
