package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// scopeHeader carries the Scope of a published event so subscribers can
	// rebuild the routing field the topic came from.
	scopeHeader = "x-scope"

	// DefaultConnectTimeout bounds a single broker dial attempt.
	DefaultConnectTimeout = 5 * time.Second
)

var errInvalidBrokerURL = errors.New("invalid broker url")

// BrokerBackend is a Backend on top of a RabbitMQ broker.
//
// Every topic maps to a non-durable fanout exchange of the same name. Each
// subscription owns an AMQP channel and an exclusive, auto-delete queue bound
// to the exchange, so cancelling a subscription (or losing the connection)
// discards its queue. Events are ephemeral and never survive a broker restart.
type BrokerBackend struct {
	logger  *zap.Logger
	conn    *amqp.Connection
	metrics *busMetrics

	// pubMu serialises publishing on pubCh, which is in confirm mode.
	pubMu    sync.Mutex
	pubCh    *amqp.Channel
	declared map[string]struct{}

	mu     sync.Mutex
	subs   map[*brokerSubscription]struct{}
	closed bool
}

type brokerSubscription struct {
	*subscription
	backend  *BrokerBackend
	ch       *amqp.Channel
	queue    string
	consumer string
}

// DialBroker connects to the broker at url. A single attempt is made; retry
// policy belongs to the caller. A non-positive timeout selects
// DefaultConnectTimeout.
func DialBroker(url string, timeout time.Duration, logger *zap.Logger) (*BrokerBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	if _, err := amqp.ParseURI(url); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidBrokerURL, err)
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial:       amqp.DefaultDial(timeout),
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": "gateway"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	b := &BrokerBackend{
		logger:   logger,
		conn:     conn,
		declared: make(map[string]struct{}),
		subs:     make(map[*brokerSubscription]struct{}),
	}

	go b.watchConnection()

	return b, nil
}

func (b *BrokerBackend) Name() string {
	return "broker"
}

func (b *BrokerBackend) watchConnection() {
	closeErr, ok := <-b.conn.NotifyClose(make(chan *amqp.Error, 1))
	if ok && closeErr != nil {
		b.logger.Error("Broker connection lost", zap.Error(closeErr))
	}
}

// publishChannel returns the confirm-mode publishing channel, reopening it if
// a previous error closed it. Must be called with pubMu held.
func (b *BrokerBackend) publishChannel() (*amqp.Channel, error) {
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	b.pubCh = ch
	b.declared = make(map[string]struct{})
	return ch, nil
}

func declareExchange(ch *amqp.Channel, topic string) error {
	return ch.ExchangeDeclare(
		topic,
		amqp.ExchangeFanout,
		false, // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
}

// Publish sends event to the exchange for topic and waits for the broker to
// confirm it. Any failure is returned as a *PublishError.
func (b *BrokerBackend) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	msg, err := encodePublishing(event)
	if err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	ch, err := b.publishChannel()
	if err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	if _, ok := b.declared[topic]; !ok {
		if err := declareExchange(ch, topic); err != nil {
			return &PublishError{Topic: topic, Err: fmt.Errorf("declare exchange: %w", err)}
		}
		b.declared[topic] = struct{}{}
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, topic, "", false, false, msg)
	if err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	if !acked {
		return &PublishError{Topic: topic, Err: errors.New("broker rejected message")}
	}

	return nil
}

func encodePublishing(event Event) (amqp.Publishing, error) {
	scope, _, err := event.Route()
	if err != nil {
		return amqp.Publishing{}, err
	}

	body := event.payload()
	if !json.Valid(body) {
		return amqp.Publishing{}, fmt.Errorf("event %s payload is not valid JSON", event.Name)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		Type:         event.Name,
		Headers:      amqp.Table{scopeHeader: string(scope)},
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Transient,
		Body:         body,
	}, nil
}

// decodeDelivery rebuilds the event carried by d for a subscription to topic.
// A body that is not JSON is delivered as null.
func decodeDelivery(topic string, d amqp.Delivery) Event {
	data := json.RawMessage("null")
	if len(d.Body) > 0 && json.Valid(d.Body) {
		data = append(json.RawMessage(nil), d.Body...)
	}

	scope := ScopeGuild
	if v, ok := d.Headers[scopeHeader].(string); ok {
		switch Scope(v) {
		case ScopeGuild, ScopeChannel, ScopeUser:
			scope = Scope(v)
		}
	}

	return Event{Name: d.Type, Data: data}.WithScope(scope, topic)
}

// Subscribe binds a fresh exclusive queue to the exchange for topic and
// consumes it in a dedicated goroutine. Messages are acknowledged after the
// handler returns.
func (b *BrokerBackend) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBusClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// At most one unacknowledged message per subscription.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	if err := declareExchange(ch, topic); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	queue, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, "", topic, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	consumer := "gateway-" + uuid.NewString()
	deliveries, err := ch.Consume(
		queue.Name,
		consumer,
		false, // autoAck
		true,  // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	s := &brokerSubscription{
		subscription: newSubscription(ctx, topic, handler, b.logger, b.metrics),
		backend:      b,
		ch:           ch,
		queue:        queue.Name,
		consumer:     consumer,
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	b.logger.Debug("Broker subscription started",
		zap.String("topic", topic),
		zap.String("queue", queue.Name),
	)

	go s.run(deliveries)

	return s, nil
}

func (s *brokerSubscription) run(deliveries <-chan amqp.Delivery) {
	defer close(s.done)
	defer s.teardown()

	for {
		select {
		case <-s.stop:
			return
		case d, ok := <-deliveries:
			if !ok {
				if !s.stopped() {
					s.logger.Error("Broker closed subscription", zap.String("topic", s.topic))
					s.Unsubscribe()
				}
				return
			}

			if !s.deliver(decodeDelivery(s.topic, d)) {
				return
			}

			if err := d.Ack(false); err != nil {
				s.logger.Warn("Failed to acknowledge delivery",
					zap.String("topic", s.topic),
					zap.Error(err),
				)
			}
		}
	}
}

// teardown cancels the consumer and closes the subscription's channel, which
// deletes its exclusive queue.
func (s *brokerSubscription) teardown() {
	if err := s.ch.Cancel(s.consumer, false); err != nil {
		s.logger.Debug("Consumer cancel failed (may be expected)", zap.Error(err))
	}
	if err := s.ch.Close(); err != nil {
		s.logger.Debug("Channel close failed (may be expected)", zap.Error(err))
	}

	s.backend.mu.Lock()
	delete(s.backend.subs, s)
	s.backend.mu.Unlock()

	s.logger.Debug("Broker subscription stopped", zap.String("topic", s.topic))
}

// Close cancels every subscription and closes the broker connection.
func (b *BrokerBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	subs := make([]*brokerSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}

	b.pubMu.Lock()
	if b.pubCh != nil {
		b.pubCh.Close()
	}
	b.pubMu.Unlock()

	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close broker connection: %w", err)
	}
	return nil
}
