package events

import (
	"fmt"
	"time"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/o11y"
	"go.uber.org/zap"
)

// DefaultConnectAttempts is how many times Initialize dials the broker before
// falling back to the local backend.
const DefaultConnectAttempts = 3

// BusBuilder provides a fluent interface for creating Bus instances
type BusBuilder struct {
	logger          *zap.Logger
	brokerURL       string
	connectTimeout  time.Duration
	connectAttempts uint
	localCapacity   int
	backend         Backend
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider
}

// NewBus creates a new BusBuilder
func NewBus() *BusBuilder {
	return &BusBuilder{
		connectTimeout:  DefaultConnectTimeout,
		connectAttempts: DefaultConnectAttempts,
		localCapacity:   DefaultLocalCapacity,
	}
}

// WithLogger sets the logger for the Bus
func (b *BusBuilder) WithLogger(logger *zap.Logger) *BusBuilder {
	b.logger = logger
	return b
}

// WithBrokerURL sets the AMQP URL of the broker. An empty URL selects the
// local backend.
func (b *BusBuilder) WithBrokerURL(url string) *BusBuilder {
	b.brokerURL = url
	return b
}

// WithConnectTimeout bounds each broker dial attempt. Non-positive values are ignored.
func (b *BusBuilder) WithConnectTimeout(timeout time.Duration) *BusBuilder {
	if timeout > 0 {
		b.connectTimeout = timeout
	}
	return b
}

// WithConnectAttempts sets how many broker dial attempts Initialize makes.
func (b *BusBuilder) WithConnectAttempts(attempts uint) *BusBuilder {
	b.connectAttempts = attempts
	return b
}

// WithLocalCapacity sets the per-subscription buffer of the local backend.
func (b *BusBuilder) WithLocalCapacity(capacity int) *BusBuilder {
	b.localCapacity = capacity
	return b
}

// WithBackend pins the bus to backend instead of choosing one at Initialize.
func (b *BusBuilder) WithBackend(backend Backend) *BusBuilder {
	b.backend = backend
	return b
}

// WithMetrics sets the metrics provider for the Bus
func (b *BusBuilder) WithMetrics(provider o11y.MetricsProvider) *BusBuilder {
	b.metricsProvider = provider
	return b
}

// WithTracing sets the tracing provider for the Bus
func (b *BusBuilder) WithTracing(provider o11y.TracingProvider) *BusBuilder {
	b.tracingProvider = provider
	return b
}

// IsValid validates the builder configuration and returns an error if invalid
func (b *BusBuilder) IsValid() error {
	if b.localCapacity <= 0 {
		return fmt.Errorf("local capacity must be positive, got %d", b.localCapacity)
	}
	if b.brokerURL != "" && b.connectAttempts == 0 {
		return fmt.Errorf("connect attempts must be at least 1 when a broker url is set")
	}
	if b.brokerURL != "" && b.backend != nil {
		return fmt.Errorf("broker url and explicit backend are mutually exclusive")
	}
	return nil
}

// Build creates the Bus. The bus must be initialized before use.
func (b *BusBuilder) Build() (*Bus, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bus{
		logger:          logger.Named("eventbus"),
		brokerURL:       b.brokerURL,
		connectTimeout:  b.connectTimeout,
		connectAttempts: b.connectAttempts,
		localCapacity:   b.localCapacity,
		injected:        b.backend,
		metrics:         newBusMetrics(b.metricsProvider),
		tracingProvider: b.tracingProvider,
	}, nil
}
