package server

import (
	"fmt"
	"time"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/o11y"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/session"
	"go.uber.org/zap"
)

// ListenerConfig holds the configuration for creating a gateway Listener.
// Use NewListenerConfig() to create a new configuration and chain methods
// to set the required parameters before calling Build().
type ListenerConfig struct {
	logger            *zap.Logger
	registry          *session.Registry
	heartbeatInterval time.Duration
	readTimeout       time.Duration
	readTimeoutSet    bool
	writeTimeout      time.Duration
	readLimit         int64
	originPatterns    []string
	metricsProvider   o11y.MetricsProvider
}

const (
	// DefaultHeartbeatInterval is the interval advertised to clients in Hello.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultWriteTimeout bounds each frame written to a client.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadLimit is the largest frame accepted from a client, in bytes.
	DefaultReadLimit = 32768
)

// NewListenerConfig creates a new ListenerConfig for building a gateway Listener.
//
// Example:
//
//	listener, err := server.NewListenerConfig().
//	    WithLogger(logger).
//	    WithHeartbeatInterval(45 * time.Second).
//	    Build()
func NewListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		heartbeatInterval: DefaultHeartbeatInterval,
		writeTimeout:      DefaultWriteTimeout,
		readLimit:         DefaultReadLimit,
	}
}

// WithLogger sets the Logger for the Listener. Required.
func (c *ListenerConfig) WithLogger(logger *zap.Logger) *ListenerConfig {
	c.logger = logger
	return c
}

// WithRegistry sets the registry live sessions are recorded in.
// Default: a new, empty registry.
func (c *ListenerConfig) WithRegistry(registry *session.Registry) *ListenerConfig {
	c.registry = registry
	return c
}

// WithHeartbeatInterval sets the heartbeat interval advertised in Hello.
// Must be positive.
//
// Default: 30 seconds
func (c *ListenerConfig) WithHeartbeatInterval(interval time.Duration) *ListenerConfig {
	if interval > 0 {
		c.heartbeatInterval = interval
	}
	return c
}

// WithReadTimeout sets how long a session may stay silent before it is
// closed with the session timeout code. Zero disables the timeout.
//
// Default: twice the heartbeat interval
func (c *ListenerConfig) WithReadTimeout(timeout time.Duration) *ListenerConfig {
	if timeout >= 0 {
		c.readTimeout = timeout
		c.readTimeoutSet = true
	}
	return c
}

// WithWriteTimeout sets the timeout for writing a frame to a client.
//
// Default: 10 seconds
func (c *ListenerConfig) WithWriteTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.writeTimeout = timeout
	}
	return c
}

// WithReadLimit sets the maximum size of a client frame in bytes.
//
// Default: 32KB
func (c *ListenerConfig) WithReadLimit(limit int64) *ListenerConfig {
	if limit > 0 {
		c.readLimit = limit
	}
	return c
}

// WithOriginPatterns sets the host patterns cross-origin browser clients may
// connect from. Same-origin requests are always accepted.
func (c *ListenerConfig) WithOriginPatterns(patterns ...string) *ListenerConfig {
	c.originPatterns = append([]string(nil), patterns...)
	return c
}

// WithMetrics sets the metrics provider for the Listener.
func (c *ListenerConfig) WithMetrics(provider o11y.MetricsProvider) *ListenerConfig {
	c.metricsProvider = provider
	return c
}

// ReadTimeout returns the effective read timeout.
func (c *ListenerConfig) ReadTimeout() time.Duration {
	if !c.readTimeoutSet {
		return 2 * c.heartbeatInterval
	}
	return c.readTimeout
}

// IsValid checks if the configuration has all required parameters set.
func (c *ListenerConfig) IsValid() error {
	if c.logger == nil {
		return fmt.Errorf("invalid listener configuration, missing: [Logger]")
	}
	if c.heartbeatInterval.Milliseconds() < 1 {
		return fmt.Errorf("heartbeat interval must be at least 1ms, got %s", c.heartbeatInterval)
	}
	return nil
}

// Build creates a new Listener from the configuration.
func (c *ListenerConfig) Build() (*Listener, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newListener(c), nil
}
