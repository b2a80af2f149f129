package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/protocol"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/session"
	"go.uber.org/zap"
)

// FrameHandler receives every frame the gateway sends after Hello.
type FrameHandler func(ctx context.Context, env protocol.Envelope)

// ClientBuilder provides a fluent interface for building gateway clients.
type ClientBuilder struct {
	url               string
	logger            *zap.Logger
	dialTimeout       time.Duration
	shard             *session.Shard
	headers           map[string][]string
	handler           FrameHandler
	heartbeatInterval time.Duration
	writeChannelSize  int
}

// NewClient creates a new gateway client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		dialTimeout:      30 * time.Second,
		logger:           zap.NewNop(),
		writeChannelSize: 16,
	}
}

// WithURL sets the gateway URL to connect to, e.g. "ws://localhost:3001/ws".
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the client.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout bounds the handshake and the wait for Hello.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithShard announces the shard this client belongs to.
func (b *ClientBuilder) WithShard(id, count uint16) *ClientBuilder {
	b.shard = &session.Shard{ID: id, Count: count}
	return b
}

// WithHeader sets a single HTTP header for the WebSocket handshake.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// WithFrameHandler sets the function called for each frame received after Hello.
func (b *ClientBuilder) WithFrameHandler(handler FrameHandler) *ClientBuilder {
	b.handler = handler
	return b
}

// WithHeartbeatInterval overrides the interval advertised by the server.
// Zero keeps the advertised interval.
func (b *ClientBuilder) WithHeartbeatInterval(interval time.Duration) *ClientBuilder {
	if interval >= 0 {
		b.heartbeatInterval = interval
	}
	return b
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(b.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return nil
}

// Build creates and returns a new gateway client with the configured options.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	target, _ := url.Parse(b.url)
	if b.shard != nil {
		q := target.Query()
		q.Set("shard", b.shard.String())
		target.RawQuery = q.Encode()
	}

	return &Client{
		url:               target.String(),
		logger:            b.logger,
		dialTimeout:       b.dialTimeout,
		headers:           b.headers,
		handler:           b.handler,
		heartbeatOverride: b.heartbeatInterval,
		writeChannelSize:  b.writeChannelSize,
	}, nil
}
