package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/session"
	"go.uber.org/zap"
)

// Listener accepts gateway WebSocket connections, records them in the
// session registry and runs the control protocol on each one.
type Listener struct {
	logger   *zap.Logger
	config   *ListenerConfig
	registry *session.Registry
	metrics  *GatewayMetrics

	// Connection tracking for graceful shutdown
	connections  map[*connection]struct{}
	connMutex    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// newListener creates a Listener from a validated configuration.
// Use NewListenerConfig().Build() instead.
func newListener(config *ListenerConfig) *Listener {
	registry := config.registry
	if registry == nil {
		registry = session.NewRegistry()
	}

	return &Listener{
		logger:      config.logger,
		config:      config,
		registry:    registry,
		metrics:     NewGatewayMetrics(config.metricsProvider),
		connections: make(map[*connection]struct{}),
		shutdown:    make(chan struct{}),
	}
}

// Registry returns the registry of live sessions.
func (l *Listener) Registry() *session.Registry {
	return l.registry
}

// ServeWebsocket upgrades the request and runs the session until it closes.
// The optional "shard" query value has the form "<id>,<count>".
//
//	http.HandleFunc("/ws", listener.ServeWebsocket)
func (l *Listener) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  l.config.originPatterns,
	})
	if err != nil {
		l.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
		l.metrics.RecordConnectionError(r.Context(), "accept")
		return
	}

	select {
	case <-l.shutdown:
		l.logger.Debug("Rejecting new connection due to shutdown", zap.String("remote_addr", r.RemoteAddr))
		conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	default:
	}

	conn.SetReadLimit(l.config.readLimit)

	sess := session.New(r.RemoteAddr, session.ParseShard(r.URL.Query().Get("shard")))
	c := newConnection(conn, sess, l)

	l.connMutex.Lock()
	l.connections[c] = struct{}{}
	l.connMutex.Unlock()

	count := l.registry.Insert(sess)

	fields := []zap.Field{
		zap.String("session_id", sess.ID),
		zap.String("remote_addr", sess.RemoteAddr),
		zap.Int("active_connections", count),
	}
	if sess.Shard != nil {
		fields = append(fields, zap.Stringer("shard", sess.Shard))
	}
	l.logger.Info("New connection", fields...)

	l.metrics.RecordConnectionStart(r.Context())
	l.metrics.RecordConnectionActive(r.Context(), count)

	defer l.release(c)

	c.run(r.Context())
}

// release removes a finished connection from the registry and from shutdown
// tracking.
func (l *Listener) release(c *connection) {
	count, _ := l.registry.Remove(c.session.ID)

	l.connMutex.Lock()
	delete(l.connections, c)
	l.connMutex.Unlock()

	l.logger.Info("Connection closed",
		zap.String("session_id", c.session.ID),
		zap.String("remote_addr", c.session.RemoteAddr),
		zap.Int("active_connections", count),
	)

	ctx := context.Background()
	l.metrics.RecordConnectionActive(ctx, count)
	l.metrics.RecordConnectionEnd(ctx, time.Since(c.session.ConnectedAt))
}

// Shutdown stops accepting sessions and closes the live ones.
//
// The shutdown process:
//  1. Stop accepting new connections (closes them with StatusServiceRestart)
//  2. Close all active connections with StatusGoingAway
//  3. Wait for all connections to finish cleanup
//
// This method blocks until all connections are closed or the context is cancelled.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.logger.Info("Starting graceful gateway shutdown")

		close(l.shutdown)

		l.connMutex.RLock()
		connections := make([]*connection, 0, len(l.connections))
		for c := range l.connections {
			connections = append(connections, c)
		}
		l.connMutex.RUnlock()

		if len(connections) == 0 {
			l.logger.Info("No active connections to close")
			return
		}

		l.logger.Info("Closing active gateway connections",
			zap.Int("connection_count", len(connections)),
		)

		for _, c := range connections {
			go c.close(websocket.StatusGoingAway, "server shutting down")
		}
	})

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if remaining := l.ConnectionCount(); remaining > 0 {
				l.logger.Warn("Shutdown timeout reached with active connections",
					zap.Int("remaining_connections", remaining),
				)
			}
			return ctx.Err()

		case <-ticker.C:
			if l.ConnectionCount() == 0 {
				l.logger.Info("All gateway connections closed successfully")
				return nil
			}
		}
	}
}

// ConnectionCount returns the current number of connections being served.
func (l *Listener) ConnectionCount() int {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return len(l.connections)
}
