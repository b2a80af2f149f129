package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/protocol"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/session"
	"go.uber.org/zap"
)

// connection runs the control protocol for one session. All reads and all
// data writes happen on the goroutine running run; only close may be called
// from elsewhere.
type connection struct {
	conn      *websocket.Conn
	session   *session.Session
	logger    *zap.Logger
	config    *ListenerConfig
	metrics   *GatewayMetrics
	closing   atomic.Bool
	closeOnce sync.Once
}

func newConnection(conn *websocket.Conn, sess *session.Session, l *Listener) *connection {
	return &connection{
		conn:    conn,
		session: sess,
		logger:  l.logger.With(zap.String("session_id", sess.ID)),
		config:  l.config,
		metrics: l.metrics,
	}
}

// run sends Hello and then reads frames until the session ends.
func (c *connection) run(ctx context.Context) {
	defer c.conn.CloseNow()

	hello, err := protocol.EncodeHello(c.config.heartbeatInterval.Milliseconds())
	if err == nil {
		err = c.write(ctx, protocol.OpHello, hello)
	}
	if err != nil {
		c.logger.Warn("Failed to send hello", zap.Error(err))
		return
	}

	readTimeout := c.config.ReadTimeout()
	if readTimeout > 0 {
		watchdog := time.AfterFunc(readTimeout, func() {
			c.logger.Info("Session timed out", zap.Duration("read_timeout", readTimeout))
			c.metrics.RecordSessionTimeout(context.Background())
			c.fail(protocol.ErrSessionTimeout)
		})
		defer watchdog.Stop()

		c.readLoop(ctx, func() { watchdog.Reset(readTimeout) })
		return
	}

	c.readLoop(ctx, func() {})
}

func (c *connection) readLoop(ctx context.Context, onFrame func()) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.readFailed(err)
			return
		}
		onFrame()
		c.metrics.RecordFrameReceived(ctx, len(data))

		if typ != websocket.MessageText {
			c.logger.Debug("Binary frame received")
			c.fail(protocol.ErrDecode)
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("Undecodable frame received", zap.Int("data_length", len(data)))
			c.fail(err)
			return
		}

		if err := c.dispatch(ctx, frame); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *connection) readFailed(err error) {
	if c.closing.Load() {
		return
	}

	if status := websocket.CloseStatus(err); status != -1 {
		c.logger.Debug("Connection closed by client", zap.Int("close_status", int(status)))
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	c.logger.Debug("Failed to read frame", zap.Error(err))
	c.metrics.RecordConnectionError(context.Background(), "read")
}

// write sends one text frame, bounded by the write timeout.
func (c *connection) write(ctx context.Context, op protocol.Opcode, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.config.writeTimeout)
	defer cancel()

	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return err
	}
	c.metrics.RecordFrameSent(ctx, len(data), op.String())
	return nil
}

// fail ends the session because of err. Protocol errors are reported to the
// client with their close code; any other error means the socket is unusable
// and it is dropped without a close frame.
func (c *connection) fail(err error) {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		if c.closing.CompareAndSwap(false, true) {
			c.logger.Warn("Connection failed", zap.Error(err))
			c.metrics.RecordConnectionError(context.Background(), "write")
			c.conn.CloseNow()
		}
		return
	}

	c.logger.Debug("Closing session on protocol error",
		zap.Int("close_code", int(perr.Code)),
		zap.String("reason", perr.Reason),
	)
	c.close(perr.Code, perr.Reason)
}

// close writes a close frame and closes the socket. Only the first call has
// any effect.
func (c *connection) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.metrics.RecordClose(context.Background(), int(code))

		if err := c.conn.Close(code, reason); err != nil {
			c.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
		}
	})
}
