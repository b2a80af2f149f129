// Package client is a minimal gateway client: it connects, waits for Hello
// and then heartbeats at the interval the server asks for.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/protocol"
	"go.uber.org/zap"
)

// Client is a connection to a gateway.
type Client struct {
	// Configuration
	url               string
	logger            *zap.Logger
	dialTimeout       time.Duration
	headers           map[string][]string
	handler           FrameHandler
	heartbeatOverride time.Duration
	writeChannelSize  int

	// Connection state
	conn              *websocket.Conn
	ctx               context.Context
	cancel            context.CancelFunc
	started           atomic.Bool
	heartbeatInterval time.Duration

	acks    atomic.Int64
	lastAck atomic.Int64

	errMu sync.Mutex
	err   error

	writeChannel chan []byte
	done         chan struct{}
}

// Connect dials the gateway and waits for Hello. On success the client
// heartbeats in the background until Disconnect or until the server closes
// the session.
func (c *Client) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("client is already started")
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, c.dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPHeader: c.headers})
	if err != nil {
		c.started.Store(false)
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}

	interval, err := readHello(dialCtx, conn)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "expected hello")
		c.started.Store(false)
		return err
	}
	if c.heartbeatOverride > 0 {
		interval = c.heartbeatOverride
	}

	c.conn = conn
	c.heartbeatInterval = interval
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.writeChannel = make(chan []byte, c.writeChannelSize)
	c.done = make(chan struct{})

	c.logger.Info("Gateway client connected",
		zap.String("url", c.url),
		zap.Duration("heartbeat_interval", interval),
	)

	go c.readLoop()
	go c.writeLoop()

	return nil
}

func readHello(ctx context.Context, conn *websocket.Conn) (time.Duration, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read hello: %w", err)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("failed to decode hello: %w", err)
	}
	if env.Op != protocol.OpHello {
		return 0, fmt.Errorf("expected hello, got op %d", env.Op)
	}

	var hello protocol.HelloPayload
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return 0, fmt.Errorf("failed to decode hello payload: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return 0, fmt.Errorf("invalid heartbeat interval %d", hello.HeartbeatInterval)
	}

	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}

// HeartbeatInterval returns the interval the client heartbeats at.
func (c *Client) HeartbeatInterval() time.Duration {
	return c.heartbeatInterval
}

// Acks returns the number of heartbeat acknowledgements received.
func (c *Client) Acks() int64 {
	return c.acks.Load()
}

// LastAck returns when the last heartbeat acknowledgement arrived.
func (c *Client) LastAck() time.Time {
	ns := c.lastAck.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended. A close sent by the server is
// returned as a websocket.CloseError.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send queues a frame with op and payload d. A nil d sends no "d" field.
func (c *Client) Send(ctx context.Context, op protocol.Opcode, d any) error {
	env := protocol.Envelope{Op: op}
	if d != nil {
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		env.D = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return c.enqueue(ctx, data)
}

// Heartbeat sends a heartbeat immediately.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.enqueue(ctx, protocol.EncodeHeartbeat())
}

func (c *Client) enqueue(ctx context.Context, data []byte) error {
	if !c.started.Load() {
		return fmt.Errorf("client is not connected")
	}

	select {
	case <-c.done:
		return fmt.Errorf("connection closed: %w", c.Err())
	default:
	}

	select {
	case c.writeChannel <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed: %w", c.Err())
	}
}

// Disconnect closes the session normally and waits for the client to stop.
func (c *Client) Disconnect() error {
	if !c.started.Load() {
		return nil
	}

	c.logger.Info("Disconnecting gateway client")
	err := c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	c.cancel()
	<-c.done

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
	}
	return nil
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// readLoop processes incoming frames until the connection ends.
func (c *Client) readLoop() {
	defer close(c.done)
	defer c.cancel()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				c.logger.Info("Gateway closed the session",
					zap.Int("close_code", int(ce.Code)),
					zap.String("reason", ce.Reason),
				)
				c.setErr(ce)
			} else if c.ctx.Err() == nil {
				c.logger.Error("Failed to read from gateway", zap.Error(err))
				c.setErr(err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("Failed to decode gateway frame", zap.Error(err))
			continue
		}

		if env.Op == protocol.OpHeartbeatAck {
			c.acks.Add(1)
			c.lastAck.Store(time.Now().UnixNano())
		}

		if c.handler != nil {
			c.handler(c.ctx, env)
		}
	}
}

// writeLoop serialises outgoing frames and sends heartbeats.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		var data []byte
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			data = protocol.EncodeHeartbeat()
		case data = <-c.writeChannel:
		}

		if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Error("Failed to write to gateway", zap.Error(err))
				c.setErr(err)
				c.conn.CloseNow()
			}
			return
		}
	}
}
