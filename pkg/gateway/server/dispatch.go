package server

import (
	"context"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/protocol"
	"go.uber.org/zap"
)

// dispatch handles one decoded frame. Any error it returns ends the session.
func (c *connection) dispatch(ctx context.Context, frame protocol.Frame) error {
	switch f := frame.(type) {
	case protocol.Heartbeat:
		return c.write(ctx, protocol.OpHeartbeatAck, protocol.EncodeHeartbeatAck())

	case protocol.Identify:
		c.logger.Debug("Identify received", zap.Int("payload_bytes", len(f.Data)))
		return nil

	case protocol.Resume:
		c.logger.Debug("Resume received", zap.Int("payload_bytes", len(f.Data)))
		return nil

	case protocol.Unknown:
		c.logger.Debug("Unknown opcode received", zap.Int("op", f.Opcode))
		return protocol.UnknownOpcode(f.Opcode)

	default:
		return protocol.UnknownOpcode(frame.Op())
	}
}
