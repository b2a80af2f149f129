package events

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingHandler logs every event it receives and then hands it to the
// wrapped handler. With a nil wrapped handler it only logs.
type LoggingHandler struct {
	wrapped  Handler
	logger   *zap.Logger
	logLevel zapcore.Level
	name     string
}

// NewLoggingHandler wraps handler so each event is logged at logLevel.
func NewLoggingHandler(wrapped Handler, logger *zap.Logger, logLevel zapcore.Level) *LoggingHandler {
	return NewNamedLoggingHandler(wrapped, logger, logLevel, "LoggingHandler")
}

// NewNamedLoggingHandler is NewLoggingHandler with a name included in every entry.
func NewNamedLoggingHandler(wrapped Handler, logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingHandler{
		wrapped:  wrapped,
		logger:   logger,
		logLevel: logLevel,
		name:     name,
	}
}

func (l *LoggingHandler) OnEvent(ctx context.Context, event Event) error {
	scope, id, _ := event.Route()

	l.logger.Log(l.logLevel, "Event received",
		zap.String("handler", l.name),
		zap.String("event", event.Name),
		zap.String("scope", string(scope)),
		zap.String("topic", id),
		zap.ByteString("data", event.payload()),
	)

	if l.wrapped != nil {
		return l.wrapped.OnEvent(ctx, event)
	}
	return nil
}
