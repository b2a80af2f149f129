package server

import (
	"context"
	"strconv"
	"time"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/o11y"
)

// GatewayMetrics holds the instruments recorded by the gateway listener.
// A nil *GatewayMetrics records nothing.
type GatewayMetrics struct {
	activeConnections  o11y.Gauge
	totalConnections   o11y.Counter
	connectionDuration o11y.Histogram
	connectionErrors   o11y.Counter

	framesReceived o11y.Counter
	framesSent     o11y.Counter
	frameSize      o11y.Histogram

	closes          o11y.Counter
	sessionTimeouts o11y.Counter
}

// NewGatewayMetrics creates the gateway instruments from provider.
// If the provider is nil, returns nil.
func NewGatewayMetrics(provider o11y.MetricsProvider) *GatewayMetrics {
	if provider == nil {
		return nil
	}

	return &GatewayMetrics{
		activeConnections:  provider.Gauge("gateway_active_connections"),
		totalConnections:   provider.Counter("gateway_connections_total"),
		connectionDuration: provider.Histogram("gateway_connection_duration_seconds"),
		connectionErrors:   provider.Counter("gateway_connection_errors_total"),

		framesReceived: provider.Counter("gateway_frames_received_total"),
		framesSent:     provider.Counter("gateway_frames_sent_total"),
		frameSize:      provider.Histogram("gateway_frame_size_bytes"),

		closes:          provider.Counter("gateway_closes_total"),
		sessionTimeouts: provider.Counter("gateway_session_timeouts_total"),
	}
}

// RecordConnectionStart records a connection reaching the open state.
func (m *GatewayMetrics) RecordConnectionStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.totalConnections.Add(ctx, 1)
}

// RecordConnectionActive updates the live session count.
func (m *GatewayMetrics) RecordConnectionActive(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(ctx, float64(count))
}

// RecordConnectionEnd records the lifetime of a finished connection.
func (m *GatewayMetrics) RecordConnectionEnd(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordConnectionError records upgrade and transport failures.
func (m *GatewayMetrics) RecordConnectionError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.connectionErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

func (m *GatewayMetrics) RecordFrameReceived(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.framesReceived.Add(ctx, 1)
	m.frameSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "received"})
}

func (m *GatewayMetrics) RecordFrameSent(ctx context.Context, sizeBytes int, op string) {
	if m == nil {
		return
	}
	m.framesSent.Add(ctx, 1, o11y.Label{Key: "op", Value: op})
	m.frameSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "sent"})
}

// RecordClose records a server-initiated close and its code.
func (m *GatewayMetrics) RecordClose(ctx context.Context, code int) {
	if m == nil {
		return
	}
	m.closes.Add(ctx, 1, o11y.Label{Key: "code", Value: strconv.Itoa(code)})
}

func (m *GatewayMetrics) RecordSessionTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionTimeouts.Add(ctx, 1)
}
