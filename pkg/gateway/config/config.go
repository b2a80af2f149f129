// Package config loads the gateway configuration from HCL files, then applies
// overrides from GATEWAY_* environment variables.
package config

import (
	"time"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/events"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/server"
)

type Config struct {
	Server    ServerConfig
	Bus       BusConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Listen            string        `env:"LISTEN"`
	Path              string        `env:"PATH"`
	DebugPath         string        `env:"DEBUG_PATH"`
	MetricsPath       string        `env:"METRICS_PATH"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`
	// ReadTimeout of zero means twice the heartbeat interval.
	ReadTimeout    time.Duration `env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT"`
	OriginPatterns []string      `env:"ORIGIN_PATTERNS"`
}

type BusConfig struct {
	// BrokerURL selects the broker backend. Empty means the local backend.
	BrokerURL       string        `env:"AMQP_URL"`
	ConnectTimeout  time.Duration `env:"AMQP_CONNECT_TIMEOUT"`
	ConnectAttempts uint          `env:"AMQP_CONNECT_ATTEMPTS"`
	LocalCapacity   int           `env:"LOCAL_CAPACITY"`
}

type LogConfig struct {
	Level       string `env:"LOG_LEVEL"`
	Development bool   `env:"LOG_DEVELOPMENT"`
	// File, when set, receives a copy of the log, rotated by size.
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS"`
}

type TelemetryConfig struct {
	ServiceName string `env:"SERVICE_NAME"`
	// OTLPEndpoint enables trace export, e.g. "http://collector:4318".
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	// ReportInterval logs a metrics snapshot this often. Zero disables it.
	ReportInterval time.Duration `env:"METRICS_REPORT_INTERVAL"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            ":3001",
			Path:              "/ws",
			DebugPath:         "/debug/sessions",
			MetricsPath:       "/debug/metrics",
			HeartbeatInterval: server.DefaultHeartbeatInterval,
			WriteTimeout:      server.DefaultWriteTimeout,
		},
		Bus: BusConfig{
			ConnectTimeout:  events.DefaultConnectTimeout,
			ConnectAttempts: events.DefaultConnectAttempts,
			LocalCapacity:   events.DefaultLocalCapacity,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "gateway",
		},
	}
}

// EffectiveReadTimeout resolves the read timeout default.
func (s ServerConfig) EffectiveReadTimeout() time.Duration {
	if s.ReadTimeout == 0 {
		return 2 * s.HeartbeatInterval
	}
	return s.ReadTimeout
}
