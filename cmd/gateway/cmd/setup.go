package cmd

import (
	"context"
	"fmt"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/config"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/events"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/logging"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/o11y"
	"go.uber.org/zap"
)

func loadConfig(paths []string) (*config.Config, error) {
	cfg, err := config.NewConfig().
		WithSources(stringSliceToAnySlice(paths)...).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// resolveLogLevel applies the command-line flags on top of the configured level.
func resolveLogLevel(configured string) string {
	level := configured
	if logLevel != "" {
		level = logLevel
	}

	if debug {
		level = "debug"
	} else if verbose && (level == "" || level == "info") {
		level = "debug"
	}
	return level
}

func setupLogger(cfg config.LogConfig) (*zap.Logger, func(), error) {
	logger, cleanup, err := logging.New(logging.Options{
		Level:       resolveLogLevel(cfg.Level),
		Development: cfg.Development || debug,
		File:        cfg.File,
		MaxSizeMB:   cfg.MaxSizeMB,
		MaxBackups:  cfg.MaxBackups,
		MaxAgeDays:  cfg.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return logger, cleanup, nil
}

// setupBus builds the event bus from cfg and pins its backend.
func setupBus(ctx context.Context, cfg config.BusConfig, logger *zap.Logger, metrics o11y.MetricsProvider, tracing o11y.TracingProvider) (*events.Bus, error) {
	builder := events.NewBus().
		WithLogger(logger).
		WithBrokerURL(cfg.BrokerURL).
		WithConnectTimeout(cfg.ConnectTimeout).
		WithConnectAttempts(cfg.ConnectAttempts).
		WithLocalCapacity(cfg.LocalCapacity)
	if metrics != nil {
		builder = builder.WithMetrics(metrics)
	}
	if tracing != nil {
		builder = builder.WithTracing(tracing)
	}

	bus, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build event bus: %w", err)
	}

	if err := bus.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	return bus, nil
}

// Helper to convert []string to []any
func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}

// defaultLogConfig is used by commands that do not load a configuration.
func defaultLogConfig() config.LogConfig {
	return config.Default().Log
}
