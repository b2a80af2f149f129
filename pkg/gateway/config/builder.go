package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEWAY_"

type ConfigBuilder struct {
	logger      *zap.Logger
	sources     []any
	environment map[string]string
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		sources: make([]any, 0),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	cb.logger = logger
	return cb
}

// WithSources adds configuration sources: file or directory paths, or raw
// HCL as []byte. Later sources override earlier ones.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

// WithEnvironment replaces the process environment, both for the env object
// visible to HCL and for GATEWAY_* overrides.
func (cb *ConfigBuilder) WithEnvironment(environment map[string]string) *ConfigBuilder {
	cb.environment = environment
	return cb
}

// Build loads the configuration. Diagnostics are returned as an error.
func (cb *ConfigBuilder) Build() (*Config, error) {
	logger := cb.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	environment := cb.environment
	if environment == nil {
		environment = environMap(os.Environ())
	}

	config := Default()

	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	evalCtx := &hcl.EvalContext{
		Functions: GetFunctions(),
		Variables: map[string]cty.Value{
			"env": GetEnvObject(environment),
		},
	}

	for _, body := range bodies {
		diags = diags.Extend(decodeBody(body, evalCtx, config))
	}
	if diags.HasErrors() {
		return nil, diags
	}
	for _, diag := range diags {
		logger.Warn("Configuration warning", zap.String("summary", diag.Summary), zap.String("detail", diag.Detail))
	}

	if err := env.ParseWithOptions(config, env.Options{
		Environment: environment,
		Prefix:      EnvPrefix,
	}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Config built successfully", zap.Int("sources", len(cb.sources)))
	return config, nil
}

// Validate checks values that would make the gateway unusable.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Listen == "" {
		problems = append(problems, "server.listen is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		problems = append(problems, fmt.Sprintf("server.path must start with '/', got %q", c.Server.Path))
	}
	if c.Server.DebugPath != "" && !strings.HasPrefix(c.Server.DebugPath, "/") {
		problems = append(problems, fmt.Sprintf("server.debug_path must start with '/', got %q", c.Server.DebugPath))
	}
	if c.Server.MetricsPath != "" && !strings.HasPrefix(c.Server.MetricsPath, "/") {
		problems = append(problems, fmt.Sprintf("server.metrics_path must start with '/', got %q", c.Server.MetricsPath))
	}
	if c.Server.DebugPath != "" && c.Server.DebugPath == c.Server.Path {
		problems = append(problems, "server.debug_path must differ from server.path")
	}
	if c.Server.MetricsPath != "" && (c.Server.MetricsPath == c.Server.Path || c.Server.MetricsPath == c.Server.DebugPath) {
		problems = append(problems, "server.metrics_path must differ from server.path and server.debug_path")
	}
	if c.Server.HeartbeatInterval.Milliseconds() < 1 {
		problems = append(problems, "server.heartbeat_interval must be at least 1ms")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		problems = append(problems, "server timeouts must not be negative")
	}
	if c.Bus.BrokerURL != "" && c.Bus.ConnectAttempts == 0 {
		problems = append(problems, "bus.connect_attempts must be at least 1")
	}
	if c.Telemetry.ReportInterval < 0 {
		problems = append(problems, "telemetry.report_interval must not be negative")
	}
	if c.Bus.LocalCapacity <= 0 {
		problems = append(problems, "bus.local_capacity must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok {
			m[key] = value
		}
	}
	return m
}
