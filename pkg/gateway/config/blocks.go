package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

type fileDefinition struct {
	Server    *serverDefinition    `hcl:"server,block"`
	Bus       *busDefinition       `hcl:"bus,block"`
	Log       *logDefinition       `hcl:"log,block"`
	Telemetry *telemetryDefinition `hcl:"telemetry,block"`
}

type serverDefinition struct {
	Listen            *string        `hcl:"listen,optional"`
	Path              *string        `hcl:"path,optional"`
	DebugPath         *string        `hcl:"debug_path,optional"`
	MetricsPath       *string        `hcl:"metrics_path,optional"`
	HeartbeatInterval hcl.Expression `hcl:"heartbeat_interval,optional"`
	ReadTimeout       hcl.Expression `hcl:"read_timeout,optional"`
	WriteTimeout      hcl.Expression `hcl:"write_timeout,optional"`
	OriginPatterns    []string       `hcl:"origin_patterns,optional"`
}

type busDefinition struct {
	BrokerURL       *string        `hcl:"broker_url,optional"`
	ConnectTimeout  hcl.Expression `hcl:"connect_timeout,optional"`
	ConnectAttempts *uint          `hcl:"connect_attempts,optional"`
	LocalCapacity   *int           `hcl:"local_capacity,optional"`
}

type logDefinition struct {
	Level       *string `hcl:"level,optional"`
	Development *bool   `hcl:"development,optional"`
	File        *string `hcl:"file,optional"`
	MaxSizeMB   *int    `hcl:"max_size_mb,optional"`
	MaxBackups  *int    `hcl:"max_backups,optional"`
	MaxAgeDays  *int    `hcl:"max_age_days,optional"`
}

type telemetryDefinition struct {
	ServiceName    *string        `hcl:"service_name,optional"`
	OTLPEndpoint   *string        `hcl:"otlp_endpoint,optional"`
	ReportInterval hcl.Expression `hcl:"report_interval,optional"`
}

// decodeBody applies the attributes set in one file on top of config.
func decodeBody(body hcl.Body, evalCtx *hcl.EvalContext, config *Config) hcl.Diagnostics {
	var def fileDefinition
	diags := gohcl.DecodeBody(body, evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}

	if s := def.Server; s != nil {
		setIfPresent(&config.Server.Listen, s.Listen)
		setIfPresent(&config.Server.Path, s.Path)
		setIfPresent(&config.Server.DebugPath, s.DebugPath)
		setIfPresent(&config.Server.MetricsPath, s.MetricsPath)
		if s.OriginPatterns != nil {
			config.Server.OriginPatterns = s.OriginPatterns
		}
		diags = diags.Extend(setDuration(evalCtx, s.HeartbeatInterval, &config.Server.HeartbeatInterval))
		diags = diags.Extend(setDuration(evalCtx, s.ReadTimeout, &config.Server.ReadTimeout))
		diags = diags.Extend(setDuration(evalCtx, s.WriteTimeout, &config.Server.WriteTimeout))
	}

	if b := def.Bus; b != nil {
		setIfPresent(&config.Bus.BrokerURL, b.BrokerURL)
		setIfPresent(&config.Bus.ConnectAttempts, b.ConnectAttempts)
		setIfPresent(&config.Bus.LocalCapacity, b.LocalCapacity)
		diags = diags.Extend(setDuration(evalCtx, b.ConnectTimeout, &config.Bus.ConnectTimeout))
	}

	if l := def.Log; l != nil {
		setIfPresent(&config.Log.Level, l.Level)
		setIfPresent(&config.Log.Development, l.Development)
		setIfPresent(&config.Log.File, l.File)
		setIfPresent(&config.Log.MaxSizeMB, l.MaxSizeMB)
		setIfPresent(&config.Log.MaxBackups, l.MaxBackups)
		setIfPresent(&config.Log.MaxAgeDays, l.MaxAgeDays)
	}

	if t := def.Telemetry; t != nil {
		setIfPresent(&config.Telemetry.ServiceName, t.ServiceName)
		setIfPresent(&config.Telemetry.OTLPEndpoint, t.OTLPEndpoint)
		diags = diags.Extend(setDuration(evalCtx, t.ReportInterval, &config.Telemetry.ReportInterval))
	}

	return diags
}

func setIfPresent[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
