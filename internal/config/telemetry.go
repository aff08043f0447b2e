package config

import (
	"os"
	"strings"
)

// TelemetryConfig carries the logging and OpenTelemetry settings of the
// storefront process. Deployment tooling sets the OTEL_* variables, so
// they win over the storefront's own OTLP_* names.
type TelemetryConfig struct {
	DeploymentEnv  string
	ServiceVersion string

	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
}

func loadTelemetry(cfg Config) TelemetryConfig {
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", cfg.OTLPProtocol)
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	ratio := getenvFloat("OTEL_SAMPLING_RATIO", 0.1)
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return TelemetryConfig{
		DeploymentEnv:     strings.TrimSpace(getenv("DEPLOYMENT_ENV", cfg.Environment)),
		ServiceVersion:    strings.TrimSpace(getenv("SERVICE_VERSION", cfg.AppVersion)),
		LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:       getenvBool("OTEL_ENABLED", true),
		OtelEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)),
		OtelProtocol:      strings.ToLower(strings.TrimSpace(protocol)),
		OtelSamplingRatio: ratio,
	}
}

// DebugLogging reports whether verbose logs are wanted, either by level or
// because the process runs outside a shared environment.
func (t TelemetryConfig) DebugLogging() bool {
	return t.LogLevel == "debug" || IsLocalEnvironment(t.DeploymentEnv)
}

// IsLocalEnvironment reports whether env names a developer or test setup.
func IsLocalEnvironment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
