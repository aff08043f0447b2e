package observability

import (
	"strings"

	"github.com/smallbiznis/storefront/internal/config"
)

// Config is the storefront's telemetry section resolved against its
// service identity.
type Config struct {
	ServiceName string
	config.TelemetryConfig
}

// LoadConfig resolves the telemetry settings the observability providers
// consume.
func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "storefront"
	}
	return Config{ServiceName: name, TelemetryConfig: cfg.Telemetry}
}
