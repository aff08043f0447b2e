package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// GatewayConfig holds credentials and transport settings for the invoicing gateway.
type GatewayConfig struct {
	Provider      string        `env:"PROVIDER" envDefault:"xendit"`
	BaseURL       string        `env:"BASE_URL" envDefault:"https://api.xendit.co"`
	SecretKey     string        `env:"SECRET_KEY"`
	CallbackToken string        `env:"CALLBACK_TOKEN"`
	Currency      string        `env:"CURRENCY" envDefault:"IDR"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
	MaxRetries    uint          `env:"MAX_RETRIES" envDefault:"3"`
	RetryInitial  time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	RetryMax      time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"5s"`
	InvoiceExpiry time.Duration `env:"INVOICE_DURATION" envDefault:"24h"`
	SuccessURL    string        `env:"SUCCESS_REDIRECT_URL"`
	FailureURL    string        `env:"FAILURE_REDIRECT_URL"`
}

// Enabled reports whether real gateway calls can be made.
func (c GatewayConfig) Enabled() bool {
	return c.SecretKey != ""
}

// LoadGatewayConfig parses GATEWAY_* environment variables.
func LoadGatewayConfig() (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "GATEWAY_"}); err != nil {
		return GatewayConfig{}, fmt.Errorf("parse gateway config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg, nil
}
