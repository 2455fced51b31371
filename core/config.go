package core

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultSignatureHeader = "x-request-network-signature"
	DefaultDeliveryHeader  = "x-request-network-delivery"
	DefaultContextKey      = "webhookEvent"
	DefaultMaxBodyBytes    = 1 << 20
)

type WebhookConfig struct {
	SignatureHeader string `koanf:"signature_header" mapstructure:"signature_header"`
	TimestampHeader string `koanf:"timestamp_header" mapstructure:"timestamp_header"`
	DeliveryHeader  string `koanf:"delivery_header" mapstructure:"delivery_header"`
	ToleranceMS     int64  `koanf:"tolerance_ms" mapstructure:"tolerance_ms"`
	MaxBodyBytes    int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	ContextKey      string `koanf:"context_key" mapstructure:"context_key"`
}

type RetryConfig struct {
	MaxAttempts      int      `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialDelayMS   int64    `koanf:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	MaxDelayMS       int64    `koanf:"max_delay_ms" mapstructure:"max_delay_ms"`
	BackoffFactor    float64  `koanf:"backoff_factor" mapstructure:"backoff_factor"`
	Jitter           string   `koanf:"jitter" mapstructure:"jitter"`
	RetryStatusCodes []int    `koanf:"retry_status_codes" mapstructure:"retry_status_codes"`
	AllowedMethods   []string `koanf:"allowed_methods" mapstructure:"allowed_methods"`
}

type LedgerConfig struct {
	Driver       string `koanf:"driver" mapstructure:"driver"`
	DSN          string `koanf:"dsn" mapstructure:"dsn"`
	ClaimLeaseMS int64  `koanf:"claim_lease_ms" mapstructure:"claim_lease_ms"`
	MaxAttempts  int    `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Webhook     WebhookConfig `koanf:"webhook" mapstructure:"webhook"`
	Retry       RetryConfig   `koanf:"retry" mapstructure:"retry"`
	Ledger      LedgerConfig  `koanf:"ledger" mapstructure:"ledger"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "request-network",
		Webhook: WebhookConfig{
			SignatureHeader: DefaultSignatureHeader,
			DeliveryHeader:  DefaultDeliveryHeader,
			MaxBodyBytes:    DefaultMaxBodyBytes,
			ContextKey:      DefaultContextKey,
		},
		Retry: DefaultRetryConfig(),
		Ledger: LedgerConfig{
			Driver:       "sqlite3",
			ClaimLeaseMS: 30_000,
			MaxAttempts:  8,
		},
	}
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:      3,
		InitialDelayMS:   250,
		MaxDelayMS:       5000,
		BackoffFactor:    2,
		Jitter:           "full",
		RetryStatusCodes: []int{408, 425, 429, 500, 502, 503, 504},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodOptions,
			http.MethodPut,
			http.MethodDelete,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Webhook.SignatureHeader) == "" {
		return fmt.Errorf("core: webhook.signature_header is required")
	}
	if c.Webhook.ToleranceMS < 0 {
		return fmt.Errorf("core: webhook.tolerance_ms must not be negative")
	}
	if c.Webhook.MaxBodyBytes < 0 {
		return fmt.Errorf("core: webhook.max_body_bytes must not be negative")
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Ledger.Driver)) {
	case "", "sqlite3", "sqlite", "postgres", "pg":
	default:
		return fmt.Errorf("core: ledger.driver %q is not supported", c.Ledger.Driver)
	}
	return nil
}

func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("core: retry.max_attempts must not be negative")
	}
	if c.InitialDelayMS < 0 || c.MaxDelayMS < 0 {
		return fmt.Errorf("core: retry delays must not be negative")
	}
	if c.BackoffFactor < 0 {
		return fmt.Errorf("core: retry.backoff_factor must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Jitter)) {
	case "", "none", "half", "full":
	default:
		return fmt.Errorf("core: retry.jitter %q is not supported", c.Jitter)
	}
	return nil
}
