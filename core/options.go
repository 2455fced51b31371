package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticConfigLoader serves a fixed raw map, typically decoded from a file or
// environment by the host application.
type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig resolves defaults < loader values < runtime overrides.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	webhook := map[string]any{}
	putString(webhook, "signature_header", cfg.Webhook.SignatureHeader, includeZero)
	putString(webhook, "timestamp_header", cfg.Webhook.TimestampHeader, includeZero)
	putString(webhook, "delivery_header", cfg.Webhook.DeliveryHeader, includeZero)
	putString(webhook, "context_key", cfg.Webhook.ContextKey, includeZero)
	putInt64(webhook, "tolerance_ms", cfg.Webhook.ToleranceMS, includeZero)
	putInt64(webhook, "max_body_bytes", cfg.Webhook.MaxBodyBytes, includeZero)
	if len(webhook) > 0 {
		layer["webhook"] = webhook
	}

	retry := map[string]any{}
	putInt64(retry, "max_attempts", int64(cfg.Retry.MaxAttempts), includeZero)
	putInt64(retry, "initial_delay_ms", cfg.Retry.InitialDelayMS, includeZero)
	putInt64(retry, "max_delay_ms", cfg.Retry.MaxDelayMS, includeZero)
	if includeZero || cfg.Retry.BackoffFactor != 0 {
		retry["backoff_factor"] = cfg.Retry.BackoffFactor
	}
	putString(retry, "jitter", cfg.Retry.Jitter, includeZero)
	if includeZero || len(cfg.Retry.RetryStatusCodes) > 0 {
		retry["retry_status_codes"] = append([]int(nil), cfg.Retry.RetryStatusCodes...)
	}
	if includeZero || len(cfg.Retry.AllowedMethods) > 0 {
		retry["allowed_methods"] = append([]string(nil), cfg.Retry.AllowedMethods...)
	}
	if len(retry) > 0 {
		layer["retry"] = retry
	}

	ledger := map[string]any{}
	putString(ledger, "driver", cfg.Ledger.Driver, includeZero)
	putString(ledger, "dsn", cfg.Ledger.DSN, includeZero)
	putInt64(ledger, "claim_lease_ms", cfg.Ledger.ClaimLeaseMS, includeZero)
	putInt64(ledger, "max_attempts", int64(cfg.Ledger.MaxAttempts), includeZero)
	if len(ledger) > 0 {
		layer["ledger"] = ledger
	}
	return layer
}

func putString(layer map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		layer[key] = strings.TrimSpace(value)
	}
}

func putInt64(layer map[string]any, key string, value int64, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}
