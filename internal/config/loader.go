package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envPrefix is stripped from environment overrides.
//
// Environment variables use underscore separators and are uppercased:
//
//	SENTINELD_GATEWAY_HEALTH_LISTEN -> gateway.health_listen
//	SENTINELD_RATE_LIMITS_DEFAULT_RPM -> rate_limits.default_rpm
const envPrefix = "SENTINELD_"

// configSections are the top-level config tables an env override can
// target. Longer names come first so "rate_limits" wins over a would-be
// "rate" section.
var configSections = []string{
	"rate_limits", "kill_switch", "gateway", "logging", "auth", "postgres",
}

// Load reads the TOML config file, applies SENTINELD_* environment
// overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadLenient parses the config without validating it. Used by the hot
// reload path, which only consumes the kill-switch and rate-limit sections
// and must not reject an otherwise-degraded file for unrelated reasons.
func LoadLenient(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := k.Load(rawbytes.Provider(content), toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Override with environment variables. The section name is matched
	// against the known top-level sections (some contain underscores);
	// field names keep their underscores.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		for _, section := range configSections {
			if rest, ok := strings.CutPrefix(lower, section+"_"); ok {
				return section + "." + rest
			}
		}
		return lower
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.HealthListen == "" {
		cfg.Gateway.HealthListen = "127.0.0.1:9201"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = "sentineld"
	}
	if cfg.Auth.JWTAudience == "" {
		cfg.Auth.JWTAudience = "sentineld-api"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 10
	}
	if cfg.RateLimits.DefaultRPM == 0 {
		cfg.RateLimits.DefaultRPM = 1000
	}
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if b.Timeout == 0 {
			b.Timeout = Duration(60 * time.Second)
		}
		if b.MaxRestarts == 0 {
			b.MaxRestarts = 5
		}
		if b.CircuitBreakerThreshold == 0 {
			b.CircuitBreakerThreshold = 5
		}
		if b.CircuitBreakerRecovery == 0 {
			b.CircuitBreakerRecovery = Duration(30 * time.Second)
		}
	}
}
