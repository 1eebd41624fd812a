// Package config defines the sentineld configuration model, the TOML/env
// loader, and the hot-reloadable subset swapped in on SIGHUP.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for text unmarshaling (TOML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the full sentineld configuration.
type Config struct {
	Gateway    GatewayConfig    `koanf:"gateway"`
	Auth       AuthConfig       `koanf:"auth"`
	Postgres   PostgresConfig   `koanf:"postgres"`
	Backends   []BackendConfig  `koanf:"backends"`
	RBAC       RBACConfig       `koanf:"rbac"`
	RateLimits RateLimitConfig  `koanf:"rate_limits"`
	KillSwitch KillSwitchConfig `koanf:"kill_switch"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// GatewayConfig holds top-level gateway settings.
type GatewayConfig struct {
	// HealthListen is the bind address for the health/metrics HTTP server.
	HealthListen string `koanf:"health_listen"`
	// AuditEnabled gates the audit pipeline as a whole; audit persistence
	// additionally requires the Postgres URL env var to be set.
	AuditEnabled bool `koanf:"audit_enabled"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// AuthConfig names the env var carrying the JWT secret. The secret itself
// never appears in the config file.
type AuthConfig struct {
	JWTSecretEnv string `koanf:"jwt_secret_env"`
	JWTIssuer    string `koanf:"jwt_issuer"`
	JWTAudience  string `koanf:"jwt_audience"`
}

// PostgresConfig names the env var carrying the audit database URL.
type PostgresConfig struct {
	URLEnv         string `koanf:"url_env"`
	MaxConnections int    `koanf:"max_connections"`
}

// BackendKind selects the transport for a backend.
type BackendKind string

const (
	BackendHTTP  BackendKind = "http"
	BackendStdio BackendKind = "stdio"
)

// BackendConfig describes one upstream MCP server. Immutable after startup;
// for stdio backends the child process itself is managed by a supervisor.
type BackendConfig struct {
	Name string      `koanf:"name"`
	Kind BackendKind `koanf:"type"`

	// HTTP transport.
	URL string `koanf:"url"`
	// AuthHeader, when set, is sent verbatim as the Authorization header on
	// every request to this backend.
	AuthHeader string `koanf:"auth_header"`

	// Stdio transport.
	Command string            `koanf:"command"`
	Args    []string          `koanf:"args"`
	Env     map[string]string `koanf:"env"`

	Timeout     Duration `koanf:"timeout"`
	Retries     uint64   `koanf:"retries"`
	MaxRestarts int      `koanf:"max_restarts"`

	CircuitBreakerThreshold uint32   `koanf:"circuit_breaker_threshold"`
	CircuitBreakerRecovery  Duration `koanf:"circuit_breaker_recovery"`
}

// RBACConfig maps role name -> role definition. Not hot-reloadable.
type RBACConfig struct {
	Roles map[string]RoleConfig `koanf:"roles"`
}

// RoleConfig is one role's permission set and tool denylist. The denylist
// overrides everything, including the "*" wildcard.
type RoleConfig struct {
	Permissions []string `koanf:"permissions"`
	DeniedTools []string `koanf:"denied_tools"`
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	DefaultRPM int            `koanf:"default_rpm"`
	PerTool    map[string]int `koanf:"per_tool"`
}

// KillSwitchConfig is the hot-reloadable deny list at tool and backend
// granularity.
type KillSwitchConfig struct {
	DisabledTools    []string `koanf:"disabled_tools"`
	DisabledBackends []string `koanf:"disabled_backends"`
}

// ToolDisabled reports whether the named tool is killed.
func (k *KillSwitchConfig) ToolDisabled(tool string) bool {
	for _, t := range k.DisabledTools {
		if t == tool {
			return true
		}
	}
	return false
}

// BackendDisabled reports whether the named backend is killed.
func (k *KillSwitchConfig) BackendDisabled(backend string) bool {
	for _, b := range k.DisabledBackends {
		if b == backend {
			return true
		}
	}
	return false
}

// Validate checks the configuration for startup-fatal mistakes.
func (c *Config) Validate() error {
	if c.Gateway.HealthListen == "" {
		return fmt.Errorf("gateway.health_listen is required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Name == "" {
			return fmt.Errorf("backends[%d]: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("backends[%d]: duplicate backend name %q", i, b.Name)
		}
		seen[b.Name] = true
		switch b.Kind {
		case BackendHTTP:
			if b.URL == "" {
				return fmt.Errorf("backend %q: http backend requires url", b.Name)
			}
		case BackendStdio:
			if b.Command == "" {
				return fmt.Errorf("backend %q: stdio backend requires command", b.Name)
			}
		default:
			return fmt.Errorf("backend %q: unknown type %q", b.Name, b.Kind)
		}
	}
	if c.RateLimits.DefaultRPM <= 0 {
		return fmt.Errorf("rate_limits.default_rpm must be positive")
	}
	for tool, rpm := range c.RateLimits.PerTool {
		if rpm <= 0 {
			return fmt.Errorf("rate_limits.per_tool[%q] must be positive", tool)
		}
	}
	return nil
}
