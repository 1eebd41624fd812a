package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[gateway]
health_listen = "127.0.0.1:9201"
audit_enabled = true

[logging]
level = "debug"
format = "console"

[auth]
jwt_secret_env = "JWT_SECRET"

[postgres]
url_env = "DATABASE_URL"
max_connections = 5

[[backends]]
name = "n8n"
type = "http"
url = "http://localhost:5678"
timeout = "30s"
retries = 2

[[backends]]
name = "sqlite"
type = "stdio"
command = "mcp-sqlite"
args = ["--db", "/tmp/test.db"]
max_restarts = 3
circuit_breaker_threshold = 2
circuit_breaker_recovery = "15s"

[backends.env]
SQLITE_MODE = "ro"

[rbac.roles.admin]
permissions = ["*"]

[rbac.roles.viewer]
permissions = ["tools.read"]
denied_tools = ["write_query"]

[rate_limits]
default_rpm = 100

[rate_limits.per_tool]
write_query = 10

[kill_switch]
disabled_tools = ["dangerous_tool"]
disabled_backends = []
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentineld.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9201", cfg.Gateway.HealthListen)
	require.True(t, cfg.Gateway.AuditEnabled)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "JWT_SECRET", cfg.Auth.JWTSecretEnv)
	require.Equal(t, "DATABASE_URL", cfg.Postgres.URLEnv)
	require.Equal(t, 5, cfg.Postgres.MaxConnections)

	require.Len(t, cfg.Backends, 2)
	require.Equal(t, BackendHTTP, cfg.Backends[0].Kind)
	require.Equal(t, 30*time.Second, cfg.Backends[0].Timeout.Duration())
	require.Equal(t, uint64(2), cfg.Backends[0].Retries)

	require.Equal(t, BackendStdio, cfg.Backends[1].Kind)
	require.Equal(t, "mcp-sqlite", cfg.Backends[1].Command)
	require.Equal(t, []string{"--db", "/tmp/test.db"}, cfg.Backends[1].Args)
	require.Equal(t, "ro", cfg.Backends[1].Env["SQLITE_MODE"])
	require.Equal(t, 3, cfg.Backends[1].MaxRestarts)
	require.Equal(t, uint32(2), cfg.Backends[1].CircuitBreakerThreshold)
	require.Equal(t, 15*time.Second, cfg.Backends[1].CircuitBreakerRecovery.Duration())

	require.Equal(t, 100, cfg.RateLimits.DefaultRPM)
	require.Equal(t, 10, cfg.RateLimits.PerTool["write_query"])
	require.Contains(t, cfg.RBAC.Roles, "admin")
	require.Equal(t, []string{"write_query"}, cfg.RBAC.Roles["viewer"].DeniedTools)
	require.True(t, cfg.KillSwitch.ToolDisabled("dangerous_tool"))
	require.False(t, cfg.KillSwitch.ToolDisabled("other_tool"))
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[[backends]]
name = "b"
type = "http"
url = "http://localhost:1234"
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9201", cfg.Gateway.HealthListen)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, 1000, cfg.RateLimits.DefaultRPM)
	require.Equal(t, 60*time.Second, cfg.Backends[0].Timeout.Duration())
	require.Equal(t, 5, cfg.Backends[0].MaxRestarts)
	require.Equal(t, uint32(5), cfg.Backends[0].CircuitBreakerThreshold)
	require.Equal(t, 30*time.Second, cfg.Backends[0].CircuitBreakerRecovery.Duration())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINELD_RATE_LIMITS_DEFAULT_RPM", "42")
	t.Setenv("SENTINELD_LOGGING_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Equal(t, 42, cfg.RateLimits.DefaultRPM)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"http backend without url", `
[[backends]]
name = "b"
type = "http"
`},
		{"stdio backend without command", `
[[backends]]
name = "b"
type = "stdio"
`},
		{"unknown backend type", `
[[backends]]
name = "b"
type = "grpc"
url = "http://x"
`},
		{"duplicate backend names", `
[[backends]]
name = "b"
type = "http"
url = "http://x"

[[backends]]
name = "b"
type = "http"
url = "http://y"
`},
		{"nameless backend", `
[[backends]]
type = "http"
url = "http://x"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/sentineld.toml")
	require.Error(t, err)
}

func TestLoadMalformedTOML(t *testing.T) {
	_, err := Load(writeConfig(t, `this is [not toml`))
	require.Error(t, err)
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	require.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("banana")))
}
