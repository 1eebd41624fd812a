package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sentineld/internal/protocol"
)

func TestHotReloadTakesEffectMidSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.initialize(t)

	// Before reload the tool is callable.
	env.send(t, callEcho(1, "before"))
	require.Nil(t, env.recv(t).Error)

	// Operator disables echo_tool and reloads.
	path := filepath.Join(t.TempDir(), "sentineld.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[kill_switch]
disabled_tools = ["echo_tool"]

[rate_limits]
default_rpm = 1000
`), 0o600))
	require.NoError(t, env.dispatcher.Hot.Reload(path))

	env.send(t, callEcho(2, "after"))
	resp := env.recv(t)
	require.NotNil(t, resp.Error)
	require.Equal(t, protocol.CodeKillSwitch, resp.Error.Code)

	// And the tool disappears from tools/list.
	env.send(t, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	listResp := env.recv(t)
	require.NotContains(t, string(listResp.Result), "echo_tool")

	// A failed reload keeps the swapped-in config.
	require.Error(t, env.dispatcher.Hot.Reload(filepath.Join(t.TempDir(), "missing.toml")))
	env.send(t, callEcho(4, "still blocked"))
	resp = env.recv(t)
	require.NotNil(t, resp.Error)
	require.Equal(t, protocol.CodeKillSwitch, resp.Error.Code)
}

func TestCircuitRecoversThroughHalfOpenProbe(t *testing.T) {
	healthy := false
	flaky := &fakeBackend{name: "test-backend"}
	flaky.fn = func(body string) (string, error) {
		if !healthy {
			return "", fmt.Errorf("connection reset")
		}
		return echoBackend("test-backend").fn(body)
	}

	env := newTestEnv(t, envOptions{backend: flaky, threshold: 2, recovery: 150 * time.Millisecond})
	env.initialize(t)

	// Trip the breaker.
	for i := 1; i <= 2; i++ {
		env.send(t, callEcho(i, "x"))
		require.Equal(t, protocol.CodeInternalError, env.recv(t).Error.Code)
	}
	env.send(t, callEcho(3, "x"))
	require.Equal(t, protocol.CodeCircuitOpen, env.recv(t).Error.Code)

	// Backend recovers; after the recovery timeout the half-open probe
	// goes through and closes the circuit.
	healthy = true
	time.Sleep(200 * time.Millisecond)

	env.send(t, callEcho(4, "back"))
	resp := env.recv(t)
	require.Nil(t, resp.Error)
	require.Equal(t, protocol.NumberID(4), resp.ID)

	env.send(t, callEcho(5, "and again"))
	require.Nil(t, env.recv(t).Error)
}
