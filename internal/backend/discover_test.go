package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/sentineld/internal/config"
)

// mcpStubHandler answers the discovery handshake the way a minimal MCP
// server would.
func mcpStubHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     *uint64 `json:"id"`
			Method string  `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "initialize":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","capabilities":{"tools":{}},"serverInfo":{"name":"stub","version":"0"}}}`))
		case "notifications/initialized":
			_, _ = w.Write([]byte(`{}`))
		case "tools/list":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":{"tools":[
				{"name":"read_query","description":"Execute a read-only SQL query","inputSchema":{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}},
				{"name":"write_query","description":"Execute a write SQL query","inputSchema":{"type":"object"}}
			]}}`))
		default:
			t.Errorf("unexpected method during handshake: %s", req.Method)
		}
	}
}

func TestDiscoverAgainstHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(mcpStubHandler(t))
	defer srv.Close()

	b := NewHTTPBackend(NewHTTPClient(), config.BackendConfig{
		Name:    "stub",
		URL:     srv.URL,
		Timeout: config.Duration(5 * time.Second),
	}, zaptest.NewLogger(t))

	tools, err := Discover(context.Background(), b, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Equal(t, "read_query", tools[0].Name)
	require.NotNil(t, tools[0].InputSchema)
	require.Equal(t, "write_query", tools[1].Name)
}

func TestDiscoverFailsWithoutTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	b := NewHTTPBackend(NewHTTPClient(), config.BackendConfig{
		Name:    "stub",
		URL:     srv.URL,
		Timeout: config.Duration(5 * time.Second),
	}, zaptest.NewLogger(t))

	_, err := Discover(context.Background(), b, zaptest.NewLogger(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no tools")
}

// stdioStubScript is a line-oriented MCP server in shell: it answers the
// three handshake steps, then echoes a canned result for any request id.
const stdioStubScript = `
read line
printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","capabilities":{"tools":{}},"serverInfo":{"name":"stub","version":"0"}}}'
read line
while read line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  case "$line" in
    *tools/list*)
      printf '%s\n' "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"tools\":[{\"name\":\"echo_tool\",\"description\":\"echoes\",\"inputSchema\":{\"type\":\"object\"}}]}}"
      ;;
    *)
      printf '%s\n' "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"ok\"}]}}"
      ;;
  esac
done
`

func TestSupervisorHandshakeDiscoversTools(t *testing.T) {
	cfg := config.BackendConfig{
		Name:        "stub-stdio",
		Kind:        config.BackendStdio,
		Command:     "sh",
		Args:        []string{"-c", stdioStubScript},
		Timeout:     config.Duration(5 * time.Second),
		MaxRestarts: 1,
	}
	b := NewStdioBackend(cfg, zaptest.NewLogger(t))
	discovered := make(chan Discovery, 1)
	sup := NewSupervisor(cfg, b, discovered, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("supervisor did not stop")
		}
	}()

	select {
	case disc := <-discovered:
		require.Equal(t, "stub-stdio", disc.Backend)
		require.Len(t, disc.Tools, 1)
		require.Equal(t, "echo_tool", disc.Tools[0].Name)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor never published a discovery")
	}

	// The published child also serves correlated tool calls.
	resp, err := b.Send(ctx, `{"jsonrpc":"2.0","id":41,"method":"tools/call","params":{"name":"echo_tool","arguments":{}}}`)
	require.NoError(t, err)
	require.Contains(t, resp, `"id":41`)
	require.Contains(t, resp, `"ok"`)
}
