package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/sentineld/internal/config"
)

// TestConcurrentSendsCorrelateByID exercises the correlator with many
// in-flight requests against one child, as happens when several sessions
// share a stdio backend. Each waiter must receive exactly the response
// carrying its own id, regardless of arrival interleaving.
func TestConcurrentSendsCorrelateByID(t *testing.T) {
	b := NewStdioBackend(config.BackendConfig{
		Name:    "concurrent",
		Kind:    config.BackendStdio,
		Command: "cat",
		Timeout: config.Duration(5 * time.Second),
	}, zaptest.NewLogger(t))
	conn, cmd, err := b.spawn(config.BackendConfig{Name: "concurrent", Command: "cat"})
	require.NoError(t, err)
	b.setConn(conn)
	defer func() {
		KillProcessGroup(conn.pid, zaptest.NewLogger(t))
		_ = cmd.Wait()
	}()

	const inflight = 32
	var wg sync.WaitGroup
	errs := make([]error, inflight)
	bodies := make([]string, inflight)

	for i := 0; i < inflight; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := uint64(100 + i)
			body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"slot":%d}}`, id, i)
			resp, err := b.Send(context.Background(), body)
			errs[i] = err
			bodies[i] = resp
		}(i)
	}
	wg.Wait()

	for i := 0; i < inflight; i++ {
		require.NoError(t, errs[i], "send %d failed", i)
		var decoded struct {
			ID     uint64 `json:"id"`
			Result struct {
				Slot int `json:"slot"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(bodies[i]), &decoded))
		require.Equal(t, uint64(100+i), decoded.ID, "waiter %d got someone else's response", i)
		require.Equal(t, i, decoded.Result.Slot)
	}

	conn.pending.mu.Lock()
	remaining := len(conn.pending.waiters)
	conn.pending.mu.Unlock()
	require.Equal(t, 0, remaining)
}

// TestLateResponseAfterTimeoutIsDiscarded verifies the timeout cleanup
// ordering: the pending entry is removed before Send returns, so a late
// line for that id finds no waiter instead of being delivered to a
// recycled id.
func TestLateResponseAfterTimeoutIsDiscarded(t *testing.T) {
	// The stub delays its reply past the backend timeout, then emits it.
	script := `read line; sleep 1; printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"late":true}}'; sleep 2`
	b := NewStdioBackend(config.BackendConfig{
		Name:    "late",
		Kind:    config.BackendStdio,
		Command: "sh",
		Timeout: config.Duration(100 * time.Millisecond),
	}, zaptest.NewLogger(t))
	conn, cmd, err := b.spawn(config.BackendConfig{Name: "late", Command: "sh", Args: []string{"-c", script}})
	require.NoError(t, err)
	b.setConn(conn)
	defer func() {
		KillProcessGroup(conn.pid, zaptest.NewLogger(t))
		_ = cmd.Wait()
	}()

	_, err = b.Send(context.Background(), `{"jsonrpc":"2.0","id":1,"method":"x"}`)
	require.ErrorIs(t, err, ErrTimeout)

	// Wait for the late line to arrive; it must be silently dropped and
	// leave the pending table empty.
	time.Sleep(1500 * time.Millisecond)
	conn.pending.mu.Lock()
	remaining := len(conn.pending.waiters)
	conn.pending.mu.Unlock()
	require.Equal(t, 0, remaining)
}
