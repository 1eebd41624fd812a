package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func entry(tool string) Entry {
	return Entry{
		RequestID: uuid.New(),
		Timestamp: time.Now().UTC(),
		Subject:   "c",
		Role:      "admin",
		ToolName:  tool,
		Status:    StatusSuccess,
	}
}

func TestTryRecordDelivers(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))
	r.TryRecord(entry("echo"))

	got := <-r.Entries()
	require.Equal(t, "echo", got.ToolName)
}

func TestTryRecordNeverBlocksWhenFull(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))

	// Fill the queue past capacity with no consumer. Every call must
	// return promptly; overflow entries are dropped.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < queueSize+100; i++ {
			r.TryRecord(entry("flood"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("TryRecord blocked on a full queue")
	}
	require.Len(t, r.ch, queueSize)
}

func TestTryRecordScrubsSecretsBeforeQueueing(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))

	e := entry("write_query")
	e.RequestArgs = []byte(`{"query":"create user app with password 'x'","password":"hunter22secret"}`)
	e.ErrorMessage = `connect failed: postgres://svc:s3cr3tpass@db:5432/x refused`
	r.TryRecord(e)

	got := <-r.Entries()
	require.NotContains(t, string(got.RequestArgs), "hunter22secret")
	require.Contains(t, string(got.RequestArgs), "[REDACTED]")
	require.NotContains(t, got.ErrorMessage, "s3cr3tpass")
	require.Contains(t, got.ErrorMessage, "db:5432/x", "non-secret context survives")
}

func TestCloseEndsConsumerRange(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))
	r.TryRecord(entry("a"))
	r.TryRecord(entry("b"))
	r.Close()

	var got []Entry
	for e := range r.Entries() {
		got = append(got, e)
	}
	require.Len(t, got, 2, "writer drains remaining entries after close")
}
