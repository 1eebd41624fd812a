// Package audit records one durable entry per dispatched tool call. The
// recorder side is a bounded non-blocking queue; a single writer drains it
// into Postgres.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/secrets"
)

// Outcome statuses for audit entries. One per gate plus the two terminal
// dispatch results.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusKilled      = "killed"
	StatusRateLimited = "rate_limited"
	StatusDenied      = "denied"
	StatusInvalidArgs = "invalid_args"
	StatusCircuitOpen = "circuit_open"
)

// Entry is one audit record. Produced at most once per request that entered
// the tools/call branch.
type Entry struct {
	RequestID    uuid.UUID
	Timestamp    time.Time
	Subject      string
	Role         string
	ToolName     string
	BackendName  string
	RequestArgs  json.RawMessage
	Status       string
	ErrorMessage string
	LatencyMS    int64
}

// queueSize bounds the in-memory audit queue.
const queueSize = 1024

// Recorder is the producer handle. TryRecord never blocks: when the queue
// is full the entry is dropped with a warning, because audit backpressure
// must never delay the dispatch loop.
type Recorder struct {
	ch       chan Entry
	scrubber *secrets.Scrubber
	logger   *zap.Logger
}

// NewRecorder builds the bounded queue.
func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{
		ch:       make(chan Entry, queueSize),
		scrubber: secrets.NewScrubber(),
		logger:   logger.Named("audit"),
	}
}

// TryRecord scrubs credential material out of the entry and enqueues it
// without blocking. Tool arguments are attacker-supplied and can carry
// passwords, tokens, or connection strings; they must never reach the
// durable audit table verbatim. Error messages get the same treatment —
// backends echo arguments back in failures.
func (r *Recorder) TryRecord(e Entry) {
	e.RequestArgs = r.scrubber.ScrubBytes(e.RequestArgs)
	e.ErrorMessage = r.scrubber.Scrub(e.ErrorMessage)
	select {
	case r.ch <- e:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			zap.String("tool", e.ToolName),
			zap.String("status", e.Status))
	}
}

// Entries exposes the consumer side for the writer.
func (r *Recorder) Entries() <-chan Entry { return r.ch }

// Close ends the producer side; the writer drains what remains and exits.
func (r *Recorder) Close() { close(r.ch) }
