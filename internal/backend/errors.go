package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared by both transports.
var (
	// ErrStdinClosed means the child's writer queue is gone; the request was
	// never delivered.
	ErrStdinClosed = errors.New("backend stdin closed")
	// ErrProcessExited means the child died while the request was pending.
	ErrProcessExited = errors.New("backend process exited")
	// ErrProcessNotRunning means no child is currently live for the backend.
	ErrProcessNotRunning = errors.New("backend process not running")
	// ErrTimeout means the per-backend timeout elapsed before a response.
	ErrTimeout = errors.New("backend request timed out")
	// ErrNoSSEData means an event-stream response contained no data line.
	ErrNoSSEData = errors.New("no data line in SSE response")
	// ErrMissingNumericID means a stdio send was attempted with a body the
	// correlator cannot key: no id, or a non-numeric one.
	ErrMissingNumericID = errors.New("request body missing numeric id")
)

// HTTPStatusError is a non-2xx upstream response.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Status, e.Body)
}

// IsRetryable reports whether an HTTP send error is transient: a 5xx
// status, a transport-level timeout, or a connect failure. 4xx statuses,
// malformed SSE, and post-parse errors are permanent.
func IsRetryable(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
