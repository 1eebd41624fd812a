// Package backend implements the upstream MCP transports: HTTP (with SSE
// responses and transient-error retry) and stdio child processes under a
// restarting supervisor. Both expose a single correlated send operation.
package backend

import "context"

// Backend is the unified facade over the two transports. Send delivers one
// JSON-RPC request body and returns the raw response body.
type Backend interface {
	Name() string
	Send(ctx context.Context, body string) (string, error)
}
