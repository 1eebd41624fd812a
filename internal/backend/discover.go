package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// settleDelay gives a freshly initialized server a moment to process the
// initialized notification before tools/list.
const settleDelay = 100 * time.Millisecond

// notifier is implemented by transports that can deliver a one-way message
// outside the request/response correlator.
type notifier interface {
	Notify(ctx context.Context, body string) error
}

// Discover performs the MCP handshake against a backend and returns its
// tool definitions: initialize -> notifications/initialized -> brief settle
// -> tools/list.
func Discover(ctx context.Context, b Backend, logger *zap.Logger) ([]*mcp.Tool, error) {
	initReq := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"sentineld","version":"0.1.0"}}}`
	initResp, err := b.Send(ctx, initReq)
	if err != nil {
		return nil, fmt.Errorf("MCP initialize failed: %w", err)
	}
	logger.Debug("MCP initialize response",
		zap.String("backend", b.Name()),
		zap.String("response", initResp))

	notif := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	if n, ok := b.(notifier); ok {
		if err := n.Notify(ctx, notif); err != nil {
			return nil, fmt.Errorf("failed to send notifications/initialized: %w", err)
		}
	} else if _, err := b.Send(ctx, notif); err != nil {
		// Some HTTP servers return an error body for id-less notifications;
		// the handshake proceeds regardless.
		logger.Debug("notifications/initialized send failed",
			zap.String("backend", b.Name()),
			zap.Error(err))
	}

	if !sleepCtx(ctx, settleDelay) {
		return nil, ctx.Err()
	}

	listResp, err := b.Send(ctx, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if err != nil {
		return nil, fmt.Errorf("MCP tools/list failed: %w", err)
	}

	var parsed struct {
		Result struct {
			Tools []*mcp.Tool `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(listResp), &parsed); err != nil {
		return nil, fmt.Errorf("invalid tools/list response: %w", err)
	}
	if parsed.Result.Tools == nil {
		return nil, fmt.Errorf("no tools in tools/list response")
	}

	logger.Info("discovered tools from backend",
		zap.String("backend", b.Name()),
		zap.Int("count", len(parsed.Result.Tools)))
	return parsed.Result.Tools, nil
}
