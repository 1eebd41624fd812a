package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// ProtocolVersion is the MCP revision the gateway speaks.
const ProtocolVersion = "2025-03-26"

// State is the MCP lifecycle state of a session.
//
// Sessions progress Created -> Initializing -> Operational -> Closed.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateOperational
	StateClosed
)

// String implements fmt.Stringer for logging.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateOperational:
		return "operational"
	default:
		return "closed"
	}
}

// CanAccept reports whether method is allowed in the current state.
//
//   - Created: only "initialize" and "ping"
//   - Initializing: only "notifications/initialized" and "ping"
//   - Operational: everything
//   - Closed: nothing
func (s State) CanAccept(method string) bool {
	switch s {
	case StateCreated:
		return method == "initialize" || method == "ping"
	case StateInitializing:
		return method == "notifications/initialized" || method == "ping"
	case StateOperational:
		return true
	default:
		return false
	}
}

// HandleInitialize processes an MCP initialize request and returns the
// serialized InitializeResult: protocol version 2025-03-26, tools capability
// enabled, and the gateway's server info.
func HandleInitialize(params json.RawMessage, version string, logger *zap.Logger) (json.RawMessage, *Error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var initParams mcp.InitializeParams
	if err := json.Unmarshal(params, &initParams); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid initialize params: %v", err)}
	}

	if initParams.ClientInfo != nil {
		logger.Info("MCP initialize from client",
			zap.String("client_name", initParams.ClientInfo.Name),
			zap.String("client_version", initParams.ClientInfo.Version))
	}

	result := &mcp.InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		ServerInfo: &mcp.Implementation{
			Name:    "sentineld",
			Version: version,
		},
		Instructions: "Sentinel Gateway - governed MCP tool access",
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("failed to serialize initialize result: %v", err)}
	}
	return raw, nil
}
