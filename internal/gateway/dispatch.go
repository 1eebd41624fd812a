// Package gateway implements the per-session dispatch loop: the MCP state
// machine, the ordered policy gate chain, and backend dispatch.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/audit"
	"github.com/fyrsmithlabs/sentineld/internal/auth"
	"github.com/fyrsmithlabs/sentineld/internal/backend"
	"github.com/fyrsmithlabs/sentineld/internal/catalog"
	"github.com/fyrsmithlabs/sentineld/internal/config"
	"github.com/fyrsmithlabs/sentineld/internal/metrics"
	"github.com/fyrsmithlabs/sentineld/internal/protocol"
	"github.com/fyrsmithlabs/sentineld/internal/resilience"
	"github.com/fyrsmithlabs/sentineld/internal/validation"
)

// Dispatcher processes one session's message stream. All fields are wired
// at startup; Catalog, RBAC, Schemas, Backends, and Breakers are shared
// immutably, the hot holder is the only mutable shared state.
type Dispatcher struct {
	Catalog  *catalog.Catalog
	Backends map[string]backend.Backend
	Remapper *protocol.Remapper
	Caller   auth.CallerIdentity
	RBAC     *config.RBACConfig
	Hot      *config.HotHolder
	Schemas  *validation.SchemaCache
	Breakers map[string]*resilience.CircuitBreaker
	Audit    *audit.Recorder  // nil disables auditing
	Metrics  *metrics.Metrics // nil disables metrics
	Version  string
	Logger   *zap.Logger
}

// Run consumes inbound frames strictly in arrival order and emits one
// response per id-carrying request. Exits when the inbound stream ends or
// the context is canceled; either way the session transitions to Closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan string, out chan<- string) {
	state := protocol.StateCreated

	for {
		var line string
		var ok bool
		select {
		case line, ok = <-in:
			if !ok {
				d.Logger.Info("MCP state -> closed (input stream ended)")
				return
			}
		case <-ctx.Done():
			d.Logger.Info("dispatch loop canceled by shutdown signal")
			return
		}

		req, err := protocol.ParseRequest([]byte(line))
		if err != nil {
			d.Logger.Warn("failed to parse JSON-RPC request", zap.Error(err))
			d.emit(ctx, out, protocol.NewError(protocol.NullID(), protocol.CodeParseError,
				fmt.Sprintf("Parse error: %v", err)))
			continue
		}

		if !state.CanAccept(req.Method) {
			if !req.IsNotification() {
				d.emit(ctx, out, protocol.NewError(req.RequestID(), protocol.CodeNotInitialized,
					"Server not initialized"))
			}
			continue
		}

		switch req.Method {
		case "initialize":
			result, rpcErr := protocol.HandleInitialize(req.Params, d.Version, d.Logger)
			if rpcErr != nil {
				d.emit(ctx, out, protocol.NewError(req.RequestID(), rpcErr.Code, rpcErr.Message))
			} else {
				d.emit(ctx, out, protocol.NewResult(req.RequestID(), result))
			}
			state = protocol.StateInitializing
			d.Logger.Info("MCP state -> initializing")

		case "notifications/initialized":
			state = protocol.StateOperational
			d.Logger.Info("MCP state -> operational")

		case "tools/list":
			if !req.IsNotification() {
				d.handleToolsList(ctx, req, out)
			}

		case "tools/call":
			if !req.IsNotification() {
				d.handleToolsCall(ctx, req, out)
			}

		case "ping":
			if !req.IsNotification() {
				d.emit(ctx, out, protocol.NewResult(req.RequestID(), json.RawMessage(`{}`)))
			}

		default:
			if !req.IsNotification() {
				d.emit(ctx, out, protocol.NewError(req.RequestID(), protocol.CodeMethodNotFound,
					fmt.Sprintf("Method not found: %s", req.Method)))
			}
		}
	}
}

// handleToolsList snapshots the catalog and filters it by the kill switch
// and the caller's read permission.
func (d *Dispatcher) handleToolsList(ctx context.Context, req *protocol.Request, out chan<- string) {
	hot := d.Hot.Current()

	tools := make([]*mcp.Tool, 0)
	for _, tool := range d.Catalog.AllTools() {
		if hot.KillSwitch.ToolDisabled(tool.Name) {
			continue
		}
		if backendName, ok := d.Catalog.Route(tool.Name); ok && hot.KillSwitch.BackendDisabled(backendName) {
			continue
		}
		if !auth.IsToolAllowed(d.Caller.Role, tool.Name, auth.PermissionRead, d.RBAC) {
			continue
		}
		tools = append(tools, tool)
	}

	result, err := json.Marshal(&mcp.ListToolsResult{Tools: tools})
	if err != nil {
		d.emit(ctx, out, protocol.NewError(req.RequestID(), protocol.CodeInternalError,
			fmt.Sprintf("Failed to serialize tool list: %v", err)))
		return
	}
	d.emit(ctx, out, protocol.NewResult(req.RequestID(), result))
}

// toolCallParams is the subset of tools/call params the gate chain needs.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall runs the gate chain — kill switch, rate limit, RBAC,
// schema validation, circuit breaker — and on pass dispatches to the owning
// backend. Every path through here produces exactly one response and one
// audit entry.
func (d *Dispatcher) handleToolsCall(ctx context.Context, req *protocol.Request, out chan<- string) {
	requestID := uuid.New()
	start := time.Now()
	id := req.RequestID()

	var params toolCallParams
	if len(req.Params) > 0 {
		// A malformed params object surfaces as a missing tool name below.
		_ = json.Unmarshal(req.Params, &params)
	}

	if params.Name == "" {
		resp := protocol.NewError(id, protocol.CodeInvalidParams, "Missing tool name in params")
		d.finish(ctx, out, resp, requestID, "unknown", "unknown", req.Params, audit.StatusError, start)
		return
	}
	name := params.Name

	backendName := "unknown"
	if routed, ok := d.Catalog.Route(name); ok {
		backendName = routed
	}

	hot := d.Hot.Current()

	// Gate 1: kill switch, tool granularity.
	if hot.KillSwitch.ToolDisabled(name) {
		d.reject(ctx, out, rejection{
			id: id, requestID: requestID, tool: name, backend: backendName,
			params: req.Params, code: protocol.CodeKillSwitch,
			message: fmt.Sprintf("Tool is disabled: %s", name),
			status:  audit.StatusKilled,
		})
		return
	}

	// Gate 2: kill switch, backend granularity.
	if backendName != "unknown" && hot.KillSwitch.BackendDisabled(backendName) {
		d.reject(ctx, out, rejection{
			id: id, requestID: requestID, tool: name, backend: backendName,
			params: req.Params, code: protocol.CodeKillSwitch,
			message: fmt.Sprintf("Backend is disabled: %s", backendName),
			status:  audit.StatusKilled,
		})
		return
	}

	// Gate 3: rate limit for (caller, tool).
	if retryAfter, allowed := hot.RateLimiter.Check(d.Caller.Subject, name); !allowed {
		if d.Metrics != nil {
			d.Metrics.RecordRateLimitHit(name)
		}
		seconds := int(math.Ceil(retryAfter.Seconds()))
		d.reject(ctx, out, rejection{
			id: id, requestID: requestID, tool: name, backend: backendName,
			params: req.Params, code: protocol.CodeRateLimited,
			message: fmt.Sprintf("Rate limit exceeded for tool: %s", name),
			status:  audit.StatusRateLimited,
			data:    map[string]int{"retryAfter": seconds},
		})
		return
	}

	// Gate 4: RBAC execute permission.
	if !auth.IsToolAllowed(d.Caller.Role, name, auth.PermissionExecute, d.RBAC) {
		d.reject(ctx, out, rejection{
			id: id, requestID: requestID, tool: name, backend: backendName,
			params: req.Params, code: protocol.CodeAuthzDenied,
			message: fmt.Sprintf("Permission denied for tool: %s", name),
			status:  audit.StatusDenied,
		})
		return
	}

	// Gate 5: JSON-Schema validation of arguments.
	if len(params.Arguments) > 0 {
		var args any
		if err := json.Unmarshal(params.Arguments, &args); err == nil {
			if errs := d.Schemas.Validate(name, args); len(errs) > 0 {
				d.reject(ctx, out, rejection{
					id: id, requestID: requestID, tool: name, backend: backendName,
					params: req.Params, code: protocol.CodeInvalidParams,
					message: fmt.Sprintf("Invalid arguments for tool %s: %s", name, strings.Join(errs, "; ")),
					status:  audit.StatusInvalidArgs,
				})
				return
			}
		}
	}

	// Gates 6+7: circuit breaker, then backend dispatch.
	resp, status := d.callBackend(ctx, id, name, req.Params)
	d.finish(ctx, out, resp, requestID, name, backendName, req.Params, status, start)
}

// callBackend routes the tool to its backend, remaps the id, sends under
// circuit-breaker protection, and restores the id into the response. The
// returned status is the audit outcome.
func (d *Dispatcher) callBackend(ctx context.Context, clientID protocol.ID, toolName string, params json.RawMessage) (*protocol.Response, string) {
	backendName, ok := d.Catalog.Route(toolName)
	if !ok {
		return protocol.NewError(clientID, protocol.CodeInvalidParams,
			fmt.Sprintf("Unknown tool: %s", toolName)), audit.StatusError
	}

	be, ok := d.Backends[backendName]
	if !ok {
		d.Logger.Error("backend in catalog but not in backends map",
			zap.String("backend", backendName),
			zap.String("tool", toolName))
		return protocol.NewError(clientID, protocol.CodeInternalError,
			fmt.Sprintf("Backend unavailable: %s", backendName)), audit.StatusError
	}

	gatewayID := d.Remapper.Remap(clientID, backendName)

	outbound, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      gatewayID,
		"method":  "tools/call",
		"params":  params,
	})
	if err != nil {
		d.restore(gatewayID)
		return protocol.NewError(clientID, protocol.CodeInternalError,
			fmt.Sprintf("Failed to serialize backend request: %v", err)), audit.StatusError
	}

	breaker := d.Breakers[backendName]
	send := func() (any, error) {
		raw, sendErr := be.Send(ctx, string(outbound))
		if sendErr != nil {
			return nil, sendErr
		}
		parsed, parseErr := protocol.ParseResponse([]byte(raw))
		if parseErr != nil {
			return nil, fmt.Errorf("invalid backend response: %w", parseErr)
		}
		return parsed, nil
	}

	var result any
	if breaker != nil {
		result, err = breaker.Execute(send)
	} else {
		result, err = send()
	}

	original := d.restore(gatewayID)

	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return protocol.NewError(clientID, protocol.CodeCircuitOpen,
				fmt.Sprintf("Backend circuit open: %s", backendName)), audit.StatusCircuitOpen
		}
		d.Logger.Error("backend call failed",
			zap.String("backend", backendName),
			zap.String("tool", toolName),
			zap.Error(err))
		return protocol.NewError(original, protocol.CodeInternalError,
			fmt.Sprintf("Backend error: %v", err)), audit.StatusError
	}

	resp := result.(*protocol.Response)
	resp.ID = original
	if resp.Error != nil {
		return resp, audit.StatusError
	}
	return resp, audit.StatusSuccess
}

// restore consumes the remap entry, falling back to the null id when the
// entry is already gone.
func (d *Dispatcher) restore(gatewayID uint64) protocol.ID {
	original, _, ok := d.Remapper.Restore(gatewayID)
	if !ok {
		return protocol.NullID()
	}
	return original
}

// rejection describes a gate-chain short circuit.
type rejection struct {
	id        protocol.ID
	requestID uuid.UUID
	tool      string
	backend   string
	params    json.RawMessage
	code      int
	message   string
	status    string
	data      any
}

// reject emits the gate's error response and records the audit entry and
// metrics for the rejection. Later gates never run.
func (d *Dispatcher) reject(ctx context.Context, out chan<- string, r rejection) {
	var resp *protocol.Response
	if r.data != nil {
		resp = protocol.NewErrorWithData(r.id, r.code, r.message, r.data)
	} else {
		resp = protocol.NewError(r.id, r.code, r.message)
	}
	d.emit(ctx, out, resp)

	if d.Metrics != nil {
		d.Metrics.RecordRequest(r.tool, r.status, 0)
	}
	if d.Audit != nil {
		d.Audit.TryRecord(audit.Entry{
			RequestID:    r.requestID,
			Timestamp:    time.Now().UTC(),
			Subject:      d.Caller.Subject,
			Role:         d.Caller.Role,
			ToolName:     r.tool,
			BackendName:  r.backend,
			RequestArgs:  r.params,
			Status:       r.status,
			ErrorMessage: r.message,
		})
	}
}

// finish emits the terminal response for a dispatched call and records its
// metrics and audit entry with the measured latency.
func (d *Dispatcher) finish(ctx context.Context, out chan<- string, resp *protocol.Response,
	requestID uuid.UUID, tool, backendName string, params json.RawMessage, status string, start time.Time) {

	d.emit(ctx, out, resp)

	elapsed := time.Since(start)
	if d.Metrics != nil {
		d.Metrics.RecordRequest(tool, status, elapsed.Seconds())
	}
	if d.Audit != nil {
		errMsg := ""
		if resp.Error != nil {
			errMsg = resp.Error.Message
		}
		d.Audit.TryRecord(audit.Entry{
			RequestID:    requestID,
			Timestamp:    time.Now().UTC(),
			Subject:      d.Caller.Subject,
			Role:         d.Caller.Role,
			ToolName:     tool,
			BackendName:  backendName,
			RequestArgs:  params,
			Status:       status,
			ErrorMessage: errMsg,
			LatencyMS:    elapsed.Milliseconds(),
		})
	}
}

func (d *Dispatcher) emit(ctx context.Context, out chan<- string, resp *protocol.Response) {
	select {
	case out <- string(resp.Encode()):
	case <-ctx.Done():
		d.Logger.Warn("output channel unavailable, dropping response")
	}
}
