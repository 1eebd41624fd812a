// Package catalog aggregates the tools exposed by every upstream backend
// into a single routing table.
package catalog

import (
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Catalog maps tool name -> (tool definition, owning backend name).
//
// Registration happens only during startup wiring, from a single goroutine;
// after that the catalog is read-only and shared without locking.
type Catalog struct {
	tools  map[string]entry
	logger *zap.Logger
}

type entry struct {
	tool    *mcp.Tool
	backend string
}

// New returns an empty catalog.
func New(logger *zap.Logger) *Catalog {
	return &Catalog{
		tools:  make(map[string]entry),
		logger: logger,
	}
}

// RegisterBackend inserts every tool from a backend. On a name collision the
// new tool is renamed to "{backend}__{tool}" and inserted under the prefixed
// name; the tool definition's own Name field is rewritten to match so that
// clients call it by the name they saw in tools/list.
func (c *Catalog) RegisterBackend(backendName string, tools []*mcp.Tool) {
	for _, tool := range tools {
		if tool == nil || tool.Name == "" {
			continue
		}
		name := tool.Name
		if _, exists := c.tools[name]; exists {
			prefixed := fmt.Sprintf("%s__%s", backendName, name)
			c.logger.Warn("tool name collision, prefixing with backend name",
				zap.String("original", name),
				zap.String("prefixed", prefixed),
				zap.String("backend", backendName))
			renamed := *tool
			renamed.Name = prefixed
			c.tools[prefixed] = entry{tool: &renamed, backend: backendName}
			continue
		}
		c.tools[name] = entry{tool: tool, backend: backendName}
	}
}

// AllTools returns every registered tool definition, sorted by name for
// stable tools/list output.
func (c *Catalog) AllTools() []*mcp.Tool {
	out := make([]*mcp.Tool, 0, len(c.tools))
	for _, e := range c.tools {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Route returns the backend owning the named tool. This is the single
// authoritative routing decision for tools/call.
func (c *Catalog) Route(toolName string) (string, bool) {
	e, ok := c.tools[toolName]
	if !ok {
		return "", false
	}
	return e.backend, true
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int { return len(c.tools) }
