// Package validation pre-compiles JSON-Schema validators for every tool in
// the catalog and checks tools/call arguments against them.
package validation

import (
	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/catalog"
)

// SchemaCache holds one resolved validator per tool. Built once from the
// finalized catalog; read-only afterwards.
type SchemaCache struct {
	validators map[string]*jsonschema.Resolved
}

// NewSchemaCache compiles the input schema of every catalog tool. Tools
// whose schema fails to resolve are skipped: validation becomes a no-op for
// them rather than blocking the tool.
func NewSchemaCache(cat *catalog.Catalog, logger *zap.Logger) *SchemaCache {
	validators := make(map[string]*jsonschema.Resolved)

	for _, tool := range cat.AllTools() {
		if tool.InputSchema == nil {
			continue
		}
		schema, ok := tool.InputSchema.(*jsonschema.Schema)
		if !ok {
			continue
		}
		resolved, err := schema.Resolve(nil)
		if err != nil {
			logger.Warn("failed to compile tool input schema, skipping validation",
				zap.String("tool", tool.Name),
				zap.Error(err))
			continue
		}
		validators[tool.Name] = resolved
	}

	return &SchemaCache{validators: validators}
}

// Validate checks arguments against the named tool's compiled schema.
// A nil return means the arguments are valid. Unknown tools validate
// trivially: existence is enforced by routing, not here.
func (s *SchemaCache) Validate(toolName string, arguments any) []string {
	resolved, ok := s.validators[toolName]
	if !ok {
		return nil
	}
	if err := resolved.Validate(arguments); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// Len returns the number of compiled validators.
func (s *SchemaCache) Len() int { return len(s.validators) }
