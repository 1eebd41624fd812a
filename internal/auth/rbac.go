// Package auth establishes the session caller identity (JWT) and answers
// role-based authorization questions for tools.
package auth

import (
	"slices"

	"github.com/fyrsmithlabs/sentineld/internal/config"
)

// Permission is the access level required for an operation on a tool.
type Permission int

const (
	// PermissionRead gates tools/list visibility.
	PermissionRead Permission = iota
	// PermissionExecute gates tools/call.
	PermissionExecute
)

// String returns the permission string as it appears in role configuration.
func (p Permission) String() string {
	if p == PermissionExecute {
		return "tools.execute"
	}
	return "tools.read"
}

// IsToolAllowed decides whether a role may access a tool at the given
// permission level.
//
// Order matters: an unknown role is denied; the role's denylist overrides
// everything, including the "*" wildcard; then the wildcard, the exact
// permission string, and finally the execute-implies-read rule.
func IsToolAllowed(role, toolName string, perm Permission, rbac *config.RBACConfig) bool {
	roleCfg, ok := rbac.Roles[role]
	if !ok {
		return false
	}

	if slices.Contains(roleCfg.DeniedTools, toolName) {
		return false
	}

	if slices.Contains(roleCfg.Permissions, "*") {
		return true
	}

	if slices.Contains(roleCfg.Permissions, perm.String()) {
		return true
	}

	// tools.execute implies tools.read
	if perm == PermissionRead && slices.Contains(roleCfg.Permissions, PermissionExecute.String()) {
		return true
	}

	return false
}
