// Package authz provides authorization primitives for the reducer server.
// It supports role-based authorization driven by JWT Bearer tokens and a
// no-op mode for development.
package authz

import "context"

// Resource names for permission mapping.
const (
	ResourceGroups       = "groups"
	ResourcePublications = "publications"
	ResourceReductions   = "reductions"
	ResourceHierarchy    = "hierarchy"
	ResourceAudit        = "audit"
)

// Verb names for permission mapping.
const (
	VerbGet    = "get"
	VerbList   = "list"
	VerbCreate = "create"
	VerbUpdate = "update"
	VerbDelete = "delete"
)

// Request represents an authorization check.
type Request struct {
	User     string
	Groups   []string
	Resource string
	Verb     string
	ClientID string // Empty for unscoped checks.
}

// Authorizer checks whether a user is authorized to perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req Request) (bool, error)
}
