package authz

import (
	"context"
	"strings"
)

// Default role names. Viewers read; operators mutate.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// RoleAuthorizer authorizes based on role membership carried in the
// identity's groups. Read verbs are open to every authenticated identity;
// mutating verbs require the operator role.
type RoleAuthorizer struct {
	// OperatorRole is the group name granting mutation rights.
	// Default "operator".
	OperatorRole string
}

// NewRoleAuthorizer creates a RoleAuthorizer with the default role names.
func NewRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{OperatorRole: RoleOperator}
}

// Authorize implements Authorizer.
func (a *RoleAuthorizer) Authorize(_ context.Context, req Request) (bool, error) {
	switch req.Verb {
	case VerbGet, VerbList:
		return true, nil
	}

	operator := a.OperatorRole
	if operator == "" {
		operator = RoleOperator
	}
	for _, g := range req.Groups {
		if strings.EqualFold(g, operator) {
			return true, nil
		}
	}
	return false, nil
}
