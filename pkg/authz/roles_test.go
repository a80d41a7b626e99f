package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleAuthorizerReadsOpenToAll(t *testing.T) {
	a := NewRoleAuthorizer()

	for _, verb := range []string{VerbGet, VerbList} {
		allowed, err := a.Authorize(context.Background(), Request{
			User:     "alice",
			Resource: ResourceGroups,
			Verb:     verb,
		})
		require.NoError(t, err)
		assert.True(t, allowed, "verb %s should be open", verb)
	}
}

func TestRoleAuthorizerMutationsRequireOperator(t *testing.T) {
	a := NewRoleAuthorizer()

	allowed, err := a.Authorize(context.Background(), Request{
		User:     "alice",
		Groups:   []string{"viewer"},
		Resource: ResourceGroups,
		Verb:     VerbUpdate,
	})
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = a.Authorize(context.Background(), Request{
		User:     "bob",
		Groups:   []string{"Operator"},
		Resource: ResourceGroups,
		Verb:     VerbUpdate,
	})
	require.NoError(t, err)
	assert.True(t, allowed, "role match is case-insensitive")
}

func TestRoleAuthorizerCustomOperatorRole(t *testing.T) {
	a := &RoleAuthorizer{OperatorRole: "content-admin"}

	allowed, err := a.Authorize(context.Background(), Request{
		User:     "carol",
		Groups:   []string{"content-admin"},
		Resource: ResourcePublications,
		Verb:     VerbCreate,
	})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = a.Authorize(context.Background(), Request{
		User:     "dan",
		Groups:   []string{"operator"},
		Resource: ResourcePublications,
		Verb:     VerbCreate,
	})
	require.NoError(t, err)
	assert.False(t, allowed, "default operator role no longer grants access")
}
