package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientContextRoundTrip(t *testing.T) {
	cc := ClientContext{ClientID: "acme", User: "alice", Groups: []string{"ops"}}
	ctx := WithClient(context.Background(), cc)

	got, ok := ClientFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, cc, got)
	assert.Equal(t, "acme", ClientIDFromContext(ctx))
}

func TestClientFromContextMissing(t *testing.T) {
	_, ok := ClientFromContext(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "", ClientIDFromContext(context.Background()))
}
