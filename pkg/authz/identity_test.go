package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityMiddlewareHeaders(t *testing.T) {
	var got Identity
	handler := IdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Remote-User", "alice")
	req.Header.Set("X-Remote-Group", "operator, viewer")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "alice", got.User)
	assert.Equal(t, []string{"operator", "viewer"}, got.Groups)
}

func TestIdentityMiddlewareAnonymousDefault(t *testing.T) {
	var got Identity
	handler := IdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "anonymous", got.User)
	assert.Empty(t, got.Groups)
}

func TestIdentityMiddlewareEmptyGroupEntries(t *testing.T) {
	var got Identity
	handler := IdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Remote-User", "bob")
	req.Header.Set("X-Remote-Group", "ops,, ,viewer")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, []string{"ops", "viewer"}, got.Groups)
}
