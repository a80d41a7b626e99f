package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerDisabled(t *testing.T) {
	assert.Nil(t, NewManager(nil))
	assert.Nil(t, NewManager(&Config{Enabled: false}))

	// Nil manager must be safe to use.
	var m *Manager
	m.InvalidateAll()
	mw := m.HierarchyMiddleware()
	require.NotNil(t, mw)

	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, 1, calls)
}

func TestManagerInvalidateAll(t *testing.T) {
	m := NewManager(&Config{Enabled: true, HierarchyTTL: time.Minute, MaxSize: 10})
	require.NotNil(t, m)

	calls := 0
	handler := m.HierarchyMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/contents/c1/hierarchy", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 1, calls, "second read served from cache")

	m.InvalidateAll()
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 2, calls, "invalidation forces a fresh read")
}
