package cache

import "net/http"

// Manager holds the hierarchy response cache and provides invalidation for
// registry reloads. Hierarchy reads are hot during selection editing and
// change only when the registry file changes, so a short TTL backed by
// reload invalidation keeps responses fresh without hitting the database on
// every poll.
type Manager struct {
	hierarchy *LRUCache
}

// NewManager creates a Manager from the given configuration.
// If cfg is nil or disabled, it returns nil; a nil Manager is a no-op.
func NewManager(cfg *Config) *Manager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &Manager{
		hierarchy: NewLRUCache(cfg.MaxSize, cfg.HierarchyTTL),
	}
}

// InvalidateAll clears the hierarchy cache. Called after every registry sync;
// a sync may touch any number of items, so targeted invalidation buys nothing.
func (m *Manager) InvalidateAll() {
	if m == nil {
		return
	}
	m.hierarchy.InvalidateAll()
}

// HierarchyMiddleware returns HTTP middleware that caches hierarchy read
// responses. A nil Manager returns a pass-through.
func (m *Manager) HierarchyMiddleware() func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return Middleware(m.hierarchy)
}
