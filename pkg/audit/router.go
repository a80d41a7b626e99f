package audit

import (
	"github.com/go-chi/chi/v5"

	"github.com/tabulahq/reducer/pkg/authz"
)

// Routes registers the audit read API on r. When authorizer is non-nil,
// endpoints require audit:list and audit:get permissions.
func Routes(r chi.Router, store *Store, authorizer authz.Authorizer) {
	list := ListEventsHandler(store)
	get := GetEventHandler(store)

	if authorizer != nil {
		r.Get("/events", authz.RequirePermission(authorizer, "audit", "list")(list).ServeHTTP)
		r.Get("/events/{eventId}", authz.RequirePermission(authorizer, "audit", "get")(get).ServeHTTP)
	} else {
		r.Get("/events", list)
		r.Get("/events/{eventId}", get)
	}
}
