package publication

import (
	"github.com/go-chi/chi/v5"

	"github.com/tabulahq/reducer/pkg/authz"
)

// Routes registers the publication API on r. When authorizer is non-nil,
// mutations require publications:create/update permissions.
func Routes(r chi.Router, c *Coordinator, authorizer authz.Authorizer) {
	request := RequestPublicationHandler(c)
	itemStatus := ItemStatusHandler(c)
	get := GetPublicationHandler(c)
	cancel := CancelPublicationHandler(c)

	if authorizer != nil {
		r.Post("/publications", authz.RequirePermission(authorizer, "publications", "create")(request).ServeHTTP)
		r.Get("/publications", authz.RequirePermission(authorizer, "publications", "list")(itemStatus).ServeHTTP)
		r.Get("/publications/{requestId}", authz.RequirePermission(authorizer, "publications", "get")(get).ServeHTTP)
		r.Post("/publications/{requestId}:cancel", authz.RequirePermission(authorizer, "publications", "update")(cancel).ServeHTTP)
	} else {
		r.Post("/publications", request)
		r.Get("/publications", itemStatus)
		r.Get("/publications/{requestId}", get)
		r.Post("/publications/{requestId}:cancel", cancel)
	}
}
