package hierarchy

import (
	"github.com/go-chi/chi/v5"

	"github.com/tabulahq/reducer/pkg/authz"
)

// Routes registers the content hierarchy read API on r.
func Routes(r chi.Router, svc *Service, store *Store, authorizer authz.Authorizer) {
	list := ListContentsHandler(store)
	get := GetContentHandler(store)
	tree := GetHierarchyHandler(svc)

	if authorizer != nil {
		r.Get("/contents", authz.RequirePermission(authorizer, "hierarchy", "list")(list).ServeHTTP)
		r.Get("/contents/{contentId}", authz.RequirePermission(authorizer, "hierarchy", "get")(get).ServeHTTP)
		r.Get("/contents/{contentId}/hierarchy", authz.RequirePermission(authorizer, "hierarchy", "get")(tree).ServeHTTP)
	} else {
		r.Get("/contents", list)
		r.Get("/contents/{contentId}", get)
		r.Get("/contents/{contentId}/hierarchy", tree)
	}
}
