package reduction

import (
	"github.com/go-chi/chi/v5"

	"github.com/tabulahq/reducer/pkg/authz"
	"github.com/tabulahq/reducer/pkg/hierarchy"
)

// Routes registers the selection group and reduction task API on r.
// When authorizer is non-nil, group mutations require groups:* permissions and
// task reads require reductions:get/list.
func Routes(r chi.Router, svc *Service, hierSvc *hierarchy.Service, authorizer authz.Authorizer) {
	createGroup := CreateGroupHandler(svc)
	listGroups := ListGroupsHandler(svc)
	getGroup := GetGroupHandler(svc)
	deleteGroup := DeleteGroupHandler(svc)
	preview := SelectionPreviewHandler(svc, hierSvc)
	updateSelections := UpdateSelectionsHandler(svc)
	cancelReduction := CancelReductionHandler(svc)
	suspend := SuspendGroupHandler(svc, true)
	resume := SuspendGroupHandler(svc, false)
	acknowledge := AcknowledgeHandler(svc)
	listAcks := ListAcknowledgmentsHandler(svc)
	listTasks := ListTasksHandler(svc.Tasks())
	getTask := GetTaskHandler(svc.Tasks())
	cancelTask := CancelTaskHandler(svc)

	if authorizer != nil {
		r.Post("/groups", authz.RequirePermission(authorizer, "groups", "create")(createGroup).ServeHTTP)
		r.Get("/groups", authz.RequirePermission(authorizer, "groups", "list")(listGroups).ServeHTTP)
		r.Get("/groups/{groupId}", authz.RequirePermission(authorizer, "groups", "get")(getGroup).ServeHTTP)
		r.Delete("/groups/{groupId}", authz.RequirePermission(authorizer, "groups", "delete")(deleteGroup).ServeHTTP)
		r.Get("/groups/{groupId}/selections", authz.RequirePermission(authorizer, "groups", "get")(preview).ServeHTTP)
		r.Put("/groups/{groupId}/selections", authz.RequirePermission(authorizer, "groups", "update")(updateSelections).ServeHTTP)
		r.Post("/groups/{groupId}/selections:cancel", authz.RequirePermission(authorizer, "groups", "update")(cancelReduction).ServeHTTP)
		r.Post("/groups/{groupId}:suspend", authz.RequirePermission(authorizer, "groups", "update")(suspend).ServeHTTP)
		r.Post("/groups/{groupId}:resume", authz.RequirePermission(authorizer, "groups", "update")(resume).ServeHTTP)
		r.Post("/groups/{groupId}/acknowledgments", authz.RequirePermission(authorizer, "groups", "get")(acknowledge).ServeHTTP)
		r.Get("/groups/{groupId}/acknowledgments", authz.RequirePermission(authorizer, "groups", "get")(listAcks).ServeHTTP)
		r.Get("/tasks", authz.RequirePermission(authorizer, "reductions", "list")(listTasks).ServeHTTP)
		r.Get("/tasks/{taskId}", authz.RequirePermission(authorizer, "reductions", "get")(getTask).ServeHTTP)
		r.Post("/tasks/{taskId}:cancel", authz.RequirePermission(authorizer, "reductions", "update")(cancelTask).ServeHTTP)
	} else {
		r.Post("/groups", createGroup)
		r.Get("/groups", listGroups)
		r.Get("/groups/{groupId}", getGroup)
		r.Delete("/groups/{groupId}", deleteGroup)
		r.Get("/groups/{groupId}/selections", preview)
		r.Put("/groups/{groupId}/selections", updateSelections)
		r.Post("/groups/{groupId}/selections:cancel", cancelReduction)
		r.Post("/groups/{groupId}:suspend", suspend)
		r.Post("/groups/{groupId}:resume", resume)
		r.Post("/groups/{groupId}/acknowledgments", acknowledge)
		r.Get("/groups/{groupId}/acknowledgments", listAcks)
		r.Get("/tasks", listTasks)
		r.Get("/tasks/{taskId}", getTask)
		r.Post("/tasks/{taskId}:cancel", cancelTask)
	}
}
