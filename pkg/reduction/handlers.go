package reduction

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tabulahq/reducer/pkg/authz"
	"github.com/tabulahq/reducer/pkg/fault"
	"github.com/tabulahq/reducer/pkg/hierarchy"
	"github.com/tabulahq/reducer/pkg/selection"
)

// CreateGroupHandler handles POST /groups
func CreateGroupHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ContentItemID string `json:"contentItemId"`
			Name          string `json:"name"`
			IsMaster      bool   `json:"isMaster"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.ContentItemID == "" {
			writeError(w, http.StatusBadRequest, "missing contentItemId")
			return
		}

		group, err := svc.CreateGroup(req.ContentItemID, req.Name, req.IsMaster)
		if err != nil {
			writeFault(w, err, "failed to create group")
			return
		}
		writeJSON(w, http.StatusCreated, groupToResponse(group))
	}
}

// GetGroupHandler handles GET /groups/{groupId}
func GetGroupHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if groupID == "" {
			writeError(w, http.StatusBadRequest, "missing group ID")
			return
		}

		group, err := svc.Groups().Get(groupID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get group: %v", err))
			return
		}
		if group == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("group %q not found", groupID))
			return
		}
		writeJSON(w, http.StatusOK, groupToResponse(group))
	}
}

// ListGroupsHandler handles GET /groups?contentItemId=
func ListGroupsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := r.URL.Query().Get("contentItemId")
		if itemID == "" {
			writeError(w, http.StatusBadRequest, "missing contentItemId query parameter")
			return
		}

		records, err := svc.Groups().ListByItem(itemID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list groups: %v", err))
			return
		}

		groups := make([]groupResponse, len(records))
		for i := range records {
			groups[i] = groupToResponse(&records[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	}
}

// DeleteGroupHandler handles DELETE /groups/{groupId}
func DeleteGroupHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if groupID == "" {
			writeError(w, http.StatusBadRequest, "missing group ID")
			return
		}

		if err := svc.DeleteGroup(groupID); err != nil {
			writeFault(w, err, "failed to delete group")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// UpdateSelectionsHandler handles PUT /groups/{groupId}/selections
func UpdateSelectionsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if groupID == "" {
			writeError(w, http.StatusBadRequest, "missing group ID")
			return
		}

		var req struct {
			ToMaster bool     `json:"toMaster"`
			ValueIDs []string `json:"valueIds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.ToMaster && len(req.ValueIDs) > 0 {
			writeError(w, http.StatusBadRequest, "toMaster and valueIds are mutually exclusive")
			return
		}

		group, task, err := svc.UpdateSelections(groupID, req.ToMaster, req.ValueIDs, requestUser(r))
		if err != nil {
			writeFault(w, err, "failed to update selections")
			return
		}

		resp := map[string]any{"group": groupToResponse(group)}
		if task != nil {
			resp["task"] = taskToResponse(task)
		}
		status := http.StatusAccepted
		if task == nil {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	}
}

// SelectionPreviewHandler handles GET /groups/{groupId}/selections
// Query params add and remove (repeatable) preview a changed selection
// against the hierarchy without persisting anything.
func SelectionPreviewHandler(svc *Service, hierSvc *hierarchy.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if groupID == "" {
			writeError(w, http.StatusBadRequest, "missing group ID")
			return
		}

		group, err := svc.Groups().Get(groupID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get group: %v", err))
			return
		}
		if group == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("group %q not found", groupID))
			return
		}

		add := r.URL.Query()["add"]
		remove := r.URL.Query()["remove"]

		view, err := hierSvc.SelectionView(group.ContentItemID, group.SelectedValueIDs, add, remove)
		if err != nil {
			writeFault(w, err, "failed to build selection view")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"group":     groupToResponse(group),
			"hierarchy": view,
		})
	}
}

// CancelReductionHandler handles POST /groups/{groupId}/selections:cancel
func CancelReductionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if groupID == "" {
			writeError(w, http.StatusBadRequest, "missing group ID")
			return
		}

		task, err := svc.CancelReduction(groupID, fmt.Sprintf("canceled by %s", requestUser(r)))
		if err != nil {
			writeFault(w, err, "failed to cancel reduction")
			return
		}
		writeJSON(w, http.StatusOK, taskToResponse(task))
	}
}

// CancelTaskHandler handles POST /tasks/{taskId}:cancel
func CancelTaskHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskId")
		if taskID == "" {
			writeError(w, http.StatusBadRequest, "missing task ID")
			return
		}

		task, err := svc.CancelTask(taskID, fmt.Sprintf("canceled by %s", requestUser(r)))
		if err != nil {
			writeFault(w, err, "failed to cancel task")
			return
		}
		writeJSON(w, http.StatusOK, taskToResponse(task))
	}
}

// SuspendGroupHandler handles POST /groups/{groupId}:suspend and :resume.
func SuspendGroupHandler(svc *Service, suspended bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if groupID == "" {
			writeError(w, http.StatusBadRequest, "missing group ID")
			return
		}

		if err := svc.SetSuspended(groupID, suspended); err != nil {
			writeFault(w, err, "failed to update suspension")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"groupId":     groupID,
			"isSuspended": suspended,
		})
	}
}

// AcknowledgeHandler handles POST /groups/{groupId}/acknowledgments
func AcknowledgeHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if groupID == "" {
			writeError(w, http.StatusBadRequest, "missing group ID")
			return
		}
		userID := requestUser(r)
		if userID == "" {
			writeError(w, http.StatusBadRequest, "missing user identity")
			return
		}

		group, err := svc.Groups().Get(groupID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get group: %v", err))
			return
		}
		if group == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("group %q not found", groupID))
			return
		}

		if err := svc.Groups().Acknowledge(groupID, userID); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to record acknowledgment: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"groupId": groupID,
			"userId":  userID,
		})
	}
}

// ListAcknowledgmentsHandler handles GET /groups/{groupId}/acknowledgments
func ListAcknowledgmentsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if groupID == "" {
			writeError(w, http.StatusBadRequest, "missing group ID")
			return
		}

		users, err := svc.Groups().AcknowledgedUsers(groupID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list acknowledgments: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"userIds": users})
	}
}

// GetTaskHandler handles GET /tasks/{taskId}
func GetTaskHandler(store *TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskId")
		if taskID == "" {
			writeError(w, http.StatusBadRequest, "missing task ID")
			return
		}

		task, err := store.Get(taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get task: %v", err))
			return
		}
		if task == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("task %q not found", taskID))
			return
		}
		writeJSON(w, http.StatusOK, taskToResponse(task))
	}
}

// ListTasksHandler handles GET /tasks
// Query params: groupId, contentItemId, status, publicationRequestId, pageSize, pageToken
func ListTasksHandler(store *TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := TaskListFilter{
			GroupID:              r.URL.Query().Get("groupId"),
			ContentItemID:        r.URL.Query().Get("contentItemId"),
			Status:               r.URL.Query().Get("status"),
			PublicationRequestID: r.URL.Query().Get("publicationRequestId"),
		}

		pageSize := 20
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := r.URL.Query().Get("pageToken")

		records, nextToken, total, err := store.List(filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list tasks: %v", err))
			return
		}

		tasks := make([]taskResponse, len(records))
		for i := range records {
			tasks[i] = taskToResponse(&records[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tasks":         tasks,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// groupResponse is the API response for a selection group.
type groupResponse struct {
	ID                 string   `json:"id"`
	ContentItemID      string   `json:"contentItemId"`
	Name               string   `json:"name"`
	IsMaster           bool     `json:"isMaster"`
	SelectedValueIDs   []string `json:"selectedValueIds"`
	ContentInstanceURL string   `json:"contentInstanceUrl,omitempty"`
	IsSuspended        bool     `json:"isSuspended"`
	CreatedAt          string   `json:"createdAt"`
	UpdatedAt          string   `json:"updatedAt"`
}

func groupToResponse(g *selection.SelectionGroup) groupResponse {
	values := g.SelectedValueIDs
	if values == nil {
		values = []string{}
	}
	return groupResponse{
		ID:                 g.ID,
		ContentItemID:      g.ContentItemID,
		Name:               g.Name,
		IsMaster:           g.IsMaster,
		SelectedValueIDs:   values,
		ContentInstanceURL: g.ContentInstanceURL,
		IsSuspended:        g.IsSuspended,
		CreatedAt:          g.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          g.UpdatedAt.Format(time.RFC3339),
	}
}

// taskResponse is the API response for a reduction task.
type taskResponse struct {
	ID                   string   `json:"id"`
	SelectionGroupID     string   `json:"selectionGroupId"`
	ContentItemID        string   `json:"contentItemId"`
	IsMaster             bool     `json:"isMaster"`
	ValueIDs             []string `json:"valueIds,omitempty"`
	Status               string   `json:"status"`
	StatusMessage        string   `json:"statusMessage,omitempty"`
	OutcomeCode          string   `json:"outcomeCode,omitempty"`
	OutputPath           string   `json:"outputPath,omitempty"`
	PublicationRequestID string   `json:"publicationRequestId,omitempty"`
	RequestedBy          string   `json:"requestedBy,omitempty"`
	CreatedAt            string   `json:"createdAt"`
	StartedAt            string   `json:"startedAt,omitempty"`
	FinishedAt           string   `json:"finishedAt,omitempty"`
	DurationMs           int64    `json:"durationMs,omitempty"`
}

func taskToResponse(task *Task) taskResponse {
	resp := taskResponse{
		ID:                   task.ID,
		SelectionGroupID:     task.SelectionGroupID,
		ContentItemID:        task.ContentItemID,
		IsMaster:             task.SelectionCriteria.IsMaster,
		ValueIDs:             task.SelectionCriteria.ValueIDs,
		Status:               string(task.Status),
		StatusMessage:        task.StatusMessage,
		OutcomeCode:          task.OutcomeCode,
		OutputPath:           task.OutputPath,
		PublicationRequestID: task.PublicationRequestID,
		RequestedBy:          task.RequestedBy,
		CreatedAt:            task.CreatedAt.Format(time.RFC3339),
		DurationMs:           task.DurationMs,
	}
	if task.StartedAt != nil {
		resp.StartedAt = task.StartedAt.Format(time.RFC3339)
	}
	if task.FinishedAt != nil {
		resp.FinishedAt = task.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// requestUser reads the caller identity the auth middleware stored in the
// request context. Works for both header and JWT identity modes.
func requestUser(r *http.Request) string {
	if id, ok := authz.IdentityFromContext(r.Context()); ok {
		return id.User
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFault maps service errors onto HTTP statuses using the failure code
// they carry; errors without a code become 500s.
func writeFault(w http.ResponseWriter, err error, context string) {
	code := fault.CodeOf(err)
	if code == "" {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", context, err))
		return
	}
	writeJSON(w, fault.HTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": err.Error(),
	})
}
