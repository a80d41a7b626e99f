package publication

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tabulahq/reducer/pkg/authz"
	"github.com/tabulahq/reducer/pkg/fault"
)

// RequestPublicationHandler handles POST /publications
func RequestPublicationHandler(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ContentItemID string `json:"contentItemId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if body.ContentItemID == "" {
			writeError(w, http.StatusBadRequest, "missing contentItemId")
			return
		}

		req, tasks, err := c.RequestPublication(body.ContentItemID, requestUser(r))
		if err != nil {
			writeFault(w, err, "failed to request publication")
			return
		}

		taskIDs := make([]string, len(tasks))
		for i, t := range tasks {
			taskIDs[i] = t.ID
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"request": requestToResponse(req),
			"taskIds": taskIDs,
		})
	}
}

// GetPublicationHandler handles GET /publications/{requestId}
func GetPublicationHandler(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "requestId")
		if requestID == "" {
			writeError(w, http.StatusBadRequest, "missing request ID")
			return
		}

		snap, err := c.GetStatus(requestID)
		if err != nil {
			writeFault(w, err, "failed to get publication")
			return
		}

		tasks := make([]map[string]any, len(snap.Tasks))
		for i := range snap.Tasks {
			t := &snap.Tasks[i]
			tasks[i] = map[string]any{
				"id":               t.ID,
				"selectionGroupId": t.SelectionGroupID,
				"status":           string(t.Status),
				"statusMessage":    t.StatusMessage,
				"outcomeCode":      t.OutcomeCode,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"request": requestToResponse(snap.Request),
			"tasks":   tasks,
		})
	}
}

// CancelPublicationHandler handles POST /publications/{requestId}:cancel
func CancelPublicationHandler(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "requestId")
		if requestID == "" {
			writeError(w, http.StatusBadRequest, "missing request ID")
			return
		}

		req, err := c.CancelPublication(requestID, fmt.Sprintf("canceled by %s", requestUser(r)))
		if err != nil {
			writeFault(w, err, "failed to cancel publication")
			return
		}
		writeJSON(w, http.StatusOK, requestToResponse(req))
	}
}

// ItemStatusHandler handles GET /publications?contentItemId=
func ItemStatusHandler(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := r.URL.Query().Get("contentItemId")
		if itemID == "" {
			writeError(w, http.StatusBadRequest, "missing contentItemId query parameter")
			return
		}

		active, history, err := c.ItemStatus(itemID)
		if err != nil {
			writeFault(w, err, "failed to get publication status")
			return
		}

		resp := map[string]any{"requests": requestsToResponse(history)}
		if active != nil {
			resp["active"] = requestToResponse(active)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ContentStatusHandler handles GET /contents/{contentId}/status. It serves
// the go-live status for a content item so operator UIs can poll a single
// stable URL per item.
func ContentStatusHandler(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := chi.URLParam(r, "contentId")

		active, history, err := c.ItemStatus(itemID)
		if err != nil {
			writeFault(w, err, "failed to get content status")
			return
		}
		groups, err := c.GroupStatuses(itemID)
		if err != nil {
			writeFault(w, err, "failed to get content status")
			return
		}

		groupStatuses := make([]map[string]any, len(groups))
		for i := range groups {
			g := &groups[i].Group
			entry := map[string]any{
				"groupId":            g.ID,
				"name":               g.Name,
				"isMaster":           g.IsMaster,
				"isSuspended":        g.IsSuspended,
				"selectedValueIds":   g.SelectedValueIDs,
				"contentInstanceUrl": g.ContentInstanceURL,
			}
			if latest := groups[i].LatestTask; latest != nil {
				entry["latestTask"] = map[string]any{
					"id":          latest.ID,
					"status":      string(latest.Status),
					"outcomeCode": latest.OutcomeCode,
				}
			}
			groupStatuses[i] = entry
		}

		resp := map[string]any{
			"contentItemId": itemID,
			"requests":      requestsToResponse(history),
			"groups":        groupStatuses,
		}
		if active != nil {
			resp["active"] = requestToResponse(active)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// requestResponse is the API response for a publication request.
type requestResponse struct {
	ID            string `json:"id"`
	ContentItemID string `json:"contentItemId"`
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`
	RequestedBy   string `json:"requestedBy,omitempty"`
	TaskCount     int    `json:"taskCount"`
	CreatedAt     string `json:"createdAt"`
	FinishedAt    string `json:"finishedAt,omitempty"`
}

func requestToResponse(req *Request) requestResponse {
	resp := requestResponse{
		ID:            req.ID,
		ContentItemID: req.ContentItemID,
		Status:        string(req.Status),
		StatusMessage: req.StatusMessage,
		RequestedBy:   req.RequestedBy,
		TaskCount:     req.TaskCount,
		CreatedAt:     req.CreatedAt.Format(time.RFC3339),
	}
	if req.FinishedAt != nil {
		resp.FinishedAt = req.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func requestsToResponse(reqs []Request) []requestResponse {
	out := make([]requestResponse, len(reqs))
	for i := range reqs {
		out[i] = requestToResponse(&reqs[i])
	}
	return out
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
