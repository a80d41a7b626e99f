package hierarchy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tabulahq/reducer/pkg/fault"
)

// ListContentsHandler handles GET /contents
func ListContentsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := store.ListItems()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list content items: %v", err))
			return
		}

		contents := make([]contentResponse, len(items))
		for i := range items {
			contents[i] = contentToResponse(&items[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"contents": contents})
	}
}

// GetContentHandler handles GET /contents/{contentId}
func GetContentHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentID := chi.URLParam(r, "contentId")
		if contentID == "" {
			writeError(w, http.StatusBadRequest, "missing content ID")
			return
		}

		item, err := store.GetItem(contentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get content item: %v", err))
			return
		}
		if item == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("content item %q not found", contentID))
			return
		}
		writeJSON(w, http.StatusOK, contentToResponse(item))
	}
}

// GetHierarchyHandler handles GET /contents/{contentId}/hierarchy
func GetHierarchyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentID := chi.URLParam(r, "contentId")
		if contentID == "" {
			writeError(w, http.StatusBadRequest, "missing content ID")
			return
		}

		view, err := svc.GetHierarchy(contentID)
		if err != nil {
			writeFault(w, err, "failed to get hierarchy")
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// contentResponse is the API response for a content item.
type contentResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ClientID       string `json:"clientId,omitempty"`
	MasterPath     string `json:"masterPath"`
	MasterChecksum string `json:"masterChecksum"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

func contentToResponse(item *ContentItem) contentResponse {
	return contentResponse{
		ID:             item.ID,
		Name:           item.Name,
		ClientID:       item.ClientID,
		MasterPath:     item.MasterPath,
		MasterChecksum: item.MasterChecksum,
		CreatedAt:      item.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      item.UpdatedAt.Format(time.RFC3339),
	}
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
