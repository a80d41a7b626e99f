package audit

import (
	"net/http"
	"strings"
)

// resourceSegments are the path segments that name auditable resources.
var resourceSegments = map[string]string{
	"groups":       "group",
	"publications": "publication",
	"tasks":        "task",
	"contents":     "content",
}

// isMutatingRequest reports whether a request should be audited. Reads are
// not recorded; every write to the API is.
func isMutatingRequest(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// extractResource maps a URL path to the resource type and ID it addresses.
// Paths look like /api/reduction/v1alpha1/groups/{id}/selections or
// /api/reduction/v1alpha1/publications/{id}:cancel.
func extractResource(path string) (resourceType, resourceID string) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		rt, ok := resourceSegments[p]
		if !ok {
			continue
		}
		resourceType = rt
		if i+1 < len(parts) {
			id := parts[i+1]
			// Strip action suffixes like "g1:suspend".
			if colonIdx := strings.Index(id, ":"); colonIdx > 0 {
				id = id[:colonIdx]
			}
			resourceID = id
		}
		// Keep scanning: /groups/{id}/acknowledgments should report the
		// innermost resource, which a later segment may refine.
	}
	return resourceType, resourceID
}

// extractAction returns a human-readable action name from the HTTP method
// and path.
func extractAction(method, path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")

	for _, p := range parts {
		if colonIdx := strings.Index(p, ":"); colonIdx > 0 {
			return p[colonIdx+1:]
		}
	}

	last := ""
	if len(parts) > 0 {
		last = parts[len(parts)-1]
	}

	switch method {
	case http.MethodDelete:
		return "delete"
	case http.MethodPut:
		return "update-" + singular(last)
	case http.MethodPost, http.MethodPatch:
		if _, ok := resourceSegments[last]; ok {
			return "create-" + singular(last)
		}
		return "update-" + singular(last)
	}
	return strings.ToLower(method)
}

func singular(segment string) string {
	if s, ok := resourceSegments[segment]; ok {
		return s
	}
	return strings.TrimSuffix(segment, "s")
}

// outcomeFromStatus maps an HTTP status code to an audit outcome.
func outcomeFromStatus(status int) string {
	switch {
	case status == http.StatusForbidden:
		return OutcomeDenied
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status >= 400 && status < 500:
		return OutcomeRejected
	default:
		return OutcomeFailure
	}
}
