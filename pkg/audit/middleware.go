package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tabulahq/reducer/pkg/authz"
	"github.com/tabulahq/reducer/pkg/tenancy"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Middleware records an audit event for every mutating API request after the
// handler completes. Reads are not audited.
func Middleware(store *Store, cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil || !isMutatingRequest(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(capture, r)

			outcome := outcomeFromStatus(capture.statusCode)
			if outcome == OutcomeDenied && !cfg.LogDenied {
				return
			}

			id, _ := authz.IdentityFromContext(r.Context())
			actor := id.User
			if actor == "" {
				actor = "anonymous"
			}

			resourceType, resourceID := extractResource(r.URL.Path)
			event := &Event{
				ID:           uuid.New().String(),
				ClientID:     tenancy.ClientIDFromContext(r.Context()),
				Actor:        actor,
				Action:       extractAction(r.Method, r.URL.Path),
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Outcome:      outcome,
				StatusCode:   capture.statusCode,
				RequestID:    middleware.GetReqID(r.Context()),
			}
			if event.ClientID == "" {
				event.ClientID = "default"
			}

			if err := store.Append(event); err != nil {
				logger.Error("failed to record audit event",
					"error", err, "action", event.Action, "actor", actor)
			}

			logger.Debug("audit event recorded",
				"action", event.Action,
				"actor", actor,
				"resource", resourceType,
				"resourceId", resourceID,
				"outcome", outcome,
				"durationMs", time.Since(startTime).Milliseconds())
		})
	}
}
