// -----------------------------------------------------------------------
// Last Modified: Thursday, 9th October 2025 8:53:55 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes.
//
// The API is mounted twice: once under the versioned /api/v1 prefix and
// once under the legacy /api prefix kept for clients that predate
// versioning. The legacy mount serves identical handlers but stamps
// Deprecation and Sunset headers on every response so callers can plan
// their migration.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Unversioned liveness probe for load balancers and orchestrators
	mux.HandleFunc("/healthz", s.app.HealthHandler.HandleHealthz)

	// Versioned API
	s.registerAPI(mux, "/api/v1", nil)

	// Legacy mount, same handlers with deprecation headers
	s.registerAPI(mux, "/api", s.legacyHeaders)

	// Catch-all for unmatched API paths
	mux.HandleFunc("/api/", s.app.HealthHandler.HandleNotFound)

	return mux
}

// registerAPI registers the API surface under the given prefix. When
// wrap is non-nil every handler is passed through it before
// registration, which is how the legacy mount gets its headers.
func (s *Server) registerAPI(mux *http.ServeMux, prefix string, wrap func(http.HandlerFunc) http.HandlerFunc) {
	register := func(pattern string, handler http.HandlerFunc) {
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.HandleFunc(prefix+pattern, handler)
	}

	// Search lifecycle
	register("/search", s.app.SearchHandler.HandleSearch)        // POST - submit a search
	register("/search/jobs", s.app.SearchHandler.HandleListJobs) // GET - list session jobs
	register("/search/", s.handleSearchJobRoutes(prefix))        // GET /{id}/result, POST /{id}/cancel

	// Assistant narration stream (SSE)
	register("/stream/assistant/", s.handleAssistantStream(prefix))

	// Photo proxy
	register("/photos/", s.handlePhotoRoutes(prefix))

	// WebSocket event feed
	register("/events/ws", s.app.WSHandler.HandleWebSocket)

	// Service health and build info
	register("/health", s.app.HealthHandler.HandleHealth)
	register("/version", s.app.HealthHandler.HandleVersion)
}

// legacyHeaders marks responses from the unversioned /api mount as
// deprecated per RFC 8594 so callers know to move to /api/v1.
func (s *Server) legacyHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Deprecation", "true")
		if s.legacySunset != "" {
			w.Header().Set("Sunset", s.legacySunset)
		}
		next(w, r)
	}
}

// handleSearchJobRoutes dispatches /search/{id}/result and
// /search/{id}/cancel. Method enforcement lives in the handlers
// themselves, so this only has to parse the path shape.
func (s *Server) handleSearchJobRoutes(prefix string) http.HandlerFunc {
	base := prefix + "/search/"
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, base)
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" {
			s.app.HealthHandler.HandleNotFound(w, r)
			return
		}

		requestID := parts[0]
		switch parts[1] {
		case "result":
			s.app.SearchHandler.HandleResult(w, r, requestID)
		case "cancel":
			s.app.SearchHandler.HandleCancel(w, r, requestID)
		default:
			s.app.HealthHandler.HandleNotFound(w, r)
		}
	}
}

// handleAssistantStream dispatches /stream/assistant/{id}.
func (s *Server) handleAssistantStream(prefix string) http.HandlerFunc {
	base := prefix + "/stream/assistant/"
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimPrefix(r.URL.Path, base)
		if requestID == "" || strings.Contains(requestID, "/") {
			s.app.HealthHandler.HandleNotFound(w, r)
			return
		}
		s.app.StreamHandler.StreamAssistant(w, r, requestID)
	}
}

// handlePhotoRoutes dispatches /photos/{photoRef}. Photo references
// contain slashes (places/{place}/photos/{photo}), so the whole suffix
// is handed to the handler for validation.
func (s *Server) handlePhotoRoutes(prefix string) http.HandlerFunc {
	base := prefix + "/photos/"
	return func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, base)
		if ref == "" {
			s.app.HealthHandler.HandleNotFound(w, r)
			return
		}
		s.app.PhotoHandler.HandlePhoto(w, r, ref)
	}
}
