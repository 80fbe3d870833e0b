package server

import (
	"net/http"
	"strings"
)

// setupHTTPRoutes configures all HTTP handlers on the server's own mux so
// multiple servers can coexist in one process (and in tests).
func (s *HubServer) setupHTTPRoutes() {
	s.mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket)) // Job watch protocol (applicants_update pushes)
	s.mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))

	s.mux.HandleFunc("POST /api/jobs", s.corsMiddleware(s.HandleCreateJob))
	s.mux.HandleFunc("GET /api/jobs/{id}", s.corsMiddleware(s.HandleGetJob))
	s.mux.HandleFunc("DELETE /api/jobs/{id}", s.corsMiddleware(s.HandleDeleteJob))
	s.mux.HandleFunc("GET /api/jobs/{id}/applicants", s.corsMiddleware(s.HandleJobApplicants))

	// Lifecycle transitions
	s.mux.HandleFunc("POST /api/jobs/{id}/apply", s.corsMiddleware(s.HandleApply))
	s.mux.HandleFunc("POST /api/jobs/{id}/unapply", s.corsMiddleware(s.HandleUnapply))
	s.mux.HandleFunc("POST /api/jobs/{id}/accept", s.corsMiddleware(s.HandleAccept))
	s.mux.HandleFunc("POST /api/jobs/{id}/finish", s.corsMiddleware(s.HandleFinish))
	s.mux.HandleFunc("POST /api/jobs/{id}/rate", s.corsMiddleware(s.HandleRate))

	// Role-scoped listings
	s.mux.HandleFunc("GET /api/users/{id}/jobs/available", s.corsMiddleware(s.HandleAvailableJobs))
	s.mux.HandleFunc("GET /api/users/{id}/jobs/taken", s.corsMiddleware(s.HandleTakenJobs))
	s.mux.HandleFunc("GET /api/users/{id}/jobs/previous", s.corsMiddleware(s.HandlePreviousJobs))
	s.mux.HandleFunc("GET /api/users/{id}/jobs/by-date", s.corsMiddleware(s.HandleJobsByDate))
	s.mux.HandleFunc("GET /api/users/{id}/jobs/suggested", s.corsMiddleware(s.HandleSuggestedJobs))

	s.mux.HandleFunc("POST /api/users", s.corsMiddleware(s.HandleCreateUser))
	s.mux.HandleFunc("GET /api/users/{id}", s.corsMiddleware(s.HandleGetUser))
	s.mux.HandleFunc("PUT /api/users/{id}/preferred-fields", s.corsMiddleware(s.HandlePreferredFields))

	s.mux.HandleFunc("POST /api/files/{key...}", s.corsMiddleware(s.HandleFileUpload))
	s.mux.HandleFunc("GET /files/{key...}", s.corsMiddleware(s.HandleFileDownload))
}

// corsMiddleware adds CORS headers to HTTP responses using configured
// allowed origins, and resolves the acting user from the request headers.
func (s *HubServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, withActor(r))
	}
}

// checkOrigin validates an Origin header against configured allowed origins.
// Prefix matching allows any port number. Requests with no Origin header
// (direct clients, tests) are allowed.
func (s *HubServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.allowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}
