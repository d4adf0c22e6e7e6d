package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ZerkerEOD/krakenwifi/internal/auth"
	"github.com/ZerkerEOD/krakenwifi/internal/handlers/jobs"
	"github.com/ZerkerEOD/krakenwifi/internal/handlers/websocket"
	"github.com/ZerkerEOD/krakenwifi/internal/middleware"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

/*
 * Package routes wires the control API: job lifecycle endpoints, the event
 * stream and the health probe.
 */

const defaultAllowedOrigin = "http://localhost:3000"

/*
 * CORSMiddleware handles CORS headers for all requests.
 *
 * Configuration:
 *   - allowedOrigin comes from CORS_ALLOWED_ORIGIN
 *   - Falls back to http://localhost:3000 if empty
 *
 * Headers Set:
 *   - Access-Control-Allow-Origin
 *   - Access-Control-Allow-Methods
 *   - Access-Control-Allow-Headers
 *   - Access-Control-Allow-Credentials
 */
func CORSMiddleware(allowedOrigin string) mux.MiddlewareFunc {
	if allowedOrigin == "" {
		allowedOrigin = defaultAllowedOrigin
		debug.Warning("CORS_ALLOWED_ORIGIN not set, using default: %s", allowedOrigin)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				debug.Debug("Handling OPTIONS preflight request from origin: %s", r.Header.Get("Origin"))
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Options carries the handlers and settings SetupRoutes needs
type Options struct {
	Jobs          *jobs.JobHandler
	Events        *websocket.Handler
	Validator     auth.TokenValidator // nil leaves the API open
	AllowedOrigin string
}

/*
 * SetupRoutes configures all application routes and middleware.
 *
 * Route Groups:
 *   - Public Routes (/api/health)
 *   - Protected Routes (bearer token when a validator is configured)
 *     - Jobs (/api/jobs/...)
 *     - Event stream (/api/ws)
 *
 * Middleware Applied:
 *   - Request logging and CORS (all routes)
 *   - JWT authentication (protected routes)
 */
func SetupRoutes(r *mux.Router, opts Options) {
	debug.Info("Initializing route configuration")

	r.Use(middleware.RequestLogger)
	r.Use(CORSMiddleware(opts.AllowedOrigin))

	r.HandleFunc("/api/health", opts.Jobs.Health).Methods(http.MethodGet, http.MethodOptions)

	protected := r.PathPrefix("/api").Subrouter()
	if opts.Validator != nil {
		protected.Use(auth.JWTMiddleware(opts.Validator))
	} else {
		debug.Warning("No JWT secret configured, control API is unauthenticated")
	}

	h := opts.Jobs
	protected.HandleFunc("/jobs", h.SubmitJob).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	protected.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	protected.HandleFunc("/jobs/{id}/results", h.GetResults).Methods(http.MethodGet)
	protected.HandleFunc("/jobs/{id}/progress", h.GetProgress).Methods(http.MethodGet)
	protected.HandleFunc("/jobs/{id}/pause", h.PauseJob).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/jobs/{id}/resume", h.ResumeJob).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/jobs/{id}/stop", h.StopJob).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/jobs/{id}/restart", h.RestartJob).Methods(http.MethodPost, http.MethodOptions)

	if opts.Events != nil {
		protected.HandleFunc("/ws", opts.Events.ServeWS)
	}

	debug.Info("Route configuration completed successfully")
}
