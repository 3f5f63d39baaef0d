package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/api/handlers"
)

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//
// Routes:
//   - POST /v1/locks/acquire   - acquire a lock (long poll until grant/timeout)
//   - POST /v1/locks/release   - release one hold
//   - POST /v1/locks/heartbeat - refresh a lease
//   - GET  /v1/locks/status    - queue snapshot
//   - GET  /v1/locks/audit     - audit log tail (newest first)
//   - GET  /health             - liveness probe
//   - GET  /health/ready       - readiness probe
//
// The acquire route carries no server-side timeout middleware: the
// broker bounds the wait with the client-supplied acquire timeout, and a
// shorter HTTP timeout would cut long-queued acquires off early.
func NewRouter(svc handlers.LockService) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	lockHandler := handlers.NewLockHandler(svc)
	healthHandler := handlers.NewHealthHandler(svc)

	r.Route("/v1/locks", func(r chi.Router) {
		r.Post("/acquire", lockHandler.Acquire)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/release", lockHandler.Release)
			r.Post("/heartbeat", lockHandler.Heartbeat)
			r.Get("/status", lockHandler.Status)
			r.Get("/audit", lockHandler.Audit)
		})
	})

	r.Route("/health", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the
// internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (DEBUG level): method, path, status, duration
//
// Completion is DEBUG rather than INFO: every FUSE callback produces a
// broker request, and heartbeats alone would flood an INFO log.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
