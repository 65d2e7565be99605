package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/pkg/api/handlers"
	"github.com/stagelink/x32mgr/pkg/metrics"
)

// transferTimeout bounds the bulk transfer routes. A full console backup
// sweeps a few thousand parameters and can legitimately take minutes on a
// lossy link.
const transferTimeout = 10 * time.Minute

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Session and console status
//   - GET /scenes - Merged scene catalog (console slots + local files)
//   - POST /scenes - Save a header-only scene file
//   - GET /scenes/{id} - One catalog entry
//   - DELETE /scenes/{id} - Delete a local scene file
//   - POST /scenes/{id}/load - Recall a slot or import a file
//   - POST /scenes/{id}/backup - Capture a console slot to a local file
//   - GET /backup - Backup file listing
//   - POST /backup/full - Full console backup
//   - GET /backup/{filename} - Download a stored file
//   - POST /backup/{filename}/load - Push a stored file to the console
//   - DELETE /backup/{filename} - Delete a stored file
//   - GET /x32/discover - Probe a subnet for consoles
//   - POST /x32/connect - Connect to a console (or the simulator)
//   - GET /ws - Event stream
//   - GET /metrics - Prometheus metrics (when enabled)
func NewRouter(rt *Runtime) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(rt)
	scenesHandler := handlers.NewScenesHandler(rt, rt.Metrics)
	backupHandler := handlers.NewBackupHandler(rt, rt.Metrics)
	consoleHandler := handlers.NewConsoleHandler(rt)
	wsHandler := NewWSHandler(rt)

	// Fast routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", healthHandler.Health)

		r.Route("/scenes", func(r chi.Router) {
			r.Get("/", scenesHandler.List)
			r.Post("/", scenesHandler.Save)
			r.Get("/{id}", scenesHandler.Get)
			r.Delete("/{id}", scenesHandler.Delete)
		})

		r.Route("/backup", func(r chi.Router) {
			r.Get("/", backupHandler.List)
			r.Get("/{filename}", backupHandler.Download)
			r.Delete("/{filename}", backupHandler.Delete)
		})

		r.Route("/x32", func(r chi.Router) {
			r.Get("/discover", consoleHandler.Discover)
			r.Post("/connect", consoleHandler.Connect)
		})

		if metrics.IsEnabled() {
			r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
				metrics.Handler().ServeHTTP(w, req)
			})
		}
	})

	// Bulk transfer routes - sweeps and imports outlive the default timeout
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(transferTimeout))

		r.Post("/scenes/{id}/load", scenesHandler.Load)
		r.Post("/scenes/{id}/backup", scenesHandler.Backup)
		r.Post("/backup/full", backupHandler.Full)
		r.Post("/backup/{filename}/load", backupHandler.Load)
	})

	// The event stream stays open for the client's lifetime; no timeout.
	r.Get("/ws", wsHandler.Serve)

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health"
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
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

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		// Log healthcheck requests at DEBUG to avoid polluting logs
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
