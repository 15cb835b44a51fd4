// Package api exposes the portal sync service over HTTP: the snapshot pull
// path, conflict-checked record writes, the inbound webhook, and the two
// push transports (WebSocket and SSE).
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/harborview/lp-portal-sync/internal/logger"
	"github.com/harborview/lp-portal-sync/internal/ratelimit"
	"github.com/harborview/lp-portal-sync/internal/syncer"
	"github.com/harborview/lp-portal-sync/internal/visibility"
)

// StoreTimeout bounds one handler's worth of store round-trips. Snapshot
// calls paginate a whole table through the pacing limiter, so this is
// deliberately generous.
const StoreTimeout = 60 * time.Second

// Server holds dependencies for API handlers.
type Server struct {
	svc           *syncer.Service
	rules         *visibility.Rules
	webhookSecret string
	frontendURL   string
	version       string
	writeLimiter  *ratelimit.Limiter
}

// NewServer creates a new API server. webhookSecret may be empty, which
// disables the webhook shared-secret check.
func NewServer(svc *syncer.Service, rules *visibility.Rules, webhookSecret, frontendURL, version string) *Server {
	return &Server{
		svc:           svc,
		rules:         rules,
		webhookSecret: webhookSecret,
		frontendURL:   frontendURL,
		version:       version,
		// Mutating endpoints get a per-client budget; reads and push
		// channels are unthrottled.
		writeLimiter: ratelimit.New(10, 30),
	}
}

// SetupRoutes configures HTTP routes.
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.frontendURL},
		AllowedMethods:   []string{"GET", "PUT", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Portal-Role"},
		AllowCredentials: true,
	}))

	// Health check
	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleRoot)

	r.Route("/api", func(r chi.Router) {
		// Snapshot payloads are large; push channels and writes stay
		// uncompressed.
		r.With(responseCompression).Get("/data", s.handleGetData)
		r.With(ratelimit.Middleware(s.writeLimiter)).Put("/record", s.handleUpdateRecord)
	})

	// Inbound change notifications from the store
	r.With(ratelimit.Middleware(s.writeLimiter)).Post("/airtable-webhook", s.handleWebhook)

	// Push transports
	r.Get("/sse", s.handleSSE)
	r.Get("/ws", s.handleWS)

	return r
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.svc.Hub().Len(),
	})
}

// handleRoot returns API info
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "lp-portal-sync",
		"version": s.version,
	})
}

// roleFor resolves the caller's visibility role. Auth itself lives in front
// of this service; the header is what the portal gateway forwards.
func roleFor(r *http.Request) visibility.Role {
	return visibility.ParseRole(r.Header.Get("X-Portal-Role"))
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error JSON response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"ok":    false,
		"error": message,
	})
}
