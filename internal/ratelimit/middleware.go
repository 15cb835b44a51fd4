package ratelimit

import (
	"encoding/json"
	"net/http"

	"github.com/harborview/lp-portal-sync/internal/logger"
)

// Middleware rejects requests over the per-client budget with a 429.
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := KeyFromAddr(r.RemoteAddr)
			if !limiter.Allow(key) {
				logger.Ctx(r.Context()).Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"ok":    false,
					"error": "Rate limit exceeded. Please try again later.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
