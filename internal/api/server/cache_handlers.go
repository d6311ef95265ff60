package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rennerdo30/nordcfg/internal/logging"
)

// cacheAdmin is implemented by providers that cache upstream responses.
type cacheAdmin interface {
	ClearCache()
	PurgeCache() int
}

// registerCacheRoutes registers the cache administration routes.
func (a *API) registerCacheRoutes(r chi.Router) {
	r.Route("/api/v1/cache", func(r chi.Router) {
		r.Delete("/", a.handleClearCache)
		r.Post("/purge", a.handlePurgeCache)
	})
}

func (a *API) cacheAdmin(w http.ResponseWriter) (cacheAdmin, bool) {
	c, ok := a.provider.(cacheAdmin)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return nil, false
	}
	return c, true
}

// handleClearCache drops every cached upstream response.
func (a *API) handleClearCache(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cacheAdmin(w)
	if !ok {
		return
	}
	c.ClearCache()

	logging.FromContext(r.Context()).Info("cache cleared")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "cache cleared",
	})
}

// handlePurgeCache removes expired entries only.
func (a *API) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cacheAdmin(w)
	if !ok {
		return
	}
	removed := c.PurgeCache()

	logging.FromContext(r.Context()).Info("cache purged", "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"removed": removed,
	})
}
