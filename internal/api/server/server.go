// Package server provides the nordcfg HTTP API: the NordVPN routes used by
// the web frontend plus health, version and cache administration.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rennerdo30/nordcfg/internal/accesscontrol"
	"github.com/rennerdo30/nordcfg/internal/accesslog"
	"github.com/rennerdo30/nordcfg/internal/config"
	"github.com/rennerdo30/nordcfg/internal/health"
	"github.com/rennerdo30/nordcfg/internal/logging"
	"github.com/rennerdo30/nordcfg/internal/metrics"
	"github.com/rennerdo30/nordcfg/internal/ratelimit"
	"github.com/rennerdo30/nordcfg/internal/session"
	"github.com/rennerdo30/nordcfg/internal/version"
	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
	"github.com/rennerdo30/nordcfg/internal/wireguard"
)

// DefaultRequestTimeout bounds every request when Config leaves it zero.
const DefaultRequestTimeout = 45 * time.Second

// DefaultServerLimit is the upstream page size for listings that are
// filtered and paginated locally. It covers the whole NordVPN catalogue.
const DefaultServerLimit = 7000

// maxBodySize caps JSON request bodies.
const maxBodySize = 64 << 10

// API serves the nordcfg HTTP routes.
type API struct {
	provider       vpnprovider.Provider
	renderer       *wireguard.Renderer
	sealer         *session.Sealer
	socks          config.SocksConfig
	limiter        *ratelimit.KeyedLimiter
	metrics        *metrics.Metrics
	admin          *accesscontrol.Controller
	trustedProxies *accesscontrol.Controller
	readiness      Readiness
	accessLog      accesslog.Logger
	requestTimeout time.Duration
	serverLimit    int
	getConfig      func() any
	now            func() time.Time
}

// Readiness reports the state of the upstream probes.
type Readiness interface {
	IsHealthy() bool
	GetAllResults() map[string]health.Result
}

// Config holds API configuration.
type Config struct {
	Provider       vpnprovider.Provider
	Renderer       *wireguard.Renderer       // nil = built-in presets
	Sealer         *session.Sealer           // nil = random key, default TTL
	Socks          config.SocksConfig        // fallback SOCKS credentials
	Limiter        *ratelimit.KeyedLimiter   // nil = no rate limiting
	Metrics        *metrics.Metrics          // nil = no metrics
	Admin          *accesscontrol.Controller // nil = admin routes open to all
	TrustedProxies *accesscontrol.Controller // nil = forwarding headers ignored
	Readiness      Readiness                 // nil = always ready
	AccessLog      accesslog.Logger          // nil = no access log
	RequestTimeout time.Duration
	ServerLimit    int        // 0 = DefaultServerLimit
	GetConfig      func() any // Returns sanitized config
}

// New creates a new API server.
func New(cfg Config) (*API, error) {
	a := &API{
		provider:       cfg.Provider,
		renderer:       cfg.Renderer,
		sealer:         cfg.Sealer,
		socks:          cfg.Socks,
		limiter:        cfg.Limiter,
		metrics:        cfg.Metrics,
		admin:          cfg.Admin,
		trustedProxies: cfg.TrustedProxies,
		readiness:      cfg.Readiness,
		accessLog:      cfg.AccessLog,
		requestTimeout: cfg.RequestTimeout,
		serverLimit:    cfg.ServerLimit,
		getConfig:      cfg.GetConfig,
		now:            time.Now,
	}

	if a.renderer == nil {
		r, err := wireguard.NewRenderer()
		if err != nil {
			return nil, err
		}
		a.renderer = r
	}
	if a.sealer == nil {
		s, err := session.NewSealer("")
		if err != nil {
			return nil, err
		}
		a.sealer = s
	}
	if a.requestTimeout <= 0 {
		a.requestTimeout = DefaultRequestTimeout
	}
	if a.serverLimit <= 0 {
		a.serverLimit = DefaultServerLimit
	}

	return a, nil
}

// Router returns the HTTP router for the API.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(a.realIP)
	r.Use(logging.RequestLogger)
	r.Use(accesslog.Middleware(a.accessLog))
	r.Use(a.metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)
	r.Use(middleware.Timeout(a.requestTimeout))

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	r.Get("/api/v1/version", a.handleVersion)

	r.Group(func(r chi.Router) {
		if a.admin != nil {
			r.Use(a.adminGuard)
		}
		r.Get("/api/v1/config", a.handleGetConfig)
		r.Get("/api/v1/config/meta", a.handleGetConfigMeta)
		a.registerCacheRoutes(r)
	})

	r.Route("/api/nordvpn", func(r chi.Router) {
		if a.limiter != nil {
			r.Use(ratelimit.Middleware(a.limiter, func(r *http.Request) {
				a.metrics.RecordRateLimit(routePattern(r))
			}))
		}

		r.Get("/countries", a.handleCountries)
		r.Get("/technologies", a.handleTechnologies)
		r.Post("/credentials", a.handleCredentials)
		r.Post("/user", a.handleUser)
		r.Get("/servers", a.handleServers)
		r.Get("/recommendations", a.handleRecommendations)
		r.Get("/wireguard", a.handleWireGuardServers)
		r.Post("/wireguard", a.handleWireGuardConfig)
		r.Get("/openvpn", a.handleOpenVPNServers)
		r.Post("/openvpn", a.handleOpenVPNConfig)
		r.Get("/socks", a.handleSocks)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records every request by its matched route pattern.
func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	if a.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.metrics.RecordRequest(routePattern(r), r.Method, status, time.Since(start))
	})
}

// routePattern returns the chi pattern that matched r, or "unmatched".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   a.now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports 503 until every upstream probe has passed.
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.readiness == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}

	status, code := "ready", http.StatusOK
	if !a.readiness.IsHealthy() {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": a.readiness.GetAllResults(),
	})
}

// realIP applies chi's RealIP only to requests arriving from a trusted
// proxy. Forwarding headers from any other peer are ignored, so the admin
// allow list and the rate limiter see the connection address.
func (a *API) realIP(next http.Handler) http.Handler {
	if a.trustedProxies == nil {
		return next
	}
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.trustedProxies.IsAllowed(r.RemoteAddr) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminGuard rejects clients outside the admin allow list.
func (a *API) adminGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := a.admin.Check(r.RemoteAddr)
		if !result.Allowed() {
			logging.FromContext(r.Context()).Warn("admin request denied",
				"remote", r.RemoteAddr,
				"path", r.URL.Path,
				"reason", result.Reason,
			)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.GetInfo())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
