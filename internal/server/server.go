// Package server wires the nordcfg components together and runs the HTTP
// and metrics listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/rennerdo30/nordcfg/internal/accesscontrol"
	"github.com/rennerdo30/nordcfg/internal/accesslog"
	apiserver "github.com/rennerdo30/nordcfg/internal/api/server"
	"github.com/rennerdo30/nordcfg/internal/config"
	"github.com/rennerdo30/nordcfg/internal/health"
	"github.com/rennerdo30/nordcfg/internal/logging"
	"github.com/rennerdo30/nordcfg/internal/metrics"
	"github.com/rennerdo30/nordcfg/internal/ratelimit"
	"github.com/rennerdo30/nordcfg/internal/session"
	"github.com/rennerdo30/nordcfg/internal/version"
	"github.com/rennerdo30/nordcfg/internal/vpnprovider/nordvpn"
	"github.com/rennerdo30/nordcfg/internal/wireguard"
)

// DefaultGracefulPeriod bounds shutdown when the config leaves it zero.
const DefaultGracefulPeriod = 30 * time.Second

// Server is the nordcfg backend-for-frontend server.
type Server struct {
	config     *config.ServerConfig
	configPath string // Path to config file for hot reload

	provider         *nordvpn.Client
	rateLimiter      *ratelimit.KeyedLimiter
	metrics          *metrics.Metrics
	metricsCollector *metrics.Collector
	health           *health.Manager
	accessLog        accesslog.Logger
	api              *apiserver.API

	listener      net.Listener
	apiServer     *http.Server
	metricsServer *http.Server

	probeState map[string]bool
	probeMu    sync.Mutex

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// New creates a new nordcfg server.
func New(cfg *config.ServerConfig) (*Server, error) {
	// Initialize logging
	if err := logging.Setup(cfg.Logging); err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	// Create metrics
	var (
		m         *metrics.Metrics
		collector *metrics.Collector
	)
	if cfg.Metrics.Enabled {
		m = metrics.New()
		collector = metrics.NewCollectorWithInterval(m, cfg.Metrics.CollectionInterval.Duration())
	}

	provider := newProvider(cfg, m)

	renderer, err := newRenderer(cfg.WireGuard)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	sealer, err := session.NewSealer(cfg.Session.Secret,
		session.WithTTL(cfg.Session.TTL.Duration()),
		session.WithSecure(cfg.Session.Secure),
	)
	if err != nil {
		return nil, fmt.Errorf("create session sealer: %w", err)
	}
	if cfg.Session.Secret == "" {
		logging.Warn("session.secret not set, sessions will not survive a restart")
	}

	admin, err := accesscontrol.NewController(cfg.Admin)
	if err != nil {
		return nil, fmt.Errorf("create admin access control: %w", err)
	}

	var trustedProxies *accesscontrol.Controller
	if len(cfg.Server.TrustedProxies) > 0 {
		trustedProxies, err = accesscontrol.NewController(accesscontrol.Config{Allow: cfg.Server.TrustedProxies})
		if err != nil {
			return nil, fmt.Errorf("create trusted proxy list: %w", err)
		}
	}

	accessLog, err := accesslog.New(cfg.AccessLog)
	if err != nil {
		return nil, fmt.Errorf("create access log: %w", err)
	}

	// Create rate limiter
	var rateLimiter *ratelimit.KeyedLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = ratelimit.NewKeyedLimiter(rateLimitConfig(cfg.RateLimit))
	}

	s := &Server{
		config:           cfg,
		provider:         provider,
		rateLimiter:      rateLimiter,
		metrics:          m,
		metricsCollector: collector,
		accessLog:        accessLog,
		probeState:       make(map[string]bool),
	}

	apiCfg := apiserver.Config{
		Provider:       provider,
		Renderer:       renderer,
		Sealer:         sealer,
		Socks:          cfg.Socks,
		Limiter:        rateLimiter,
		Metrics:        m,
		Admin:          admin,
		TrustedProxies: trustedProxies,
		AccessLog:      accessLog,
		RequestTimeout: cfg.Server.RequestTimeout.Duration(),
		ServerLimit:    cfg.Upstream.ServerLimit,
		GetConfig:      s.GetSanitizedConfig,
	}

	if cfg.Health.Enabled {
		s.health, err = s.newHealthManager(cfg)
		if err != nil {
			s.closeResources()
			return nil, err
		}
		apiCfg.Readiness = s.health
	}

	s.api, err = apiserver.New(apiCfg)
	if err != nil {
		s.closeResources()
		return nil, fmt.Errorf("create api: %w", err)
	}

	return s, nil
}

// newHealthManager registers probes for the NordVPN API and the config
// CDN.
func (s *Server) newHealthManager(cfg *config.ServerConfig) (*health.Manager, error) {
	cdn, err := dialAddress(cfg.Upstream.CDNURL)
	if err != nil {
		return nil, fmt.Errorf("upstream.cdn_url: %w", err)
	}

	ua := cfg.Upstream.UserAgent
	if ua == "" {
		ua = nordvpn.DefaultUserAgent
	}
	timeout := cfg.Health.Timeout.Duration()
	interval := cfg.Health.Interval.Duration()

	mgr := health.NewManager(timeout)
	mgr.Register("nordvpn_api",
		health.NewHTTPChecker(strings.TrimSuffix(cfg.Upstream.BaseURL, "/")+"/technologies", timeout, health.WithUserAgent(ua)),
		interval, s.onProbe)
	mgr.Register("nordvpn_cdn", health.NewTCPChecker(cdn, timeout), interval, s.onProbe)
	return mgr, nil
}

// onProbe exports every probe and logs state changes.
func (s *Server) onProbe(name string, result health.Result) {
	s.metrics.SetUpstreamHealth(name, result.Healthy)

	s.probeMu.Lock()
	prev, seen := s.probeState[name]
	s.probeState[name] = result.Healthy
	s.probeMu.Unlock()

	if seen && prev == result.Healthy {
		return
	}
	if result.Healthy {
		logging.Info("Upstream probe passing", "check", name, "latency", result.Latency)
	} else {
		logging.Warn("Upstream probe failing", "check", name, "message", result.Message, "error", result.Error)
	}
}

// dialAddress returns host:port for an http or https URL.
func dialAddress(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func (s *Server) closeResources() {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.accessLog != nil {
		if err := s.accessLog.Close(); err != nil {
			logging.Warn("Failed to close access log", "error", err)
		}
	}
}

func newProvider(cfg *config.ServerConfig, m *metrics.Metrics) *nordvpn.Client {
	opts := []nordvpn.ClientOption{
		nordvpn.WithBaseURL(cfg.Upstream.BaseURL),
		nordvpn.WithCDNURL(cfg.Upstream.CDNURL),
		nordvpn.WithUserAgent(cfg.Upstream.UserAgent),
		nordvpn.WithTimeout(cfg.Upstream.Timeout.Duration()),
		nordvpn.WithRetries(cfg.Upstream.Retries, cfg.Upstream.RetryBackoff.Duration()),
		nordvpn.WithCacheTTL(cfg.Cache.CatalogTTL.Duration(), cfg.Cache.ListingTTL.Duration()),
		nordvpn.WithLogger(logging.WithComponent("nordvpn")),
	}
	if m != nil {
		opts = append(opts, nordvpn.WithObserver(m))
	}
	return nordvpn.NewClient(opts...)
}

func newRenderer(cfg config.WireGuardConfig) (*wireguard.Renderer, error) {
	opts := []wireguard.RendererOption{wireguard.WithStrictKeys(cfg.StrictKeys)}
	for name, servers := range cfg.DNSPresets {
		opts = append(opts, wireguard.WithDNSPreset(name, servers...))
	}
	return wireguard.NewRenderer(opts...)
}

func rateLimitConfig(cfg config.RateLimitConfig) ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		BurstSize:         cfg.BurstSize,
		IdleTimeout:       cfg.IdleTimeout.Duration(),
	}
}

// Start opens the listeners and serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	logging.Info("Starting nordcfg server", "version", version.Short())

	listener, err := net.Listen("tcp", s.config.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if limit := s.config.Server.MaxConnections; limit > 0 {
		listener = netutil.LimitListener(listener, limit)
	}
	s.listener = listener

	s.apiServer = &http.Server{
		Handler:           s.api.Router(),
		ReadTimeout:       s.config.Server.ReadTimeout.Duration(),
		ReadHeaderTimeout: s.config.Server.ReadTimeout.Duration(),
		WriteTimeout:      s.config.Server.WriteTimeout.Duration(),
		IdleTimeout:       s.config.Server.IdleTimeout.Duration(),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logging.Info("API server listening",
			"address", listener.Addr().String(),
			"max_connections", s.config.Server.MaxConnections,
		)
		if err := s.apiServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("API server error", "error", err)
		}
	}()

	if s.health != nil {
		s.health.Start(context.WithoutCancel(ctx))
	}

	// Start metrics server
	if s.metrics != nil {
		s.metricsCollector.Start()

		mux := http.NewServeMux()
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, s.metrics.Handler())

		s.metricsServer = &http.Server{
			Addr:              s.config.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			logging.Info("Metrics server listening", "address", s.config.Metrics.Listen, "path", path)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error", "error", err)
			}
		}()
	}

	s.running = true
	logging.Info("nordcfg server started")
	return nil
}

// Stop shuts the listeners down, waiting up to the graceful period for
// in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	logging.Info("Stopping nordcfg server")

	gracePeriod := s.config.Server.GracefulPeriod.Duration()
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracefulPeriod
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, gracePeriod)
	defer cancel()

	var errs []error
	if err := s.apiServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Grace period exceeded, forcing shutdown", "error", err)
		errs = append(errs, s.apiServer.Close())
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, s.metricsServer.Close())
		}
	}

	s.wg.Wait()

	if s.health != nil {
		s.health.Stop()
	}

	// Stop metrics collector
	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}

	s.closeResources()

	logging.Info("nordcfg server stopped")
	return errors.Join(errs...)
}

// Addr returns the address the API listener is bound to, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetSanitizedConfig returns the current config with secrets redacted.
func (s *Server) GetSanitizedConfig() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sanitized := *s.config
	sanitized.Socks.Password = ""
	sanitized.Session.Secret = ""
	return sanitized
}

// SetConfigPath sets the config file path for hot reload support.
func (s *Server) SetConfigPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPath = path
}

// ReloadConfig re-reads the config file and applies the hot-reloadable
// sections. Other changes require a restart.
func (s *Server) ReloadConfig() error {
	s.mu.RLock()
	path := s.configPath
	s.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("config path not set - cannot reload")
	}
	logging.Info("Reloading configuration", "path", path)

	newCfg, err := config.LoadServer(path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rateLimiter == nil {
		if newCfg.RateLimit.Enabled {
			logging.Warn("Rate limiting was disabled at startup, restart to enable it")
		}
		return nil
	}

	s.rateLimiter.UpdateConfig(rateLimitConfig(newCfg.RateLimit))
	s.config.RateLimit = newCfg.RateLimit
	logging.Info("Reloaded rate limits",
		"requests_per_second", newCfg.RateLimit.RequestsPerSecond,
		"burst_size", newCfg.RateLimit.BurstSize,
	)
	return nil
}

// Running returns whether the server is running.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Health returns the upstream probe manager, or nil when probes are
// disabled.
func (s *Server) Health() *health.Manager {
	return s.health
}

// Provider returns the upstream client.
func (s *Server) Provider() *nordvpn.Client {
	return s.provider
}
