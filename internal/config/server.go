package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rennerdo30/nordcfg/internal/accesscontrol"
	"github.com/rennerdo30/nordcfg/internal/accesslog"
	"github.com/rennerdo30/nordcfg/internal/logging"
)

// Environment variables consulted for the SOCKS fallback credentials.
const (
	EnvSocksUsername = "NORDVPN_SOCKS_USERNAME"
	EnvSocksPassword = "NORDVPN_SOCKS_PASSWORD"
)

// ServerConfig is the main configuration for the nordcfg server.
type ServerConfig struct {
	Server    ServerSettings       `yaml:"server" json:"server"`
	Upstream  UpstreamConfig       `yaml:"upstream" json:"upstream"`
	Cache     CacheConfig          `yaml:"cache" json:"cache"`
	WireGuard WireGuardConfig      `yaml:"wireguard" json:"wireguard"`
	Socks     SocksConfig          `yaml:"socks" json:"socks"`
	Session   SessionConfig        `yaml:"session" json:"session"`
	RateLimit RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	Health    HealthConfig         `yaml:"health" json:"health"`
	Admin     accesscontrol.Config `yaml:"admin" json:"admin"`
	Metrics   MetricsConfig        `yaml:"metrics" json:"metrics"`
	AccessLog accesslog.Config     `yaml:"access_log" json:"access_log"`
	Logging   logging.Config       `yaml:"logging" json:"logging"`
}

// ServerSettings contains the HTTP listener settings.
type ServerSettings struct {
	Listen         string   `yaml:"listen" json:"listen"`
	ReadTimeout    Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    Duration `yaml:"idle_timeout" json:"idle_timeout"`
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxConnections int      `yaml:"max_connections" json:"max_connections"` // 0 = unlimited
	GracefulPeriod Duration `yaml:"graceful_period" json:"graceful_period"`
	// TrustedProxies lists the peers whose X-Forwarded-For, X-Real-IP and
	// True-Client-IP headers are honoured. Empty ignores those headers.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty" json:"trusted_proxies,omitempty"`
}

// UpstreamConfig contains NordVPN API client settings.
type UpstreamConfig struct {
	BaseURL      string   `yaml:"base_url" json:"base_url"`
	CDNURL       string   `yaml:"cdn_url" json:"cdn_url"`
	UserAgent    string   `yaml:"user_agent" json:"user_agent"`
	Timeout      Duration `yaml:"timeout" json:"timeout"`
	Retries      int      `yaml:"retries" json:"retries"`
	RetryBackoff Duration `yaml:"retry_backoff" json:"retry_backoff"`
	ServerLimit  int      `yaml:"server_limit" json:"server_limit"` // servers fetched per listing
}

// CacheConfig contains upstream response cache lifetimes.
type CacheConfig struct {
	CatalogTTL Duration `yaml:"catalog_ttl" json:"catalog_ttl"` // countries, technologies
	ListingTTL Duration `yaml:"listing_ttl" json:"listing_ttl"` // servers, recommendations
}

// WireGuardConfig contains renderer settings.
type WireGuardConfig struct {
	StrictKeys bool                `yaml:"strict_keys" json:"strict_keys"`
	DNSPresets map[string][]string `yaml:"dns_presets,omitempty" json:"dns_presets,omitempty"`
}

// SocksConfig holds fallback SOCKS credentials for requests without a
// user token.
type SocksConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Configured reports whether both fallback credentials are set.
func (s SocksConfig) Configured() bool {
	return s.Username != "" && s.Password != ""
}

// SessionConfig contains token cookie settings.
type SessionConfig struct {
	Secret string   `yaml:"secret" json:"-"` // empty = random per process
	TTL    Duration `yaml:"ttl" json:"ttl"`
	Secure bool     `yaml:"secure" json:"secure"`
}

// RateLimitConfig contains per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64  `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int      `yaml:"burst_size" json:"burst_size"`
	IdleTimeout       Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// HealthConfig contains upstream readiness probe settings.
type HealthConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Interval Duration `yaml:"interval" json:"interval"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	Listen             string   `yaml:"listen" json:"listen"`
	Path               string   `yaml:"path" json:"path"`
	CollectionInterval Duration `yaml:"collection_interval" json:"collection_interval"`
}

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultServerConfig returns a server configuration with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Server: ServerSettings{
			Listen:         ":8080",
			ReadTimeout:    Duration(30 * time.Second),
			WriteTimeout:   Duration(60 * time.Second),
			IdleTimeout:    Duration(120 * time.Second),
			RequestTimeout: Duration(45 * time.Second),
			GracefulPeriod: Duration(15 * time.Second),
		},
		Upstream: UpstreamConfig{
			BaseURL:      "https://api.nordvpn.com/v1",
			CDNURL:       "https://downloads.nordcdn.com/configs/files",
			Timeout:      Duration(15 * time.Second),
			RetryBackoff: Duration(500 * time.Millisecond),
			ServerLimit:  7000,
		},
		Cache: CacheConfig{
			CatalogTTL: Duration(time.Hour),
			ListingTTL: Duration(time.Minute),
		},
		Session: SessionConfig{
			TTL: Duration(24 * time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			BurstSize:         20,
			IdleTimeout:       Duration(10 * time.Minute),
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: Duration(time.Minute),
			Timeout:  Duration(10 * time.Second),
		},
		Admin: accesscontrol.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:            false,
			Listen:             ":9090",
			Path:               "/metrics",
			CollectionInterval: Duration(15 * time.Second),
		},
		AccessLog: accesslog.DefaultConfig(),
		Logging:   logging.DefaultConfig(),
	}
}

// ApplyEnv fills the SOCKS fallback credentials from the environment when
// the configuration leaves them empty.
func (c *ServerConfig) ApplyEnv() {
	if c.Socks.Username == "" {
		c.Socks.Username = os.Getenv(EnvSocksUsername)
	}
	if c.Socks.Password == "" {
		c.Socks.Password = os.Getenv(EnvSocksPassword)
	}
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen: %w", err)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if _, err := accesscontrol.ParsePrefixes(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}

	if err := validateURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		return err
	}
	if err := validateURL("upstream.cdn_url", c.Upstream.CDNURL); err != nil {
		return err
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.Upstream.Retries < 0 {
		return fmt.Errorf("upstream.retries must not be negative")
	}
	if c.Upstream.ServerLimit <= 0 {
		return fmt.Errorf("upstream.server_limit must be positive")
	}

	if c.Cache.CatalogTTL <= 0 || c.Cache.ListingTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	for name, servers := range c.WireGuard.DNSPresets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("wireguard.dns_presets: preset name is required")
		}
		if len(servers) == 0 {
			return fmt.Errorf("wireguard.dns_presets.%s: at least one server is required", name)
		}
		for _, s := range servers {
			if _, err := netip.ParseAddr(s); err != nil {
				return fmt.Errorf("wireguard.dns_presets.%s: %q is not an IP address", name, s)
			}
		}
	}

	if (c.Socks.Username == "") != (c.Socks.Password == "") {
		return fmt.Errorf("socks.username and socks.password must be set together")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if c.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("rate_limit.burst_size must be positive")
		}
	}

	if c.Health.Enabled {
		if c.Health.Interval <= 0 {
			return fmt.Errorf("health.interval must be positive")
		}
		if c.Health.Timeout <= 0 {
			return fmt.Errorf("health.timeout must be positive")
		}
	}

	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin.%w", err)
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
	}

	if err := c.AccessLog.Validate(); err != nil {
		return fmt.Errorf("access_log: %w", err)
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}
