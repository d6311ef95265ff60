package config

// DefaultServerConfigTemplate is the fully commented default configuration
// written by "nordcfg-server init".
const DefaultServerConfigTemplate = `# nordcfg server configuration
# ${VAR} references are expanded from the environment; a .env file in the
# working directory is loaded first.

# HTTP listener
server:
  listen: ":8080"            # Address for the API
  read_timeout: "30s"
  write_timeout: "60s"
  idle_timeout: "120s"
  request_timeout: "45s"     # Per-request deadline, includes upstream calls
  max_connections: 0         # Concurrent connection cap (0 = unlimited)
  graceful_period: "15s"     # Shutdown drain time
  # trusted_proxies:         # Reverse proxies whose X-Forwarded-For is honoured
  #   - "10.0.0.0/8"

# NordVPN API
upstream:
  base_url: "https://api.nordvpn.com/v1"
  cdn_url: "https://downloads.nordcdn.com/configs/files"
  # user_agent: ""           # Empty keeps the built-in browser user agent
  timeout: "15s"             # Per upstream request
  retries: 0                 # Extra attempts on 5xx and network errors
  retry_backoff: "500ms"     # Doubled after every attempt
  server_limit: 7000         # Servers fetched per listing, filtered locally

# Upstream response cache
cache:
  catalog_ttl: "1h"          # Countries and technologies
  listing_ttl: "1m"          # Server listings and recommendations

# WireGuard configuration rendering
wireguard:
  strict_keys: false         # Require keys to be valid base64 WireGuard keys
  # dns_presets:             # Extra or replacement DNS presets
  #   mullvad: ["194.242.2.2"]

# Fallback SOCKS credentials for requests without a token
socks:
  username: "${NORDVPN_SOCKS_USERNAME}"
  password: "${NORDVPN_SOCKS_PASSWORD}"

# Token cookie issued by /api/nordvpn/user
session:
  secret: ""                 # Empty = random key, cookies do not survive restarts
  ttl: "24h"
  secure: false              # Set when served over HTTPS

# Per-client rate limiting
rate_limit:
  enabled: true
  requests_per_second: 10
  burst_size: 20
  idle_timeout: "10m"

# Upstream readiness probes reported by /readyz
health:
  enabled: true
  interval: "1m"
  timeout: "10s"

# Clients allowed to use /api/v1/config and /api/v1/cache
admin:
  allow: ["127.0.0.0/8", "::1/128"]
  deny: []

# Prometheus metrics
metrics:
  enabled: false
  listen: ":9090"
  path: "/metrics"
  collection_interval: "15s"

# Per-request access log
access_log:
  enabled: false
  format: json               # json, apache, combined
  output: stdout             # stdout, stderr, or a file path

# Logging
logging:
  level: info                # debug, info, warn, error
  format: text               # text, json
  output: stdout             # stdout, stderr, or a file path
`
