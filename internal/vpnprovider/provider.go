// Package vpnprovider provides the provider-neutral catalogue types, error
// taxonomy, TTL cache and filter engine used by the nordcfg BFF.
package vpnprovider

import (
	"context"
	"time"
)

// Provider is the upstream catalogue the BFF routes are served from.
type Provider interface {
	// Name returns the provider name (e.g., "nordvpn").
	Name() string

	// ListServers returns normalized servers for a request-time query.
	ListServers(ctx context.Context, q ServerQuery) ([]ServerRecord, error)

	// Recommended returns the provider's recommended servers, optionally for one country.
	Recommended(ctx context.Context, countryID int) ([]ServerRecord, error)

	// Countries returns the countries that have servers.
	Countries(ctx context.Context) ([]Country, error)

	// Technologies returns the technology catalogue.
	Technologies(ctx context.Context) ([]Technology, error)

	// ResolveCredentials exchanges a user token for WireGuard credentials.
	ResolveCredentials(ctx context.Context, token string) (*Credentials, error)

	// ResolveServiceCredentials exchanges a user token for SOCKS/OpenVPN credentials.
	ResolveServiceCredentials(ctx context.Context, token string) (*ServiceCredentials, error)

	// OpenVPNConfig downloads the .ovpn file for a server.
	OpenVPNConfig(ctx context.Context, hostname, protocol string) (string, error)
}

// Server status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ServerRecord is the normalized representation of an upstream server.
type ServerRecord struct {
	ID                    int               `json:"id"`
	Name                  string            `json:"name"`
	Hostname              string            `json:"hostname"`
	Station               string            `json:"station,omitempty"`
	Country               string            `json:"country"`
	CountryID             int               `json:"country_id,omitempty"`
	CountryCode           string            `json:"country_code,omitempty"`
	City                  string            `json:"city,omitempty"`
	Load                  int               `json:"load"` // 0-100 percentage
	Status                string            `json:"status"`
	PublicKeyByTechnology map[string]string `json:"public_keys,omitempty"`
}

// PublicKey returns the public key announced for a technology, or "".
func (s ServerRecord) PublicKey(technology string) string {
	return s.PublicKeyByTechnology[technology]
}

// Country represents a country with available VPN servers.
type Country struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	ServerCount int    `json:"serverCount,omitempty"`
}

// Technology is an entry of the provider's technology catalogue.
type Technology struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// ServerQuery is the set of filters applied upstream at request time.
// Two queries with equal fields are served from the same cache entry.
type ServerQuery struct {
	Technology string
	CountryID  int
	Limit      int
	Offset     int
	NoCache    bool // bypass and refresh the cached entry
}

// Credentials holds WireGuard credentials derived from a user token.
type Credentials struct {
	PrivateKey string    `json:"privateKey"`
	PublicKey  string    `json:"publicKey,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ServiceCredentials holds the basic-auth pair used for SOCKS and OpenVPN.
type ServiceCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
