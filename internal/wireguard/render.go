package wireguard

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

// Client configuration constants for NordLynx.
const (
	DefaultAddress    = "10.5.0.2/16"
	DefaultAllowedIPs = "0.0.0.0/0"
	DefaultKeepalive  = 25
	DefaultPort       = 51820
	DefaultDNSPreset  = "cloudflare"
)

// builtinPresets are the DNS presets available without configuration.
var builtinPresets = map[string][]string{
	"cloudflare": {"1.1.1.1", "1.0.0.1"},
	"google":     {"8.8.8.8", "8.8.4.4"},
	"nordvpn":    {"103.86.96.100", "103.86.99.100"},
	"adguard":    {"94.140.14.14", "94.140.15.15"},
	"quad9":      {"9.9.9.9", "149.112.112.112"},
	"controld":   {"76.76.2.0", "76.76.10.0"},
}

// Renderer produces wg-quick client configurations.
type Renderer struct {
	presets    map[string][]string
	strictKeys bool
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer) error

// WithDNSPreset adds or replaces a DNS preset. Every server must be an IP address.
func WithDNSPreset(name string, servers ...string) RendererOption {
	return func(r *Renderer) error {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return fmt.Errorf("dns preset name is required")
		}
		if len(servers) == 0 {
			return fmt.Errorf("dns preset %q: at least one server is required", name)
		}
		for _, s := range servers {
			if _, err := netip.ParseAddr(s); err != nil {
				return fmt.Errorf("dns preset %q: %q is not an IP address", name, s)
			}
		}
		r.presets[name] = slices.Clone(servers)
		return nil
	}
}

// WithStrictKeys requires both keys to parse as WireGuard keys.
func WithStrictKeys(strict bool) RendererOption {
	return func(r *Renderer) error {
		r.strictKeys = strict
		return nil
	}
}

// NewRenderer creates a Renderer with the built-in DNS presets.
func NewRenderer(opts ...RendererOption) (*Renderer, error) {
	r := &Renderer{presets: make(map[string][]string, len(builtinPresets))}
	for name, servers := range builtinPresets {
		r.presets[name] = servers
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Presets returns the preset names, sorted.
func (r *Renderer) Presets() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DNS returns the servers of a preset.
func (r *Renderer) DNS(preset string) ([]string, bool) {
	servers, ok := r.presets[strings.ToLower(preset)]
	return servers, ok
}

// Build validates the inputs and returns the client configuration.
func (r *Renderer) Build(privateKey, peerHostname, peerPublicKey, dnsPreset string) (*Config, error) {
	if err := vpnprovider.ValidateHostname("hostname", peerHostname); err != nil {
		return nil, err
	}
	if err := vpnprovider.ValidateText("privateKey", privateKey); err != nil {
		return nil, err
	}
	if err := vpnprovider.ValidateText("publicKey", peerPublicKey); err != nil {
		return nil, err
	}
	if err := vpnprovider.ValidateText("dnsOption", dnsPreset); err != nil {
		return nil, err
	}

	dns, ok := r.DNS(dnsPreset)
	if !ok {
		return nil, &vpnprovider.ValidationError{
			Field:  "dnsOption",
			Reason: "must be one of " + strings.Join(r.Presets(), ", "),
		}
	}

	if r.strictKeys {
		if err := ValidateKey(privateKey); err != nil {
			return nil, &vpnprovider.ValidationError{Field: "privateKey", Reason: "is not a valid WireGuard key"}
		}
		if err := ValidateKey(peerPublicKey); err != nil {
			return nil, &vpnprovider.ValidationError{Field: "publicKey", Reason: "is not a valid WireGuard key"}
		}
	}

	return &Config{
		Interface: InterfaceConfig{
			PrivateKey: privateKey,
			Address:    []string{DefaultAddress},
			DNS:        slices.Clone(dns),
		},
		Peers: []PeerConfig{{
			PublicKey:           peerPublicKey,
			Endpoint:            net.JoinHostPort(peerHostname, strconv.Itoa(DefaultPort)),
			AllowedIPs:          []string{DefaultAllowedIPs},
			PersistentKeepalive: DefaultKeepalive,
		}},
	}, nil
}

// Render returns the wg-quick text for the given inputs.
func (r *Renderer) Render(privateKey, peerHostname, peerPublicKey, dnsPreset string) (string, error) {
	cfg, err := r.Build(privateKey, peerHostname, peerPublicKey, dnsPreset)
	if err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	return cfg.Marshal(), nil
}

// Filename returns the download name for a server's configuration.
func Filename(hostname string) string {
	return hostname + ".conf"
}
