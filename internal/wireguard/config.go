// Package wireguard renders and parses wg-quick client configuration files.
package wireguard

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Config represents a complete WireGuard configuration.
type Config struct {
	Interface InterfaceConfig
	Peers     []PeerConfig
}

// InterfaceConfig represents the [Interface] section.
type InterfaceConfig struct {
	PrivateKey string
	Address    []string // Can have multiple addresses (IPv4 and IPv6)
	ListenPort int
	DNS        []string
	MTU        int
}

// PeerConfig represents a [Peer] section.
type PeerConfig struct {
	PublicKey           string
	PresharedKey        string
	Endpoint            string
	AllowedIPs          []string
	PersistentKeepalive int
}

// Parse parses a WireGuard configuration from an io.Reader. Keys are kept
// as written; use ValidateKey to check them.
func Parse(r io.Reader) (*Config, error) {
	config := &Config{}
	var currentSection string
	var currentPeer *PeerConfig

	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Check for section headers
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.ToLower(strings.Trim(line, "[]"))
			currentSection = section

			if section == "peer" {
				if currentPeer != nil {
					config.Peers = append(config.Peers, *currentPeer)
				}
				currentPeer = &PeerConfig{}
			}
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format", lineNum)
		}

		key := strings.TrimSpace(strings.ToLower(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch currentSection {
		case "interface":
			if err := parseInterfaceKey(&config.Interface, key, value); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
		case "peer":
			if err := parsePeerKey(currentPeer, key, value); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
		default:
			return nil, fmt.Errorf("line %d: %s outside of a section", lineNum, key)
		}
	}

	// Add last peer
	if currentPeer != nil {
		config.Peers = append(config.Peers, *currentPeer)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}

	return config, nil
}

// parseInterfaceKey parses a key in the [Interface] section.
func parseInterfaceKey(iface *InterfaceConfig, key, value string) error {
	switch key {
	case "privatekey":
		iface.PrivateKey = value
	case "address":
		for _, addr := range splitList(value) {
			if _, err := netip.ParsePrefix(addr); err != nil {
				if _, err := netip.ParseAddr(addr); err != nil {
					return fmt.Errorf("invalid address: %s", addr)
				}
			}
			iface.Address = append(iface.Address, addr)
		}
	case "listenport":
		port, err := strconv.Atoi(value)
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("invalid listen port: %s", value)
		}
		iface.ListenPort = port
	case "dns":
		iface.DNS = append(iface.DNS, splitList(value)...)
	case "mtu":
		mtu, err := strconv.Atoi(value)
		if err != nil || mtu < 576 || mtu > 65535 {
			return fmt.Errorf("invalid MTU: %s", value)
		}
		iface.MTU = mtu
	}
	return nil
}

// parsePeerKey parses a key in a [Peer] section.
func parsePeerKey(peer *PeerConfig, key, value string) error {
	switch key {
	case "publickey":
		peer.PublicKey = value
	case "presharedkey":
		peer.PresharedKey = value
	case "endpoint":
		peer.Endpoint = value
	case "allowedips":
		for _, ip := range splitList(value) {
			if _, err := netip.ParsePrefix(ip); err != nil {
				return fmt.Errorf("invalid allowed IP: %s", ip)
			}
			peer.AllowedIPs = append(peer.AllowedIPs, ip)
		}
	case "persistentkeepalive":
		ka, err := strconv.Atoi(value)
		if err != nil || ka < 0 || ka > 65535 {
			return fmt.Errorf("invalid persistent keepalive: %s", value)
		}
		peer.PersistentKeepalive = ka
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ValidateKey checks that key is a base64 encoded 32 byte WireGuard key.
func ValidateKey(key string) error {
	if _, err := wgtypes.ParseKey(key); err != nil {
		return fmt.Errorf("invalid WireGuard key: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Interface.PrivateKey == "" {
		return fmt.Errorf("interface private key is required")
	}
	if len(c.Interface.Address) == 0 {
		return fmt.Errorf("interface address is required")
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("at least one peer is required")
	}
	for i, peer := range c.Peers {
		if peer.PublicKey == "" {
			return fmt.Errorf("peer %d: public key is required", i)
		}
		if len(peer.AllowedIPs) == 0 {
			return fmt.Errorf("peer %d: allowed IPs are required", i)
		}
	}
	return nil
}

// Marshal renders the configuration in wg-quick format. Optional fields are
// omitted when zero; the output has no trailing newline.
func (c *Config) Marshal() string {
	var sb strings.Builder

	sb.WriteString("[Interface]\n")
	writeField(&sb, "PrivateKey", c.Interface.PrivateKey)
	writeField(&sb, "Address", strings.Join(c.Interface.Address, ", "))
	if c.Interface.ListenPort > 0 {
		writeField(&sb, "ListenPort", strconv.Itoa(c.Interface.ListenPort))
	}
	writeField(&sb, "DNS", strings.Join(c.Interface.DNS, ", "))
	if c.Interface.MTU > 0 {
		writeField(&sb, "MTU", strconv.Itoa(c.Interface.MTU))
	}

	for _, peer := range c.Peers {
		sb.WriteString("\n[Peer]\n")
		writeField(&sb, "PublicKey", peer.PublicKey)
		writeField(&sb, "PresharedKey", peer.PresharedKey)
		writeField(&sb, "Endpoint", peer.Endpoint)
		writeField(&sb, "AllowedIPs", strings.Join(peer.AllowedIPs, ", "))
		if peer.PersistentKeepalive > 0 {
			writeField(&sb, "PersistentKeepalive", strconv.Itoa(peer.PersistentKeepalive))
		}
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

func writeField(sb *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	sb.WriteString(key)
	sb.WriteString(" = ")
	sb.WriteString(value)
	sb.WriteByte('\n')
}
