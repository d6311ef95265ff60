// Package accesscontrol restricts the administrative API routes by client
// address.
package accesscontrol

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Action represents the access control decision.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// DenyReason provides context for denied requests.
type DenyReason string

const (
	ReasonDenied     DenyReason = "ip_denied"
	ReasonNotAllowed DenyReason = "ip_not_allowed"
	ReasonInvalidIP  DenyReason = "invalid_ip"
)

// Result represents an access control check result.
type Result struct {
	Action Action
	Reason DenyReason
}

// Allowed reports whether the check allowed the request.
func (r Result) Allowed() bool {
	return r.Action == ActionAllow
}

// Config holds the allow and deny lists. Entries are IP addresses or CIDR
// prefixes. An empty allow list admits every address not denied.
type Config struct {
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny" json:"deny"`
}

// DefaultConfig admits loopback clients only.
func DefaultConfig() Config {
	return Config{
		Allow: []string{"127.0.0.0/8", "::1/128"},
	}
}

// Validate checks every entry parses.
func (c Config) Validate() error {
	if _, err := ParsePrefixes(c.Allow); err != nil {
		return fmt.Errorf("allow: %w", err)
	}
	if _, err := ParsePrefixes(c.Deny); err != nil {
		return fmt.Errorf("deny: %w", err)
	}
	return nil
}

// Controller checks client addresses against the configured lists. It is
// immutable and safe for concurrent use.
type Controller struct {
	allow []netip.Prefix
	deny  []netip.Prefix
}

// NewController creates a new access controller.
func NewController(cfg Config) (*Controller, error) {
	allow, err := ParsePrefixes(cfg.Allow)
	if err != nil {
		return nil, fmt.Errorf("allow: %w", err)
	}
	deny, err := ParsePrefixes(cfg.Deny)
	if err != nil {
		return nil, fmt.Errorf("deny: %w", err)
	}
	return &Controller{allow: allow, deny: deny}, nil
}

// Check checks a client address, given either as "ip" or "ip:port".
func (c *Controller) Check(remote string) Result {
	addr, err := parseRemote(remote)
	if err != nil {
		return Result{Action: ActionDeny, Reason: ReasonInvalidIP}
	}

	// Deny wins over allow.
	if containsAddr(c.deny, addr) {
		return Result{Action: ActionDeny, Reason: ReasonDenied}
	}
	if len(c.allow) > 0 && !containsAddr(c.allow, addr) {
		return Result{Action: ActionDeny, Reason: ReasonNotAllowed}
	}
	return Result{Action: ActionAllow}
}

// IsAllowed returns true if the address is allowed.
func (c *Controller) IsAllowed(remote string) bool {
	return c.Check(remote).Allowed()
}

// Stats returns the number of entries per list.
func (c *Controller) Stats() map[string]int {
	return map[string]int{
		"allow_entries": len(c.allow),
		"deny_entries":  len(c.deny),
	}
}

// ParsePrefix parses an IP address or CIDR prefix. A bare address becomes a
// single-address prefix.
func ParsePrefix(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR: %s", entry)
		}
		return p.Masked(), nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid IP: %s", entry)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ParsePrefixes parses every non-blank entry.
func ParsePrefixes(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		p, err := ParsePrefix(entry)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

func parseRemote(remote string) (netip.Addr, error) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	// Prefix.Contains rejects zoned addresses.
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap().WithZone(""), nil
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
