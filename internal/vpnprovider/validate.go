package vpnprovider

import (
	"net/netip"
	"strings"
	"unicode"

	"github.com/miekg/dns"
)

// ValidateText rejects empty values and values carrying control characters,
// newlines included.
func ValidateText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return Required(field)
	}
	if strings.IndexFunc(value, unicode.IsControl) >= 0 {
		return &ValidationError{Field: field, Reason: "must not contain control characters"}
	}
	return nil
}

// ValidateHostname checks that value is an IP literal or a domain name.
func ValidateHostname(field, value string) error {
	if err := ValidateText(field, value); err != nil {
		return err
	}
	if _, err := netip.ParseAddr(value); err == nil {
		return nil
	}
	if strings.ContainsAny(value, " /\\:?#@") {
		return &ValidationError{Field: field, Reason: "must be a hostname or IP address"}
	}
	if _, ok := dns.IsDomainName(value); !ok || strings.Trim(value, ".") == "" {
		return &ValidationError{Field: field, Reason: "must be a hostname or IP address"}
	}
	return nil
}
