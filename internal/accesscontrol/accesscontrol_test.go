package accesscontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		entry string
		want  string
	}{
		{"192.168.1.1", "192.168.1.1/32"},
		{" 10.0.0.0/8 ", "10.0.0.0/8"},
		{"172.16.5.4/16", "172.16.0.0/16"},
		{"::1", "::1/128"},
		{"2001:db8::/32", "2001:db8::/32"},
		{"::ffff:192.0.2.1", "192.0.2.1/32"},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			p, err := ParsePrefix(tt.entry)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}

	for _, bad := range []string{"", "not-an-ip", "10.0.0.0/33", "10.0.0/8"} {
		_, err := ParsePrefix(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePrefixesSkipsBlank(t *testing.T) {
	prefixes, err := ParsePrefixes([]string{"10.0.0.1", "  ", ""})
	require.NoError(t, err)
	assert.Len(t, prefixes, 1)

	_, err = ParsePrefixes([]string{"10.0.0.1", "bogus"})
	assert.Error(t, err)
}

func TestController(t *testing.T) {
	tests := []struct {
		name    string
		allow   []string
		deny    []string
		remote  string
		allowed bool
		reason  DenyReason
	}{
		{name: "no lists", remote: "192.168.1.1:5000", allowed: true},
		{name: "denied", deny: []string{"192.168.1.1"}, remote: "192.168.1.1:5000", reason: ReasonDenied},
		{name: "not denied", deny: []string{"192.168.1.1"}, remote: "192.168.1.2:5000", allowed: true},
		{name: "allowed prefix", allow: []string{"192.168.1.0/24"}, remote: "192.168.1.100:80", allowed: true},
		{name: "outside allow list", allow: []string{"192.168.1.0/24"}, remote: "192.168.2.1:80", reason: ReasonNotAllowed},
		{
			name:   "deny wins",
			allow:  []string{"192.168.1.0/24"},
			deny:   []string{"192.168.1.50"},
			remote: "192.168.1.50:80",
			reason: ReasonDenied,
		},
		{name: "bare address", allow: []string{"10.0.0.0/8"}, remote: "10.1.2.3", allowed: true},
		{name: "ipv6 loopback", allow: []string{"::1"}, remote: "[::1]:8080", allowed: true},
		{name: "mapped ipv4", allow: []string{"127.0.0.0/8"}, remote: "[::ffff:127.0.0.1]:8080", allowed: true},
		{name: "zoned link local", allow: []string{"fe80::/10"}, remote: "[fe80::1%eth0]:8080", allowed: true},
		{name: "garbage", remote: "nonsense", reason: ReasonInvalidIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewController(Config{Allow: tt.allow, Deny: tt.deny})
			require.NoError(t, err)

			result := c.Check(tt.remote)
			assert.Equal(t, tt.allowed, result.Allowed())
			assert.Equal(t, tt.allowed, c.IsAllowed(tt.remote))
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	c, err := NewController(cfg)
	require.NoError(t, err)

	assert.True(t, c.IsAllowed("127.0.0.1:1234"))
	assert.True(t, c.IsAllowed("[::1]:1234"))
	assert.False(t, c.IsAllowed("192.0.2.10:1234"))
}

func TestNewControllerErrors(t *testing.T) {
	_, err := NewController(Config{Allow: []string{"bogus"}})
	assert.ErrorContains(t, err, "allow")

	_, err = NewController(Config{Deny: []string{"10.0.0.0/99"}})
	assert.ErrorContains(t, err, "deny")

	assert.Error(t, Config{Deny: []string{"x"}}.Validate())
}

func TestStats(t *testing.T) {
	c, err := NewController(Config{
		Allow: []string{"10.0.0.0/8", "192.168.0.0/16"},
		Deny:  []string{"10.0.0.1"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"allow_entries": 2, "deny_entries": 1}, c.Stats())
}
