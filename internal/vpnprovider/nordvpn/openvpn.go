package nordvpn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rennerdo30/nordcfg/internal/openvpn"
	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

// OpenVPN transport protocols.
const (
	ProtocolUDP = "udp"
	ProtocolTCP = "tcp"
)

// ParseProtocol normalizes an OpenVPN protocol. Empty means udp.
func ParseProtocol(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case "":
		return ProtocolUDP, nil
	case ProtocolUDP, ProtocolTCP:
		return p, nil
	default:
		return "", &vpnprovider.ValidationError{Field: "protocol", Reason: "must be udp or tcp"}
	}
}

// OpenVPNTechnology returns the technology identifier for protocol.
func OpenVPNTechnology(protocol string) string {
	if protocol == ProtocolTCP {
		return TechOpenVPNTCP
	}
	return TechOpenVPNUDP
}

// FetchOpenVPNConfig downloads the .ovpn file for hostname. When the API has
// no file for the server the static CDN copy is tried.
func (c *Client) FetchOpenVPNConfig(ctx context.Context, hostname, protocol string) (string, error) {
	if err := vpnprovider.ValidateHostname("hostname", hostname); err != nil {
		return "", err
	}
	protocol, err := ParseProtocol(protocol)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("server", hostname)
	params.Set("protocol", protocol)
	apiURL := c.baseURL + "/files/openvpn?" + params.Encode()

	body, _, err := c.get(ctx, request{
		endpoint: "/files/openvpn",
		url:      apiURL,
		accept:   "text/plain, application/x-openvpn-profile, */*",
	})
	if err == nil {
		return string(body), nil
	}

	var upstream *vpnprovider.UpstreamError
	if !errors.As(err, &upstream) || upstream.Status != http.StatusNotFound || c.cdnURL == "" {
		return "", fmt.Errorf("fetch openvpn config: %w", err)
	}

	c.logger.Debug("openvpn file not on API, trying CDN",
		"provider", ProviderName,
		"hostname", hostname,
		"protocol", protocol,
	)

	cdnURL := fmt.Sprintf("%s/ovpn_%s/servers/%s.%s.ovpn", c.cdnURL, protocol, url.PathEscape(hostname), protocol)
	body, _, err = c.get(ctx, request{
		endpoint: "cdn/ovpn_" + protocol,
		url:      cdnURL,
		accept:   "*/*",
	})
	if err != nil {
		return "", fmt.Errorf("fetch openvpn config from cdn: %w", err)
	}
	return string(body), nil
}

// OpenVPNConfig downloads and checks the .ovpn file for hostname. A file
// without a remote directive is reported as malformed.
func (c *Client) OpenVPNConfig(ctx context.Context, hostname, protocol string) (string, error) {
	content, err := c.FetchOpenVPNConfig(ctx, hostname, protocol)
	if err != nil {
		return "", err
	}

	cfg, err := openvpn.Parse(strings.NewReader(content))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return "", &vpnprovider.MalformedResponseError{Endpoint: "/files/openvpn", Err: err}
	}
	return content, nil
}
