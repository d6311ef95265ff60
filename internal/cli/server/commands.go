// Package server provides the ctl commands that drive a running nordcfg
// server over its HTTP API.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rennerdo30/nordcfg/internal/config"
	"github.com/rennerdo30/nordcfg/internal/version"
	"github.com/rennerdo30/nordcfg/internal/wireguard"
)

// EnvToken names the environment variable holding the NordVPN token.
const EnvToken = "NORDVPN_TOKEN"

// tokenHeader carries the user token on the SOCKS listing.
const tokenHeader = "X-Auth-Token"

// APIClient is a client for the nordcfg HTTP API.
type APIClient struct {
	BaseURL string
	Token   string // NordVPN access token
	Client  *http.Client
	Out     io.Writer
}

// NewAPIClient creates a new API client.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Out:     os.Stdout,
	}
}

// ServerFilter holds the listing flags shared by the server commands.
type ServerFilter struct {
	Technology string
	CountryID  int
	Country    string
	City       string
	Search     string
	MaxLoad    int
	Sort       string
	Limit      int
	Page       int
	Refresh    bool
}

// Values encodes the filter as listing query parameters.
func (f ServerFilter) Values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("technology", f.Technology)
	set("country", f.Country)
	set("city", f.City)
	set("search", f.Search)
	set("sort", f.Sort)
	if f.CountryID > 0 {
		v.Set("country_id", strconv.Itoa(f.CountryID))
	}
	if f.MaxLoad > 0 {
		v.Set("max_load", strconv.Itoa(f.MaxLoad))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.Refresh {
		v.Set("refresh", "true")
	}
	return v
}

func addFilterFlags(cmd *cobra.Command, f *ServerFilter) {
	cmd.Flags().IntVar(&f.CountryID, "country-id", 0, "NordVPN country ID")
	cmd.Flags().StringVar(&f.Country, "country", "", "Country name or ID")
	cmd.Flags().StringVar(&f.City, "city", "", "City name")
	cmd.Flags().StringVarP(&f.Search, "search", "s", "", "Search name, hostname, country and city")
	cmd.Flags().IntVar(&f.MaxLoad, "max-load", 0, "Only servers with a load below this percentage")
	cmd.Flags().StringVar(&f.Sort, "sort", "", "Sort order: load_asc or load_desc")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 0, "Page size (0 = all)")
	cmd.Flags().IntVar(&f.Page, "page", 0, "Page number, starting at 1")
	cmd.Flags().BoolVar(&f.Refresh, "refresh", false, "Bypass the server cache")
}

// NewCommands creates the ctl commands.
func NewCommands() *cobra.Command {
	var apiURL string
	var token string

	root := &cobra.Command{
		Use:   "ctl",
		Short: "Query a running nordcfg server",
	}

	root.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "nordcfg server URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv(EnvToken), "NordVPN access token (default $"+EnvToken+")")

	newClient := func(cmd *cobra.Command) *APIClient {
		c := NewAPIClient(apiURL, token)
		c.Out = cmd.OutOrStdout()
		return c
	}

	// Health command
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(cmd).CheckHealth(cmd.Context())
		},
	}

	countriesCmd := &cobra.Command{
		Use:   "countries",
		Short: "List countries with servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(cmd).ListCountries(cmd.Context())
		},
	}

	var serversFilter ServerFilter
	serversCmd := &cobra.Command{
		Use:   "servers",
		Short: "List servers",
		Long: `List servers, filtered and sorted by the server.

Example:
  nordcfg-server ctl servers --country germany --max-load 30 --sort load_asc -n 10
  nordcfg-server ctl servers --technology openvpn_tcp --search frankfurt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(cmd).ListServers(cmd.Context(), "/api/nordvpn/servers", serversFilter)
		},
	}
	addFilterFlags(serversCmd, &serversFilter)
	serversCmd.Flags().StringVarP(&serversFilter.Technology, "technology", "t", "", "Technology identifier (default wireguard_udp)")

	// WireGuard command
	var wg WireGuardOptions
	var wgFilter ServerFilter
	wireguardCmd := &cobra.Command{
		Use:   "wireguard [hostname]",
		Short: "List WireGuard servers or write a WireGuard config",
		Long: `Without a hostname, list servers that announce a WireGuard key.
With a hostname, write a wg-quick config for it. The private key is resolved
from the token unless --private-key is given.

Example:
  nordcfg-server ctl wireguard --country germany -n 5
  nordcfg-server ctl wireguard de1234.nordvpn.com --dns quad9 -o wg0.conf`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd)
			if len(args) == 0 {
				return c.ListServers(cmd.Context(), "/api/nordvpn/wireguard", wgFilter)
			}
			wg.Hostname = args[0]
			return c.WriteWireGuardConfig(cmd.Context(), wg)
		},
	}
	addFilterFlags(wireguardCmd, &wgFilter)
	wireguardCmd.Flags().StringVar(&wg.PrivateKey, "private-key", "", "WireGuard private key")
	wireguardCmd.Flags().StringVar(&wg.PublicKey, "public-key", "", "Server public key (looked up when empty)")
	wireguardCmd.Flags().StringVar(&wg.DNS, "dns", "cloudflare", "DNS preset")
	wireguardCmd.Flags().StringVarP(&wg.Output, "output", "o", "", "Output file (default <hostname>.conf, - for stdout)")

	// OpenVPN command
	var ovpn OpenVPNOptions
	var ovpnFilter ServerFilter
	openvpnCmd := &cobra.Command{
		Use:   "openvpn [hostname]",
		Short: "List OpenVPN servers or download an .ovpn file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd)
			if len(args) == 0 {
				return c.ListServers(cmd.Context(), "/api/nordvpn/openvpn?protocol="+url.QueryEscape(ovpn.Protocol), ovpnFilter)
			}
			ovpn.Hostname = args[0]
			return c.WriteOpenVPNConfig(cmd.Context(), ovpn)
		},
	}
	addFilterFlags(openvpnCmd, &ovpnFilter)
	openvpnCmd.Flags().StringVarP(&ovpn.Protocol, "protocol", "p", "udp", "Protocol: udp or tcp")
	openvpnCmd.Flags().StringVarP(&ovpn.Output, "output", "o", "", "Output file (default <hostname>.<protocol>.ovpn, - for stdout)")

	var socksFilter ServerFilter
	socksCmd := &cobra.Command{
		Use:   "socks",
		Short: "List SOCKS5 servers and print the service credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(cmd).ListSocks(cmd.Context(), socksFilter)
		},
	}
	addFilterFlags(socksCmd, &socksFilter)

	// Cache commands
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the upstream response cache",
	}
	cacheCmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every cached response",
			RunE: func(cmd *cobra.Command, args []string) error {
				return newClient(cmd).ClearCache(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Remove expired cache entries",
			RunE: func(cmd *cobra.Command, args []string) error {
				return newClient(cmd).PurgeCache(cmd.Context())
			},
		},
	)

	root.AddCommand(healthCmd, countriesCmd, serversCmd, wireguardCmd, openvpnCmd, socksCmd, cacheCmd)
	return root
}

// apiError is the error body returned by the server.
type apiError struct {
	Error string `json:"error"`
}

func (c *APIClient) doRequest(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10)) //nolint:errcheck // Best effort read for error message
		var e apiError
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("API error: %s - %s", resp.Status, e.Error)
		}
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, bytes.TrimSpace(data))
	}
	return resp, nil
}

func (c *APIClient) call(ctx context.Context, method, path string, body, v any, header http.Header) error {
	resp, err := c.doRequest(ctx, method, path, body, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *APIClient) requireToken() error {
	if c.Token == "" {
		return errors.New("a NordVPN token is required (--token or $" + EnvToken + ")")
	}
	return nil
}

// CheckHealth checks server health.
func (c *APIClient) CheckHealth(ctx context.Context) error {
	var health map[string]any
	if err := c.call(ctx, http.MethodGet, "/healthz", nil, &health, nil); err != nil {
		return err
	}

	status := health["status"]
	if status == "healthy" {
		fmt.Fprintln(c.Out, "Server is healthy")
		return nil
	}

	fmt.Fprintf(c.Out, "Server health: %v\n", status)
	return nil
}

// ListCountries prints the country table.
func (c *APIClient) ListCountries(ctx context.Context) error {
	var resp struct {
		Countries []struct {
			ID          int    `json:"id"`
			Name        string `json:"name"`
			Code        string `json:"code"`
			ServerCount int    `json:"serverCount"`
		} `json:"countries"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/nordvpn/countries", nil, &resp, nil); err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tNAME\tSERVERS")
	for _, country := range resp.Countries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", country.ID, country.Code, country.Name, country.ServerCount)
	}
	return w.Flush()
}

// serverEntry is the listing entry printed by the server commands.
type serverEntry struct {
	Name      string `json:"name"`
	Hostname  string `json:"hostname"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Load      int    `json:"load"`
	Status    string `json:"status"`
	PublicKey string `json:"publicKey"`
}

type serversResponse struct {
	Servers  []serverEntry `json:"servers"`
	Total    int           `json:"total"`
	Username string        `json:"username"`
	Password string        `json:"password"`
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	q := u.Query()
	for k, vs := range v {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *APIClient) printServers(resp serversResponse) error {
	w := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOSTNAME\tCOUNTRY\tCITY\tLOAD\tSTATUS")
	for _, s := range resp.Servers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n", s.Hostname, s.Country, s.City, s.Load, s.Status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "\n%d of %d servers\n", len(resp.Servers), resp.Total)
	return nil
}

// ListServers prints a server listing from path.
func (c *APIClient) ListServers(ctx context.Context, path string, f ServerFilter) error {
	var resp serversResponse
	if err := c.call(ctx, http.MethodGet, withQuery(path, f.Values()), nil, &resp, nil); err != nil {
		return err
	}
	return c.printServers(resp)
}

// ListSocks prints the SOCKS credentials and servers.
func (c *APIClient) ListSocks(ctx context.Context, f ServerFilter) error {
	header := http.Header{}
	if c.Token != "" {
		header.Set(tokenHeader, c.Token)
	}

	var resp serversResponse
	if err := c.call(ctx, http.MethodGet, withQuery("/api/nordvpn/socks", f.Values()), nil, &resp, header); err != nil {
		return err
	}

	fmt.Fprintf(c.Out, "Username: %s\nPassword: %s\nPort:     1080\n\n", resp.Username, resp.Password)
	return c.printServers(resp)
}

// WireGuardOptions are the inputs of WriteWireGuardConfig.
type WireGuardOptions struct {
	Hostname   string
	PrivateKey string
	PublicKey  string
	DNS        string
	Output     string
}

// WriteWireGuardConfig renders a WireGuard config on the server and writes it.
func (c *APIClient) WriteWireGuardConfig(ctx context.Context, opts WireGuardOptions) error {
	if opts.PrivateKey == "" {
		if err := c.requireToken(); err != nil {
			return err
		}
		var creds struct {
			PrivateKey string `json:"privateKey"`
		}
		if err := c.call(ctx, http.MethodPost, "/api/nordvpn/credentials", map[string]string{"token": c.Token}, &creds, nil); err != nil {
			return fmt.Errorf("resolve private key: %w", err)
		}
		opts.PrivateKey = creds.PrivateKey
	}

	if opts.PublicKey == "" {
		key, err := c.lookupPublicKey(ctx, opts.Hostname)
		if err != nil {
			return err
		}
		opts.PublicKey = key
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/nordvpn/wireguard", map[string]string{
		"hostname":   opts.Hostname,
		"privateKey": opts.PrivateKey,
		"publicKey":  opts.PublicKey,
		"dnsOption":  opts.DNS,
	}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	cfg, err := wireguard.Parse(bytes.NewReader(data))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return fmt.Errorf("server returned an invalid WireGuard config: %w", err)
	}

	output := opts.Output
	if output == "" {
		output = wireguard.Filename(opts.Hostname)
	}
	return c.writeOutput(output, bytes.NewReader(data))
}

// lookupPublicKey finds the WireGuard key of hostname in the server listing.
func (c *APIClient) lookupPublicKey(ctx context.Context, hostname string) (string, error) {
	var resp serversResponse
	path := withQuery("/api/nordvpn/wireguard", url.Values{"search": {hostname}})
	if err := c.call(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
		return "", fmt.Errorf("look up public key: %w", err)
	}
	for _, s := range resp.Servers {
		if s.Hostname == hostname && s.PublicKey != "" {
			return s.PublicKey, nil
		}
	}
	return "", fmt.Errorf("no WireGuard public key found for %s", hostname)
}

// OpenVPNOptions are the inputs of WriteOpenVPNConfig.
type OpenVPNOptions struct {
	Hostname string
	Protocol string
	Output   string
}

// WriteOpenVPNConfig downloads an .ovpn file through the server and writes it.
func (c *APIClient) WriteOpenVPNConfig(ctx context.Context, opts OpenVPNOptions) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/nordvpn/openvpn", map[string]string{
		"hostname": opts.Hostname,
		"protocol": opts.Protocol,
	}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	output := opts.Output
	if output == "" {
		protocol := opts.Protocol
		if protocol == "" {
			protocol = "udp"
		}
		output = fmt.Sprintf("%s.%s.ovpn", opts.Hostname, protocol)
	}
	return c.writeOutput(output, resp.Body)
}

// writeOutput copies r to path, or to Out when path is "-".
func (c *APIClient) writeOutput(path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if path == "-" {
		_, err := c.Out.Write(data)
		return err
	}
	if err := config.WriteFile(path, data); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Wrote %s\n", path)
	return nil
}

// ClearCache drops the server's cached upstream responses.
func (c *APIClient) ClearCache(ctx context.Context) error {
	if err := c.call(ctx, http.MethodDelete, "/api/v1/cache", nil, nil, nil); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Cache cleared")
	return nil
}

// PurgeCache removes expired entries from the server's cache.
func (c *APIClient) PurgeCache(ctx context.Context) error {
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/cache/purge", nil, &resp, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Removed %d expired entries\n", resp.Removed)
	return nil
}
