// Package nordvpn implements the NordVPN upstream client for nordcfg.
package nordvpn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

const (
	// BaseURL is the NordVPN API base URL.
	BaseURL = "https://api.nordvpn.com/v1"

	// CDNURL hosts static .ovpn files.
	CDNURL = "https://downloads.nordcdn.com/configs/files"

	// DefaultTimeout bounds every upstream request.
	DefaultTimeout = 15 * time.Second

	// DefaultServerLimit is the default limit for server listings.
	DefaultServerLimit = 500

	// DefaultRecommendationLimit is the default limit for recommendations.
	DefaultRecommendationLimit = 100

	// DefaultRetryBackoff is the first delay between retries.
	DefaultRetryBackoff = 500 * time.Millisecond

	// DefaultUserAgent mimics a desktop browser; the API rejects some
	// non-browser agents.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

	// ProviderName is the name of this provider.
	ProviderName = "nordvpn"

	// maxErrorBody caps the upstream body kept on an UpstreamError.
	maxErrorBody = 4 << 10

	// maxResponseBody caps successful upstream bodies.
	maxResponseBody = 64 << 20
)

// Observer receives upstream and cache events. Implemented by metrics.Metrics.
type Observer interface {
	ObserveUpstream(endpoint string, status int, duration time.Duration)
	ObserveCache(cache string, result vpnprovider.CacheResult)
}

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, int, time.Duration) {}
func (nopObserver) ObserveCache(string, vpnprovider.CacheResult) {}

// Client is the NordVPN API client.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	cdnURL       string
	userAgent    string
	timeout      time.Duration
	retries      int
	retryBackoff time.Duration
	catalogTTL   time.Duration
	listingTTL   time.Duration
	now          func() time.Time
	logger       *slog.Logger
	observer     Observer

	servers      *vpnprovider.TTLCache[[]vpnprovider.ServerRecord]
	countries    *vpnprovider.TTLCache[[]vpnprovider.Country]
	technologies *vpnprovider.TTLCache[[]vpnprovider.Technology]
}

var _ vpnprovider.Provider = (*Client)(nil)

// ClientOption is a function that configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCDNURL sets the base URL for the .ovpn fallback download.
func WithCDNURL(cdnURL string) ClientOption {
	return func(c *Client) {
		c.cdnURL = strings.TrimRight(cdnURL, "/")
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries enables retries of network failures and 5xx responses.
func WithRetries(n int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = max(n, 0)
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithCacheTTL sets the TTLs for catalogue data (countries, technologies)
// and for server listings.
func WithCacheTTL(catalog, listing time.Duration) ClientOption {
	return func(c *Client) {
		c.catalogTTL = catalog
		c.listingTTL = listing
	}
}

// WithClock sets the clock used for cache expiry and credential expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewClient creates a new NordVPN API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		baseURL:      BaseURL,
		cdnURL:       CDNURL,
		userAgent:    DefaultUserAgent,
		timeout:      DefaultTimeout,
		retryBackoff: DefaultRetryBackoff,
		catalogTTL:   vpnprovider.DefaultCatalogTTL,
		listingTTL:   vpnprovider.DefaultListingTTL,
		now:          time.Now,
		logger:       slog.Default(),
		observer:     nopObserver{},
	}

	for _, opt := range opts {
		opt(c)
	}

	cacheOpts := []vpnprovider.CacheOption{
		vpnprovider.WithCacheClock(c.now),
		vpnprovider.WithCacheObserver(c.observer.ObserveCache),
	}
	c.servers = vpnprovider.NewTTLCache[[]vpnprovider.ServerRecord]("servers", c.listingTTL, cacheOpts...)
	c.countries = vpnprovider.NewTTLCache[[]vpnprovider.Country]("countries", c.catalogTTL, cacheOpts...)
	c.technologies = vpnprovider.NewTTLCache[[]vpnprovider.Technology]("technologies", c.catalogTTL, cacheOpts...)

	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// FetchServers retrieves servers matching q from the API.
func (c *Client) FetchServers(ctx context.Context, q vpnprovider.ServerQuery) ([]APIServer, error) {
	query := serversQuery(q)
	if err := query.Err(); err != nil {
		return nil, err
	}

	var servers []APIServer
	if err := c.getJSON(ctx, "/servers", query.Encode(), "", &servers); err != nil {
		return nil, fmt.Errorf("fetch servers: %w", err)
	}
	return servers, nil
}

// FetchRecommended fetches recommended servers, optionally for one country.
func (c *Client) FetchRecommended(ctx context.Context, countryID, limit int) ([]APIServer, error) {
	if limit <= 0 {
		limit = DefaultRecommendationLimit
	}
	query := NewQuery().Limit(limit)
	if countryID > 0 {
		query.Filter(FilterCountryID, "", fmt.Sprint(countryID))
	}

	var servers []APIServer
	if err := c.getJSON(ctx, "/servers/recommendations", query.Encode(), "", &servers); err != nil {
		return nil, fmt.Errorf("fetch recommendations: %w", err)
	}
	return servers, nil
}

// FetchCountries retrieves the country list, sorted by name.
func (c *Client) FetchCountries(ctx context.Context) ([]vpnprovider.Country, error) {
	var apiCountries []APICountryInfo
	if err := c.getJSON(ctx, "/servers/countries", "", "", &apiCountries); err != nil {
		return nil, fmt.Errorf("fetch countries: %w", err)
	}

	countries := make([]vpnprovider.Country, 0, len(apiCountries))
	for i := range apiCountries {
		countries = append(countries, apiCountries[i].ToCountry())
	}
	vpnprovider.SortCountries(countries)
	return countries, nil
}

// FetchTechnologies retrieves the technology catalogue.
func (c *Client) FetchTechnologies(ctx context.Context) ([]vpnprovider.Technology, error) {
	var apiTechs []APITechnologyInfo
	if err := c.getJSON(ctx, "/technologies", "", "", &apiTechs); err != nil {
		return nil, fmt.Errorf("fetch technologies: %w", err)
	}

	techs := make([]vpnprovider.Technology, 0, len(apiTechs))
	for _, t := range apiTechs {
		techs = append(techs, vpnprovider.Technology(t))
	}
	return techs, nil
}

// ListServers returns normalized servers for q, cached per query.
func (c *Client) ListServers(ctx context.Context, q vpnprovider.ServerQuery) ([]vpnprovider.ServerRecord, error) {
	key := "servers?" + serversQuery(q).Encode()
	return c.servers.GetOrLoad(ctx, key, q.NoCache, func(ctx context.Context) ([]vpnprovider.ServerRecord, error) {
		raw, err := c.FetchServers(ctx, q)
		if err != nil {
			return nil, err
		}
		records := normalize(raw, q.Technology, c.logger)
		c.logger.Info("fetched servers",
			"provider", ProviderName,
			"technology", q.Technology,
			"total", len(raw),
			"kept", len(records),
		)
		return records, nil
	})
}

// Recommended returns normalized recommended servers, cached per country.
func (c *Client) Recommended(ctx context.Context, countryID int) ([]vpnprovider.ServerRecord, error) {
	key := fmt.Sprintf("recommendations?country_id=%d", countryID)
	return c.servers.GetOrLoad(ctx, key, false, func(ctx context.Context) ([]vpnprovider.ServerRecord, error) {
		raw, err := c.FetchRecommended(ctx, countryID, DefaultRecommendationLimit)
		if err != nil {
			return nil, err
		}
		return normalize(raw, "", c.logger), nil
	})
}

// Countries returns the cached country list.
func (c *Client) Countries(ctx context.Context) ([]vpnprovider.Country, error) {
	return c.countries.GetOrLoad(ctx, "countries", false, c.FetchCountries)
}

// Technologies returns the cached technology catalogue.
func (c *Client) Technologies(ctx context.Context) ([]vpnprovider.Technology, error) {
	return c.technologies.GetOrLoad(ctx, "technologies", false, c.FetchTechnologies)
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.servers.Clear()
	c.countries.Clear()
	c.technologies.Clear()
}

// PurgeCache removes expired entries and returns how many were removed.
func (c *Client) PurgeCache() int {
	return c.servers.Purge() + c.countries.Purge() + c.technologies.Purge()
}

func serversQuery(q vpnprovider.ServerQuery) *Query {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultServerLimit
	}
	query := NewQuery().Limit(limit).Offset(q.Offset)
	if q.Technology != "" {
		query.Filter(FilterServersTechnologies, SubfieldIdentifier, q.Technology)
	}
	if q.CountryID > 0 {
		query.Filter(FilterCountryID, "", fmt.Sprint(q.CountryID))
	}
	return query
}

// request describes one upstream GET.
type request struct {
	endpoint string // path used for logs, metrics and errors
	url      string
	accept   string
	token    string // sent as basic auth when set
}

// getJSON fetches endpoint and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, rawQuery, token string, out any) error {
	u := c.baseURL + endpoint
	if rawQuery != "" {
		u += "?" + rawQuery
	}

	body, contentType, err := c.get(ctx, request{endpoint: endpoint, url: u, accept: "application/json", token: token})
	if err != nil {
		return err
	}

	if contentType != "" {
		mediaType, _, parseErr := mime.ParseMediaType(contentType)
		if parseErr != nil || (mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json")) {
			return &vpnprovider.MalformedResponseError{Endpoint: endpoint, ContentType: contentType}
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &vpnprovider.MalformedResponseError{Endpoint: endpoint, ContentType: contentType, Err: err}
	}
	return nil
}

// get performs req, retrying network failures and 5xx responses when enabled.
func (c *Client) get(ctx context.Context, req request) ([]byte, string, error) {
	backoff := c.retryBackoff
	for attempt := 0; ; attempt++ {
		body, contentType, err := c.do(ctx, req)
		if err == nil || attempt >= c.retries || !retryable(err) {
			return body, contentType, err
		}

		c.logger.Debug("retrying upstream request",
			"provider", ProviderName,
			"endpoint", req.endpoint,
			"attempt", attempt+1,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, "", &vpnprovider.NetworkError{Endpoint: req.endpoint, Err: ctx.Err()}
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (c *Client) do(ctx context.Context, r request) ([]byte, string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", r.accept)
	req.Header.Set("User-Agent", c.userAgent)
	if r.token != "" {
		req.SetBasicAuth("token", r.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observer.ObserveUpstream(r.endpoint, 0, time.Since(start))
		return nil, "", &vpnprovider.NetworkError{Endpoint: r.endpoint, Err: err}
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	c.observer.ObserveUpstream(r.endpoint, resp.StatusCode, duration)
	c.logger.Debug("upstream request",
		"provider", ProviderName,
		"endpoint", r.endpoint,
		"status", resp.StatusCode,
		"duration", duration,
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // Body is informational
		return nil, "", &vpnprovider.UpstreamError{
			Endpoint: r.endpoint,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, "", &vpnprovider.NetworkError{Endpoint: r.endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func retryable(err error) bool {
	var upstream *vpnprovider.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Temporary()
	}
	var network *vpnprovider.NetworkError
	return errors.As(err, &network)
}
