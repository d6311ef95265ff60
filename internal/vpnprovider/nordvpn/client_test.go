package nordvpn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

func mockServers() []APIServer {
	return []APIServer{
		{
			ID:       1,
			Name:     "Germany #1",
			Hostname: "de1.nordvpn.com",
			Station:  "185.1.1.1",
			Load:     25,
			Status:   "online",
			Locations: []APILocation{
				{Country: APICountry{ID: 81, Name: "Germany", Code: "DE", City: &APICity{Name: "Berlin"}}},
			},
			Technologies: []APITechnology{
				{Identifier: TechWireGuard, Metadata: PairList{{Name: "public_key", Value: "DEKEY"}}},
			},
		},
		{
			ID:       2,
			Name:     "France #2",
			Hostname: "fr2.nordvpn.com",
			Load:     50,
			Status:   "online",
			Locations: []APILocation{
				{Country: APICountry{ID: 74, Name: "France", Code: "FR"}, City: &APICity{Name: "Paris"}},
			},
			Technologies: []APITechnology{
				{Identifier: TechWireGuard, Pivot: APITechPivot{PublicKey: "FRKEY"}},
			},
		},
		{
			ID:       3,
			Name:     "Nowhere #3",
			Hostname: "xx3.nordvpn.com",
			Load:     10,
			Status:   "online",
		},
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	upstream []int
	cache    []vpnprovider.CacheResult
}

func (o *recordingObserver) ObserveUpstream(_ string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.upstream = append(o.upstream, status)
}

func (o *recordingObserver) ObserveCache(_ string, result vpnprovider.CacheResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache = append(o.cache, result)
}

func TestNewClient(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		client := NewClient()
		assert.Equal(t, BaseURL, client.baseURL)
		assert.Equal(t, DefaultUserAgent, client.userAgent)
		assert.Equal(t, DefaultTimeout, client.timeout)
		assert.Equal(t, 0, client.retries)
		assert.Equal(t, vpnprovider.DefaultCatalogTTL, client.countries.TTL())
		assert.Equal(t, vpnprovider.DefaultListingTTL, client.servers.TTL())
	})

	t.Run("with options", func(t *testing.T) {
		client := NewClient(
			WithBaseURL("http://localhost:8080/"),
			WithUserAgent("nordcfg-test"),
			WithRetries(2, time.Second),
			WithCacheTTL(2*time.Hour, 30*time.Second),
		)
		assert.Equal(t, "http://localhost:8080", client.baseURL)
		assert.Equal(t, "nordcfg-test", client.userAgent)
		assert.Equal(t, 2, client.retries)
		assert.Equal(t, time.Second, client.retryBackoff)
		assert.Equal(t, 2*time.Hour, client.technologies.TTL())
		assert.Equal(t, 30*time.Second, client.servers.TTL())
	})
}

func TestClientName(t *testing.T) {
	assert.Equal(t, "nordvpn", NewClient().Name())
}

func TestFetchServers(t *testing.T) {
	var gotQuery, gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mockServers())
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	servers, err := client.FetchServers(context.Background(), vpnprovider.ServerQuery{
		Technology: TechWireGuard,
		CountryID:  81,
	})
	require.NoError(t, err)
	require.Len(t, servers, 3)

	assert.Equal(t, "limit=500&filters[servers_technologies][identifier]=wireguard_udp&filters[country_id]=81", gotQuery)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "DEKEY", ExtractPublicKey(servers[0].Technologies, TechWireGuard))
	assert.Equal(t, "FRKEY", ExtractPublicKey(servers[1].Technologies, TechWireGuard))
}

func TestFetchServersErrors(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		check       func(t *testing.T, err error)
		wantRetries bool
	}{
		{
			name: "503 is an upstream error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "maintenance", http.StatusServiceUnavailable)
			},
			check: func(t *testing.T, err error) {
				var upstream *vpnprovider.UpstreamError
				require.ErrorAs(t, err, &upstream)
				assert.Equal(t, http.StatusServiceUnavailable, upstream.Status)
				assert.Equal(t, "maintenance", upstream.Body)
			},
		},
		{
			name: "html body is malformed",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write([]byte("<html>blocked</html>"))
			},
			check: func(t *testing.T, err error) {
				var malformed *vpnprovider.MalformedResponseError
				require.ErrorAs(t, err, &malformed)
				assert.Equal(t, "text/html; charset=utf-8", malformed.ContentType)

				var upstream *vpnprovider.UpstreamError
				assert.False(t, errors.As(err, &upstream))
			},
		},
		{
			name: "object where array expected is malformed",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"servers":[]}`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, vpnprovider.ErrMalformedResponse)
			},
		},
		{
			name: "unknown metadata shape is malformed",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`[{"id":1,"technologies":[{"identifier":"wireguard_udp","metadata":"x"}]}]`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, vpnprovider.ErrMalformedResponse)
			},
		},
		{
			name: "long error body is truncated",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(strings.Repeat("x", 10000)))
			},
			check: func(t *testing.T, err error) {
				var upstream *vpnprovider.UpstreamError
				require.ErrorAs(t, err, &upstream)
				assert.Len(t, upstream.Body, 4096)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient(WithBaseURL(server.URL))
			_, err := client.FetchServers(context.Background(), vpnprovider.ServerQuery{})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestFetchServersEmptyContentTypeTolerated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte(`[{"id":7,"name":"x","locations":[{"country":{"name":"Japan"}}]}]`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	servers, err := client.FetchServers(context.Background(), vpnprovider.ServerQuery{})
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, 7, servers[0].ID)
}

func TestFetchServersNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(WithBaseURL(url))
	_, err := client.FetchServers(context.Background(), vpnprovider.ServerQuery{})

	var network *vpnprovider.NetworkError
	require.ErrorAs(t, err, &network)
	assert.ErrorIs(t, err, vpnprovider.ErrProviderUnavailable)
}

func TestFetchServersTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(WithBaseURL(server.URL), WithTimeout(50*time.Millisecond))
	_, err := client.FetchServers(context.Background(), vpnprovider.ServerQuery{})

	var network *vpnprovider.NetworkError
	require.ErrorAs(t, err, &network)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetries(t *testing.T) {
	t.Run("no retry by default", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewClient(WithBaseURL(server.URL))
		_, err := client.FetchServers(context.Background(), vpnprovider.ServerQuery{})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("5xx retried until success", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
		}))
		defer server.Close()

		client := NewClient(WithBaseURL(server.URL), WithRetries(3, time.Millisecond))
		servers, err := client.FetchServers(context.Background(), vpnprovider.ServerQuery{})
		require.NoError(t, err)
		assert.Empty(t, servers)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("4xx never retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := NewClient(WithBaseURL(server.URL), WithRetries(3, time.Millisecond))
		_, err := client.FetchServers(context.Background(), vpnprovider.ServerQuery{})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestListServersWithCache(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		callCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mockServers())
	}))
	defer server.Close()

	now := time.Unix(1_700_000_000, 0)
	observer := &recordingObserver{}
	client := NewClient(
		WithBaseURL(server.URL),
		WithClock(func() time.Time { return now }),
		WithObserver(observer),
	)
	ctx := context.Background()
	q := vpnprovider.ServerQuery{Technology: TechWireGuard}

	servers, err := client.ListServers(ctx, q)
	require.NoError(t, err)
	assert.Len(t, servers, 2, "server without location is dropped")
	assert.Equal(t, int32(1), callCount.Load())

	_, err = client.ListServers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(1), callCount.Load(), "identical query within TTL is served from cache")

	_, err = client.ListServers(ctx, vpnprovider.ServerQuery{Technology: TechWireGuard, CountryID: 81})
	require.NoError(t, err)
	assert.Equal(t, int32(2), callCount.Load(), "different query is a different cache entry")

	q.NoCache = true
	_, err = client.ListServers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(3), callCount.Load(), "NoCache refreshes")

	now = now.Add(time.Minute)
	_, err = client.ListServers(ctx, vpnprovider.ServerQuery{Technology: TechWireGuard})
	require.NoError(t, err)
	assert.Equal(t, int32(4), callCount.Load(), "expired after TTL")

	assert.Equal(t, []vpnprovider.CacheResult{
		vpnprovider.CacheMiss, vpnprovider.CacheHit, vpnprovider.CacheMiss, vpnprovider.CacheMiss, vpnprovider.CacheMiss,
	}, observer.cache)
	assert.Equal(t, []int{200, 200, 200, 200}, observer.upstream)
}

func TestRecommended(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers/recommendations", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mockServers()[:1])
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	servers, err := client.Recommended(context.Background(), 81)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "de1.nordvpn.com", servers[0].Hostname)
	assert.Equal(t, "limit=100&filters[country_id]=81", gotQuery)
}

func TestCountries(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers/countries", r.URL.Path)
		callCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":81,"name":"Germany","code":"DE","serverCount":300},
			{"id":2,"name":"Albania","code":"AL","serverCount":5}
		]`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	countries, err := client.Countries(context.Background())
	require.NoError(t, err)
	require.Len(t, countries, 2)
	assert.Equal(t, vpnprovider.Country{ID: 2, Name: "Albania", Code: "AL", ServerCount: 5}, countries[0])
	assert.Equal(t, "Germany", countries[1].Name)

	_, err = client.Countries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), callCount.Load())
}

func TestTechnologies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/technologies", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":35,"name":"Wireguard","identifier":"wireguard_udp","created_at":"x"}]`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	techs, err := client.Technologies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []vpnprovider.Technology{{ID: 35, Name: "Wireguard", Identifier: "wireguard_udp"}}, techs)
}

func TestClearAndPurgeCache(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		callCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	now := time.Unix(1_700_000_000, 0)
	client := NewClient(WithBaseURL(server.URL), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := client.Technologies(ctx)
	require.NoError(t, err)
	client.ClearCache()
	_, err = client.Technologies(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), callCount.Load())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, client.PurgeCache())
}
