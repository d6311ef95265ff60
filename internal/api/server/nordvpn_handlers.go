package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/rennerdo30/nordcfg/internal/logging"
	"github.com/rennerdo30/nordcfg/internal/session"
	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
	"github.com/rennerdo30/nordcfg/internal/wireguard"
)

// Technology identifiers used as listing defaults.
const (
	techWireGuard  = "wireguard_udp"
	techOpenVPNUDP = "openvpn_udp"
	techOpenVPNTCP = "openvpn_tcp"
	techSocks      = "socks"
)

// TokenHeader carries the user token when no session cookie is present.
const TokenHeader = "X-Auth-Token"

// Listing bounds.
const (
	maxPageSize = 1000
	maxLoad     = 100
)

type serversResponse struct {
	Success bool         `json:"success"`
	Servers []serverView `json:"servers"`
	Total   int          `json:"total"`
}

// serverView is a ServerRecord plus the key for the listing's technology.
type serverView struct {
	vpnprovider.ServerRecord
	PublicKey string `json:"publicKey,omitempty"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type wireGuardRequest struct {
	Hostname   string `json:"hostname"`
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
	DNSOption  string `json:"dnsOption"`
}

type openVPNRequest struct {
	Hostname string `json:"hostname"`
	Protocol string `json:"protocol"`
}

// listing is a parsed server listing request.
type listing struct {
	query  vpnprovider.ServerQuery
	filter vpnprovider.FilterSpec
	limit  int
	page   int
}

// parseListing reads the listing query parameters shared by the server
// routes. defaultTech applies when the request names no technology.
func (a *API) parseListing(r *http.Request, defaultTech string) (*listing, error) {
	q := r.URL.Query()
	l := &listing{page: 1}
	l.query.Technology = defaultTech
	l.query.Limit = a.serverLimit

	if v := q.Get("technology"); v != "" {
		if err := vpnprovider.ValidateText("technology", v); err != nil {
			return nil, err
		}
		l.query.Technology = v
	}

	if v := q.Get("country_id"); v != "" {
		id, err := positiveInt("country_id", v)
		if err != nil {
			return nil, err
		}
		l.query.CountryID = id
	}

	// country accepts an ID or a name; names are matched client-side.
	if v := strings.TrimSpace(q.Get("country")); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			if id <= 0 {
				return nil, &vpnprovider.ValidationError{Field: "country", Reason: "must be a positive country ID or a name"}
			}
			l.query.CountryID = id
		} else {
			if err := vpnprovider.ValidateText("country", v); err != nil {
				return nil, err
			}
			l.filter.CountryName = v
		}
	}
	if l.query.CountryID > 0 {
		id := l.query.CountryID
		l.filter.CountryID = &id
	}

	if v := q.Get("city"); v != "" {
		if err := vpnprovider.ValidateText("city", v); err != nil {
			return nil, err
		}
		l.filter.City = v
	}

	if v := q.Get("search"); v != "" {
		if err := vpnprovider.ValidateText("search", v); err != nil {
			return nil, err
		}
		l.filter.SearchText = v
	}

	if v := q.Get("max_load"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxLoad+1 {
			return nil, &vpnprovider.ValidationError{Field: "max_load", Reason: "must be an integer between 0 and 101"}
		}
		l.filter.MaxLoad = &n
	}

	sort, err := vpnprovider.ParseSortOrder(q.Get("sort"))
	if err != nil {
		return nil, err
	}
	l.filter.Sort = sort

	if v := q.Get("limit"); v != "" {
		n, err := positiveInt("limit", v)
		if err != nil {
			return nil, err
		}
		if n > maxPageSize {
			return nil, &vpnprovider.ValidationError{Field: "limit", Reason: fmt.Sprintf("must not exceed %d", maxPageSize)}
		}
		l.limit = n
	}

	if v := q.Get("page"); v != "" {
		n, err := positiveInt("page", v)
		if err != nil {
			return nil, err
		}
		l.page = n
	}

	if v := q.Get("refresh"); v != "" {
		refresh, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &vpnprovider.ValidationError{Field: "refresh", Reason: "must be a boolean"}
		}
		l.query.NoCache = refresh
	}

	return l, nil
}

func positiveInt(field, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, &vpnprovider.ValidationError{Field: field, Reason: "must be a positive integer"}
	}
	return n, nil
}

// apply filters, sorts and pages records for the listing.
func (l *listing) apply(records []vpnprovider.ServerRecord) ([]vpnprovider.ServerRecord, int) {
	filtered := vpnprovider.Apply(records, l.filter)
	total := len(filtered)
	if l.limit > 0 {
		filtered = vpnprovider.Paginate(filtered, l.limit, (l.page-1)*l.limit)
	}
	return filtered, total
}

func views(records []vpnprovider.ServerRecord, technology string) []serverView {
	out := make([]serverView, len(records))
	for i, rec := range records {
		out[i] = serverView{ServerRecord: rec, PublicKey: rec.PublicKey(technology)}
	}
	return out
}

// decodeJSON reads a JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return vpnprovider.Required("body")
		}
		return &vpnprovider.ValidationError{Field: "body", Reason: "must be a JSON object"}
	}
	return nil
}

// attachment writes body as a downloadable text file.
func attachment(w http.ResponseWriter, filename, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (a *API) handleCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := a.provider.Countries(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Warn("countries endpoint failed, deriving from servers", "error", err)

		records, lerr := a.provider.ListServers(r.Context(), vpnprovider.ServerQuery{Limit: a.serverLimit})
		if lerr != nil {
			fail(w, r, err)
			return
		}
		countries = vpnprovider.CountriesFromServers(records)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"countries": countries,
	})
}

func (a *API) handleTechnologies(w http.ResponseWriter, r *http.Request) {
	techs, err := a.provider.Technologies(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"technologies": techs,
	})
}

func (a *API) handleCredentials(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	creds, err := a.provider.ResolveCredentials(r.Context(), req.Token)
	if err != nil {
		fail(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("resolved credentials", "token", session.Fingerprint(req.Token))
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*vpnprovider.Credentials
	}{true, creds})
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	creds, err := a.provider.ResolveServiceCredentials(r.Context(), req.Token)
	if err != nil {
		fail(w, r, err)
		return
	}

	cookie, err := a.sealer.Cookie(req.Token)
	if err != nil {
		fail(w, r, err)
		return
	}
	http.SetCookie(w, cookie)

	logging.FromContext(r.Context()).Info("issued session", "token", session.Fingerprint(req.Token))
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*vpnprovider.ServiceCredentials
	}{true, creds})
}

// serveListing answers a listing route for the given default technology.
func (a *API) serveListing(w http.ResponseWriter, r *http.Request, defaultTech string) {
	l, err := a.parseListing(r, defaultTech)
	if err != nil {
		fail(w, r, err)
		return
	}

	records, err := a.provider.ListServers(r.Context(), l.query)
	if err != nil {
		fail(w, r, err)
		return
	}

	page, total := l.apply(records)
	writeJSON(w, http.StatusOK, serversResponse{
		Success: true,
		Servers: views(page, l.query.Technology),
		Total:   total,
	})
}

func (a *API) handleServers(w http.ResponseWriter, r *http.Request) {
	a.serveListing(w, r, techWireGuard)
}

func (a *API) handleWireGuardServers(w http.ResponseWriter, r *http.Request) {
	a.serveListing(w, r, techWireGuard)
}

func (a *API) handleOpenVPNServers(w http.ResponseWriter, r *http.Request) {
	tech := techOpenVPNUDP
	if strings.EqualFold(r.URL.Query().Get("protocol"), "tcp") {
		tech = techOpenVPNTCP
	}
	a.serveListing(w, r, tech)
}

func (a *API) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	countryID := 0
	if v := r.URL.Query().Get("country_id"); v != "" {
		id, err := positiveInt("country_id", v)
		if err != nil {
			fail(w, r, err)
			return
		}
		countryID = id
	}

	records, err := a.provider.Recommended(r.Context(), countryID)
	if err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, serversResponse{
		Success: true,
		Servers: views(records, techWireGuard),
		Total:   len(records),
	})
}

func (a *API) handleWireGuardConfig(w http.ResponseWriter, r *http.Request) {
	var req wireGuardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.DNSOption == "" {
		req.DNSOption = wireguard.DefaultDNSPreset
	}

	conf, err := a.renderer.Render(req.PrivateKey, req.Hostname, req.PublicKey, req.DNSOption)
	if err != nil {
		fail(w, r, err)
		return
	}

	a.metrics.RecordConfig("wireguard")
	logging.FromContext(r.Context()).Info("rendered wireguard config", "hostname", req.Hostname, "dns", req.DNSOption)
	attachment(w, wireguard.Filename(req.Hostname), conf)
}

func (a *API) handleOpenVPNConfig(w http.ResponseWriter, r *http.Request) {
	var req openVPNRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	protocol := strings.ToLower(strings.TrimSpace(req.Protocol))
	if protocol == "" {
		protocol = "udp"
	}
	if protocol != "udp" && protocol != "tcp" {
		fail(w, r, &vpnprovider.ValidationError{Field: "protocol", Reason: "must be tcp or udp"})
		return
	}
	if err := vpnprovider.ValidateHostname("hostname", req.Hostname); err != nil {
		fail(w, r, err)
		return
	}

	conf, err := a.provider.OpenVPNConfig(r.Context(), req.Hostname, protocol)
	if err != nil {
		fail(w, r, err)
		return
	}

	a.metrics.RecordConfig("openvpn")
	logging.FromContext(r.Context()).Info("served openvpn config", "hostname", req.Hostname, "protocol", protocol)
	attachment(w, fmt.Sprintf("%s.%s.ovpn", req.Hostname, protocol), conf)
}

// requestToken returns the user token from the session cookie or the
// X-Auth-Token header.
func (a *API) requestToken(r *http.Request) string {
	if token, err := a.sealer.TokenFromRequest(r); err == nil && token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get(TokenHeader))
}

// socksCredentials resolves the SOCKS credentials for r. A token that
// fails to resolve falls back to the configured credentials.
func (a *API) socksCredentials(r *http.Request) (*vpnprovider.ServiceCredentials, error) {
	logger := logging.FromContext(r.Context())

	if token := a.requestToken(r); token != "" {
		creds, err := a.provider.ResolveServiceCredentials(r.Context(), token)
		if err == nil {
			return creds, nil
		}
		logger.Warn("token did not resolve, using fallback credentials",
			"token", session.Fingerprint(token),
			"error", err,
		)
	}

	if !a.socks.Configured() {
		return nil, errNoSocksCredentials
	}
	return &vpnprovider.ServiceCredentials{Username: a.socks.Username, Password: a.socks.Password}, nil
}

func (a *API) handleSocks(w http.ResponseWriter, r *http.Request) {
	creds, err := a.socksCredentials(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	l, err := a.parseListing(r, techSocks)
	if err != nil {
		fail(w, r, err)
		return
	}

	records, err := a.provider.ListServers(r.Context(), l.query)
	if err != nil {
		fail(w, r, err)
		return
	}

	page, total := l.apply(records)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"servers":  page,
		"total":    total,
		"username": creds.Username,
		"password": creds.Password,
	})
}
