package nordvpn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

// Technology identifiers from NordVPN API.
const (
	TechOpenVPNUDP  = "openvpn_udp"
	TechOpenVPNTCP  = "openvpn_tcp"
	TechWireGuard   = "wireguard_udp"
	TechNordLynx    = "nordlynx" // NordVPN's WireGuard implementation
	TechIKEv2       = "ikev2"
	TechSOCKS5Proxy = "socks"
)

// DefaultWireGuardPort is the NordLynx endpoint port.
const DefaultWireGuardPort = 51820

// UnknownCountry is used when a location carries no country name.
const UnknownCountry = "Unknown"

// IsWireGuard reports whether records for technology need a public key.
func IsWireGuard(technology string) bool {
	return technology == TechWireGuard || technology == TechNordLynx
}

// WireGuardKey returns the record's key for technology. NordLynx servers
// announce their key under wireguard_udp.
func WireGuardKey(record vpnprovider.ServerRecord, technology string) string {
	if key := record.PublicKey(technology); key != "" {
		return key
	}
	if technology == TechNordLynx {
		return record.PublicKey(TechWireGuard)
	}
	return ""
}

// APIServer represents a server from the NordVPN API.
type APIServer struct {
	ID           int             `json:"id"`
	Name         string          `json:"name"`
	Station      string          `json:"station"` // IP address
	Hostname     string          `json:"hostname"`
	Load         int             `json:"load"`
	Status       string          `json:"status"`
	Locations    []APILocation   `json:"locations"`
	Technologies []APITechnology `json:"technologies"`
}

// APILocation represents a server location. Depending on the endpoint the
// city is nested under the country or sits next to it.
type APILocation struct {
	ID      int        `json:"id"`
	Country APICountry `json:"country"`
	City    *APICity   `json:"city,omitempty"`
}

// APICountry represents country information.
type APICountry struct {
	ID   int      `json:"id"`
	Name string   `json:"name"`
	Code string   `json:"code"`
	City *APICity `json:"city,omitempty"`
}

// APICity represents city information.
type APICity struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	DNSName string `json:"dns_name,omitempty"`
}

// APITechnology represents a technology/protocol supported by the server.
type APITechnology struct {
	ID         int          `json:"id"`
	Name       string       `json:"name,omitempty"`
	Identifier string       `json:"identifier"`
	Pivot      APITechPivot `json:"pivot"`
	Metadata   Metadata     `json:"metadata,omitempty"`
}

// APITechPivot contains the status of a technology on a server.
type APITechPivot struct {
	TechnologyID int    `json:"technology_id"`
	ServerID     int    `json:"server_id"`
	Status       string `json:"status,omitempty"`
	PublicKey    string `json:"public_key,omitempty"`
}

// Metadata is the technology metadata, which the API returns either as a
// list of name/value pairs or as a flat object. It is one of PairList or
// FlatObject.
type Metadata interface {
	// PublicKey returns the announced public key, or "".
	PublicKey() string
	isMetadata()
}

// MetadataPair is one entry of a PairList.
type MetadataPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PairList is the [{"name":..., "value":...}] metadata form.
type PairList []MetadataPair

// PublicKey returns the value of the first public_key pair.
func (p PairList) PublicKey() string {
	for _, m := range p {
		if m.Name == "public_key" {
			return m.Value
		}
	}
	return ""
}

func (PairList) isMetadata() {}

// FlatObject is the {"public_key": ...} metadata form.
type FlatObject map[string]any

// PublicKey returns the public_key member when it is a string.
func (f FlatObject) PublicKey() string {
	if v, ok := f["public_key"].(string); ok {
		return v
	}
	return ""
}

func (FlatObject) isMetadata() {}

// UnmarshalJSON picks the metadata variant from the JSON shape.
func (t *APITechnology) UnmarshalJSON(data []byte) error {
	type plain APITechnology
	var raw struct {
		plain
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = APITechnology(raw.plain)
	t.Metadata = nil

	meta := bytes.TrimSpace(raw.Metadata)
	if len(meta) == 0 || bytes.Equal(meta, []byte("null")) {
		return nil
	}

	switch meta[0] {
	case '[':
		var pairs PairList
		if err := json.Unmarshal(meta, &pairs); err != nil {
			return fmt.Errorf("technology %q metadata: %w", t.Identifier, err)
		}
		t.Metadata = pairs
	case '{':
		var flat FlatObject
		if err := json.Unmarshal(meta, &flat); err != nil {
			return fmt.Errorf("technology %q metadata: %w", t.Identifier, err)
		}
		t.Metadata = flat
	default:
		return fmt.Errorf("technology %q metadata: unsupported JSON shape", t.Identifier)
	}
	return nil
}

// APICountryInfo represents a country from the countries endpoint.
type APICountryInfo struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	ServerCount int    `json:"serverCount"`
}

// ToCountry converts an API country to the common Country format.
func (c *APICountryInfo) ToCountry() vpnprovider.Country {
	return vpnprovider.Country{
		ID:          c.ID,
		Code:        c.Code,
		Name:        c.Name,
		ServerCount: c.ServerCount,
	}
}

// APITechnologyInfo is an entry of the /technologies catalogue.
type APITechnologyInfo struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// IsOnline returns true if the server status indicates it's available.
func (s *APIServer) IsOnline() bool {
	return strings.EqualFold(strings.TrimSpace(s.Status), vpnprovider.StatusOnline)
}

// ExtractPublicKey returns the public key announced for identifier. The
// technology metadata is consulted first, then the pivot.
func ExtractPublicKey(techs []APITechnology, identifier string) string {
	for _, tech := range techs {
		if tech.Identifier != identifier {
			continue
		}
		if tech.Metadata != nil {
			if key := tech.Metadata.PublicKey(); key != "" {
				return key
			}
		}
		if tech.Pivot.PublicKey != "" {
			return tech.Pivot.PublicKey
		}
	}
	return ""
}

// ToRecord converts an API server to a ServerRecord. ok is false when the
// server has no location.
func (s *APIServer) ToRecord() (vpnprovider.ServerRecord, bool) {
	if len(s.Locations) == 0 {
		return vpnprovider.ServerRecord{}, false
	}
	loc := s.Locations[0]

	record := vpnprovider.ServerRecord{
		ID:          s.ID,
		Name:        s.Name,
		Hostname:    s.Hostname,
		Station:     s.Station,
		Country:     loc.Country.Name,
		CountryID:   loc.Country.ID,
		CountryCode: loc.Country.Code,
		Load:        s.Load,
		Status:      vpnprovider.StatusOffline,
	}
	if record.Hostname == "" {
		record.Hostname = s.Station
	}
	if record.Country == "" {
		record.Country = UnknownCountry
	}
	switch {
	case loc.Country.City != nil && loc.Country.City.Name != "":
		record.City = loc.Country.City.Name
	case loc.City != nil:
		record.City = loc.City.Name
	}
	if s.IsOnline() {
		record.Status = vpnprovider.StatusOnline
	}

	for _, tech := range s.Technologies {
		if _, seen := record.PublicKeyByTechnology[tech.Identifier]; seen {
			continue
		}
		if key := ExtractPublicKey(s.Technologies, tech.Identifier); key != "" {
			if record.PublicKeyByTechnology == nil {
				record.PublicKeyByTechnology = make(map[string]string)
			}
			record.PublicKeyByTechnology[tech.Identifier] = key
		}
	}

	return record, true
}

// Normalize converts raw servers into records, dropping those without a
// location.
func Normalize(raw []APIServer) []vpnprovider.ServerRecord {
	return normalize(raw, "", slog.Default())
}

// NormalizeFor is Normalize for a listing of one technology. For WireGuard
// technologies, records without a public key for it are dropped as well.
func NormalizeFor(raw []APIServer, technology string) []vpnprovider.ServerRecord {
	return normalize(raw, technology, slog.Default())
}

func normalize(raw []APIServer, technology string, logger *slog.Logger) []vpnprovider.ServerRecord {
	records := make([]vpnprovider.ServerRecord, 0, len(raw))
	requireKey := IsWireGuard(technology)

	var noLocation, noKey int
	for i := range raw {
		record, ok := raw[i].ToRecord()
		if !ok {
			noLocation++
			logger.Debug("dropping server without location",
				"provider", ProviderName,
				"server", raw[i].Name,
			)
			continue
		}
		if requireKey && WireGuardKey(record, technology) == "" {
			noKey++
			logger.Debug("dropping server without public key",
				"provider", ProviderName,
				"server", raw[i].Name,
				"technology", technology,
			)
			continue
		}
		records = append(records, record)
	}

	if noLocation > 0 || noKey > 0 {
		logger.Debug("normalized servers",
			"provider", ProviderName,
			"total", len(raw),
			"kept", len(records),
			"no_location", noLocation,
			"no_key", noKey,
		)
	}
	return records
}
