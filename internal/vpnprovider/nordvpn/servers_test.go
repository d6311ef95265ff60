package nordvpn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

func TestAPITechnologyUnmarshalMetadata(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		wantType Metadata
		wantKey  string
	}{
		{
			name:     "pair list",
			json:     `{"id":35,"identifier":"wireguard_udp","metadata":[{"name":"public_key","value":"KEY1"}]}`,
			wantType: PairList{},
			wantKey:  "KEY1",
		},
		{
			name:     "flat object",
			json:     `{"id":35,"identifier":"wireguard_udp","metadata":{"public_key":"KEY1"}}`,
			wantType: FlatObject{},
			wantKey:  "KEY1",
		},
		{
			name:    "null metadata",
			json:    `{"id":35,"identifier":"wireguard_udp","metadata":null}`,
			wantKey: "",
		},
		{
			name:    "absent metadata",
			json:    `{"id":35,"identifier":"wireguard_udp"}`,
			wantKey: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tech APITechnology
			require.NoError(t, json.Unmarshal([]byte(tt.json), &tech))
			assert.Equal(t, 35, tech.ID)
			assert.Equal(t, TechWireGuard, tech.Identifier)
			if tt.wantType == nil {
				assert.Nil(t, tech.Metadata)
			} else {
				assert.IsType(t, tt.wantType, tech.Metadata)
			}
			assert.Equal(t, tt.wantKey, ExtractPublicKey([]APITechnology{tech}, TechWireGuard))
		})
	}
}

func TestAPITechnologyUnmarshalRejectsScalarMetadata(t *testing.T) {
	var tech APITechnology
	err := json.Unmarshal([]byte(`{"identifier":"wireguard_udp","metadata":42}`), &tech)
	assert.Error(t, err)
}

func TestExtractPublicKey(t *testing.T) {
	t.Run("pair list and flat object agree", func(t *testing.T) {
		pairs := []APITechnology{{Identifier: TechWireGuard, Metadata: PairList{{Name: "x", Value: "y"}, {Name: "public_key", Value: "K"}}}}
		flat := []APITechnology{{Identifier: TechWireGuard, Metadata: FlatObject{"public_key": "K"}}}
		assert.Equal(t, ExtractPublicKey(pairs, TechWireGuard), ExtractPublicKey(flat, TechWireGuard))
	})

	t.Run("metadata wins over pivot", func(t *testing.T) {
		techs := []APITechnology{{
			Identifier: TechWireGuard,
			Metadata:   PairList{{Name: "public_key", Value: "META"}},
			Pivot:      APITechPivot{PublicKey: "PIVOT"},
		}}
		assert.Equal(t, "META", ExtractPublicKey(techs, TechWireGuard))
	})

	t.Run("pivot fallback", func(t *testing.T) {
		techs := []APITechnology{{Identifier: TechWireGuard, Metadata: FlatObject{"other": 1}, Pivot: APITechPivot{PublicKey: "PIVOT"}}}
		assert.Equal(t, "PIVOT", ExtractPublicKey(techs, TechWireGuard))
	})

	t.Run("non-string flat value ignored", func(t *testing.T) {
		techs := []APITechnology{{Identifier: TechWireGuard, Metadata: FlatObject{"public_key": 5.0}}}
		assert.Equal(t, "", ExtractPublicKey(techs, TechWireGuard))
	})

	t.Run("other identifier", func(t *testing.T) {
		techs := []APITechnology{{Identifier: TechOpenVPNUDP, Metadata: PairList{{Name: "public_key", Value: "K"}}}}
		assert.Equal(t, "", ExtractPublicKey(techs, TechWireGuard))
	})
}

func TestToRecord(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		s := APIServer{
			ID: 1, Name: "Germany #1", Hostname: "de1.nordvpn.com", Station: "185.1.1.1", Load: 25, Status: "ONLINE",
			Locations: []APILocation{{Country: APICountry{ID: 81, Name: "Germany", Code: "DE", City: &APICity{Name: "Berlin"}}}},
			Technologies: []APITechnology{
				{Identifier: TechOpenVPNUDP},
				{Identifier: TechWireGuard, Metadata: PairList{{Name: "public_key", Value: "DEKEY"}}},
			},
		}

		record, ok := s.ToRecord()
		require.True(t, ok)
		assert.Equal(t, vpnprovider.ServerRecord{
			ID:                    1,
			Name:                  "Germany #1",
			Hostname:              "de1.nordvpn.com",
			Station:               "185.1.1.1",
			Country:               "Germany",
			CountryID:             81,
			CountryCode:           "DE",
			City:                  "Berlin",
			Load:                  25,
			Status:                vpnprovider.StatusOnline,
			PublicKeyByTechnology: map[string]string{TechWireGuard: "DEKEY"},
		}, record)
	})

	t.Run("defaults", func(t *testing.T) {
		s := APIServer{
			ID: 2, Name: "x", Station: "10.0.0.1", Status: "maintenance",
			Locations: []APILocation{{}},
		}

		record, ok := s.ToRecord()
		require.True(t, ok)
		assert.Equal(t, "10.0.0.1", record.Hostname, "station used when hostname is empty")
		assert.Equal(t, UnknownCountry, record.Country)
		assert.Equal(t, "", record.City)
		assert.Equal(t, vpnprovider.StatusOffline, record.Status)
		assert.Nil(t, record.PublicKeyByTechnology)
	})

	t.Run("city next to country", func(t *testing.T) {
		s := APIServer{Locations: []APILocation{{Country: APICountry{Name: "France"}, City: &APICity{Name: "Paris"}}}}
		record, ok := s.ToRecord()
		require.True(t, ok)
		assert.Equal(t, "Paris", record.City)
	})

	t.Run("no location", func(t *testing.T) {
		_, ok := (&APIServer{ID: 3}).ToRecord()
		assert.False(t, ok)
	})
}

func TestNormalize(t *testing.T) {
	raw := mockServers()
	raw = append(raw, APIServer{
		ID: 4, Name: "Keyless", Hostname: "kl4.nordvpn.com",
		Locations: []APILocation{{Country: APICountry{Name: "Japan"}}},
	})

	records := Normalize(raw)
	assert.LessOrEqual(t, len(records), len(raw))
	require.Len(t, records, 3)
	for _, r := range records {
		assert.NotEqual(t, 3, r.ID, "record without locations is excluded")
	}

	wg := NormalizeFor(raw, TechWireGuard)
	require.Len(t, wg, 2)
	assert.Equal(t, "DEKEY", wg[0].PublicKey(TechWireGuard))
	assert.Equal(t, "FRKEY", wg[1].PublicKey(TechWireGuard))

	nordlynx := NormalizeFor(raw, TechNordLynx)
	assert.Len(t, nordlynx, 2, "nordlynx falls back to the wireguard_udp key")

	assert.Len(t, NormalizeFor(raw, TechOpenVPNUDP), 3, "only wireguard listings require a key")
}

func TestNormalizeEmpty(t *testing.T) {
	records := Normalize(nil)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}
