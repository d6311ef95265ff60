package vpnprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func hostnames(records []ServerRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Hostname)
	}
	return out
}

func sampleServers() []ServerRecord {
	return []ServerRecord{
		{ID: 1, Name: "Germany #1", Hostname: "de1.nordvpn.com", Country: "Germany", CountryID: 81, CountryCode: "DE", City: "Berlin", Load: 30},
		{ID: 2, Name: "France #2", Hostname: "fr2.nordvpn.com", Country: "France", CountryID: 74, CountryCode: "FR", City: "Paris", Load: 10},
		{ID: 3, Name: "Germany #3", Hostname: "de3.nordvpn.com", Country: "Germany", CountryID: 81, CountryCode: "DE", City: "Frankfurt", Load: 29},
		{ID: 4, Name: "France #4", Hostname: "fr4.nordvpn.com", Country: "France", CountryID: 74, CountryCode: "FR", City: "Marseille", Load: 10},
		{ID: 5, Name: "Österreich #5", Hostname: "at5.nordvpn.com", Country: "Austria", CountryID: 14, CountryCode: "AT", City: "Vienna", Load: 0},
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		spec FilterSpec
		want []string
	}{
		{
			name: "empty spec keeps everything",
			spec: FilterSpec{},
			want: []string{"de1.nordvpn.com", "fr2.nordvpn.com", "de3.nordvpn.com", "fr4.nordvpn.com", "at5.nordvpn.com"},
		},
		{
			name: "max load is strict",
			spec: FilterSpec{MaxLoad: intPtr(30)},
			want: []string{"fr2.nordvpn.com", "de3.nordvpn.com", "fr4.nordvpn.com", "at5.nordvpn.com"},
		},
		{
			name: "search matches country case-insensitively",
			spec: FilterSpec{SearchText: "ger"},
			want: []string{"de1.nordvpn.com", "de3.nordvpn.com"},
		},
		{
			name: "search matches hostname",
			spec: FilterSpec{SearchText: "FR4"},
			want: []string{"fr4.nordvpn.com"},
		},
		{
			name: "search folds unicode",
			spec: FilterSpec{SearchText: "ÖSTERREICH"},
			want: []string{"at5.nordvpn.com"},
		},
		{
			name: "city is case-insensitive equality",
			spec: FilterSpec{City: "paris"},
			want: []string{"fr2.nordvpn.com"},
		},
		{
			name: "city is not a substring match",
			spec: FilterSpec{City: "par"},
			want: []string{},
		},
		{
			name: "country id",
			spec: FilterSpec{CountryID: intPtr(74)},
			want: []string{"fr2.nordvpn.com", "fr4.nordvpn.com"},
		},
		{
			name: "country name",
			spec: FilterSpec{CountryName: "germany"},
			want: []string{"de1.nordvpn.com", "de3.nordvpn.com"},
		},
		{
			name: "sort ascending keeps ties in order",
			spec: FilterSpec{Sort: SortLoadAsc},
			want: []string{"at5.nordvpn.com", "fr2.nordvpn.com", "fr4.nordvpn.com", "de3.nordvpn.com", "de1.nordvpn.com"},
		},
		{
			name: "sort descending keeps ties in order",
			spec: FilterSpec{Sort: SortLoadDesc},
			want: []string{"de1.nordvpn.com", "de3.nordvpn.com", "fr2.nordvpn.com", "fr4.nordvpn.com", "at5.nordvpn.com"},
		},
		{
			name: "no match returns empty",
			spec: FilterSpec{SearchText: "japan"},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(sampleServers(), tt.spec)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, hostnames(got))
		})
	}
}

func TestApplySearchGerOverGermanyAndFrance(t *testing.T) {
	records := []ServerRecord{
		{Hostname: "a", Country: "Germany"},
		{Hostname: "b", Country: "France"},
	}
	got := Apply(records, FilterSpec{SearchText: "ger"})
	assert.Equal(t, []string{"a"}, hostnames(got))
}

func TestApplyCountryIDExcludesUnknownCountry(t *testing.T) {
	records := []ServerRecord{
		{Hostname: "de1", Country: "Germany", CountryID: 81},
		{Hostname: "xx1", Country: "Unknown"},
	}
	got := Apply(records, FilterSpec{CountryID: intPtr(81)})
	assert.Equal(t, []string{"de1"}, hostnames(got))
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	records := sampleServers()
	before := hostnames(records)

	_ = Apply(records, FilterSpec{Sort: SortLoadAsc, MaxLoad: intPtr(20)})

	assert.Equal(t, before, hostnames(records))
}

func TestApplySortRoundTrip(t *testing.T) {
	records := []ServerRecord{
		{Hostname: "a", Load: 5},
		{Hostname: "b", Load: 1},
		{Hostname: "c", Load: 9},
	}

	asc := Apply(records, FilterSpec{Sort: SortLoadAsc})
	desc := Apply(asc, FilterSpec{Sort: SortLoadDesc})

	assert.Equal(t, []string{"b", "a", "c"}, hostnames(asc))
	assert.Equal(t, []string{"c", "a", "b"}, hostnames(desc))
}

func TestParseSortOrder(t *testing.T) {
	for in, want := range map[string]SortOrder{
		"":          SortNone,
		"none":      SortNone,
		"load_asc":  SortLoadAsc,
		"LOAD_DESC": SortLoadDesc,
	} {
		got, err := ParseSortOrder(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSortOrder("name")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sort", verr.Field)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPaginate(t *testing.T) {
	records := sampleServers()

	assert.Equal(t, []string{"de1.nordvpn.com", "fr2.nordvpn.com"}, hostnames(Paginate(records, 2, 0)))
	assert.Equal(t, []string{"de3.nordvpn.com", "fr4.nordvpn.com"}, hostnames(Paginate(records, 2, 2)))
	assert.Equal(t, []string{"at5.nordvpn.com"}, hostnames(Paginate(records, 2, 4)))
	assert.Empty(t, Paginate(records, 2, 10))
	assert.Len(t, Paginate(records, 0, 1), 4)
	assert.Len(t, Paginate(records, 3, -5), 3)
}

func TestCountriesFromServers(t *testing.T) {
	records := append(sampleServers(),
		ServerRecord{Hostname: "x", Country: "Unknown"},
		ServerRecord{Hostname: "y", Country: "unknown"},
		ServerRecord{Hostname: "z"},
	)

	countries := CountriesFromServers(records)

	require.Len(t, countries, 4)
	assert.Equal(t, Country{ID: 14, Name: "Austria", Code: "AT", ServerCount: 1}, countries[0])
	assert.Equal(t, Country{ID: 74, Name: "France", Code: "FR", ServerCount: 2}, countries[1])
	assert.Equal(t, Country{ID: 81, Name: "Germany", Code: "DE", ServerCount: 2}, countries[2])
	assert.Equal(t, "Unknown", countries[3].Name)
	assert.Equal(t, 2, countries[3].ServerCount)
}
