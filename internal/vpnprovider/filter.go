package vpnprovider

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// SortOrder selects the ordering applied by Apply.
type SortOrder string

const (
	SortNone     SortOrder = ""
	SortLoadAsc  SortOrder = "load_asc"
	SortLoadDesc SortOrder = "load_desc"
)

// ParseSortOrder parses a sort query value. "" and "none" mean no sorting.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SortNone, nil
	case string(SortLoadAsc):
		return SortLoadAsc, nil
	case string(SortLoadDesc):
		return SortLoadDesc, nil
	default:
		return SortNone, &ValidationError{Field: "sort", Reason: "must be load_asc or load_desc"}
	}
}

// FilterSpec describes the client-side filters applied to normalized servers.
// Zero values disable a criterion.
type FilterSpec struct {
	CountryID   *int
	CountryName string
	City        string
	SearchText  string
	MaxLoad     *int // keep servers with load strictly below
	Sort        SortOrder
}

// Apply returns the records that satisfy spec, optionally sorted by load.
// The input slice is never modified; no match yields an empty, non-nil slice.
func Apply(records []ServerRecord, spec FilterSpec) []ServerRecord {
	fold := cases.Fold()
	search := fold.String(strings.TrimSpace(spec.SearchText))

	result := make([]ServerRecord, 0, len(records))
	for _, r := range records {
		if spec.CountryID != nil && r.CountryID != *spec.CountryID {
			continue
		}
		if spec.CountryName != "" && !strings.EqualFold(r.Country, spec.CountryName) {
			continue
		}
		if spec.City != "" && !strings.EqualFold(r.City, spec.City) {
			continue
		}
		if spec.MaxLoad != nil && r.Load >= *spec.MaxLoad {
			continue
		}
		if search != "" && !matchesSearch(fold, r, search) {
			continue
		}
		result = append(result, r)
	}

	switch spec.Sort {
	case SortLoadAsc:
		slices.SortStableFunc(result, func(a, b ServerRecord) int {
			return cmp.Compare(a.Load, b.Load)
		})
	case SortLoadDesc:
		slices.SortStableFunc(result, func(a, b ServerRecord) int {
			return cmp.Compare(b.Load, a.Load)
		})
	}

	return result
}

// matchesSearch reports whether any searchable field contains the folded needle.
func matchesSearch(fold cases.Caser, r ServerRecord, needle string) bool {
	for _, field := range [...]string{r.Name, r.Hostname, r.Country, r.City} {
		if field != "" && strings.Contains(fold.String(field), needle) {
			return true
		}
	}
	return false
}

// Paginate returns the window [offset, offset+limit) of records. A
// non-positive limit returns everything from offset on.
func Paginate(records []ServerRecord, limit, offset int) []ServerRecord {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []ServerRecord{}
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return slices.Clone(records[offset:end])
}

// CountriesFromServers derives the country list from server records,
// deduplicated by ID (or by name when the ID is unknown) and sorted by name.
func CountriesFromServers(records []ServerRecord) []Country {
	index := make(map[string]int)
	countries := make([]Country, 0)

	for _, r := range records {
		if r.Country == "" {
			continue
		}
		key := "name:" + strings.ToLower(r.Country)
		if r.CountryID != 0 {
			key = "id:" + strconv.Itoa(r.CountryID)
		}
		if i, ok := index[key]; ok {
			countries[i].ServerCount++
			continue
		}
		index[key] = len(countries)
		countries = append(countries, Country{
			ID:          r.CountryID,
			Name:        r.Country,
			Code:        r.CountryCode,
			ServerCount: 1,
		})
	}

	SortCountries(countries)
	return countries
}

// SortCountries sorts countries by name in place.
func SortCountries(countries []Country) {
	slices.SortStableFunc(countries, func(a, b Country) int {
		return cmp.Compare(a.Name, b.Name)
	})
}
