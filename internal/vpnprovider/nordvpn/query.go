package nordvpn

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Filter categories understood by the /servers endpoints.
const (
	FilterCountryID           = "country_id"
	FilterServersTechnologies = "servers_technologies"
	FilterServersGroups       = "servers_groups"
	SubfieldIdentifier        = "identifier"
)

// QueryFilter is a single filters[category][subfield]=value parameter.
type QueryFilter struct {
	Category string
	Subfield string // optional
	Value    string
}

// Key returns the bracketed parameter name.
func (f QueryFilter) Key() string {
	if f.Subfield == "" {
		return "filters[" + f.Category + "]"
	}
	return "filters[" + f.Category + "][" + f.Subfield + "]"
}

// ParseFilterKey splits a filter key into category and subfield. It accepts
// the full form ("filters[a][b]"), the bare form ("a[b]", "a") and the
// pre-bracketed form used by older callers ("a][b").
func ParseFilterKey(key string) (category, subfield string, err error) {
	k := strings.TrimSpace(key)
	if strings.HasPrefix(k, "filters[") {
		k = strings.TrimPrefix(k, "filters[")
		if !strings.HasSuffix(k, "]") {
			return "", "", fmt.Errorf("filter key %q: missing closing bracket", key)
		}
		k = strings.TrimSuffix(k, "]")
	}

	var parts []string
	switch {
	case strings.Contains(k, "]["):
		parts = strings.Split(k, "][")
	case strings.HasSuffix(k, "]") && strings.Contains(k, "["):
		parts = strings.SplitN(strings.TrimSuffix(k, "]"), "[", 2)
	default:
		parts = []string{k}
	}
	if len(parts) > 2 {
		return "", "", fmt.Errorf("filter key %q: too many segments", key)
	}

	for _, p := range parts {
		if !validSegment(p) {
			return "", "", fmt.Errorf("filter key %q: invalid segment %q", key, p)
		}
	}

	category = parts[0]
	if len(parts) == 2 {
		subfield = parts[1]
	}
	return category, subfield, nil
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// Query builds the query string for the upstream listing endpoints. The
// encoded form is deterministic and is also used as the cache key.
type Query struct {
	limit   int
	offset  int
	filters []QueryFilter
	err     error
}

// NewQuery returns an empty query.
func NewQuery() *Query {
	return &Query{}
}

// Limit sets the limit parameter. Non-positive values omit it.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Offset sets the offset parameter. Non-positive values omit it.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// Filter appends a structured filter.
func (q *Query) Filter(category, subfield, value string) *Query {
	if !validSegment(category) || (subfield != "" && !validSegment(subfield)) {
		if q.err == nil {
			q.err = fmt.Errorf("invalid filter %q/%q", category, subfield)
		}
		return q
	}
	q.filters = append(q.filters, QueryFilter{Category: category, Subfield: subfield, Value: value})
	return q
}

// FilterKey appends a filter given in any form accepted by ParseFilterKey.
func (q *Query) FilterKey(key, value string) *Query {
	category, subfield, err := ParseFilterKey(key)
	if err != nil {
		if q.err == nil {
			q.err = err
		}
		return q
	}
	return q.Filter(category, subfield, value)
}

// Filters returns a copy of the filters in insertion order.
func (q *Query) Filters() []QueryFilter {
	return append([]QueryFilter(nil), q.filters...)
}

// Err returns the first error recorded while building.
func (q *Query) Err() error {
	return q.err
}

// Encode renders limit, offset and filters in that order. Brackets in
// filter keys are left literal; values are escaped.
func (q *Query) Encode() string {
	var sb strings.Builder
	add := func(key, value string) {
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(value))
	}

	if q.limit > 0 {
		add("limit", strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		add("offset", strconv.Itoa(q.offset))
	}
	for _, f := range q.filters {
		add(f.Key(), f.Value)
	}
	return sb.String()
}
