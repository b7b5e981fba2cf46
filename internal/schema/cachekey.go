package schema

import (
	"fmt"
	"net/url"
	"strings"
)

// CacheKey identifies one cached row collection: a table plus the active
// filter values. It is comparable and used directly as a map key.
//
// Build keys only through TableSchema.CacheKey so that every fetch and every
// mutation for the same view agree on the key shape.
type CacheKey struct {
	Table   string
	Filters string // Canonical query encoding of the non-empty filters
}

// CacheKey builds the cache key for a filtered view of the table.
// Only declared filter parameters are accepted; empty values are dropped.
func (s *TableSchema) CacheKey(filters map[string]string) (CacheKey, error) {
	declared := make(map[string]bool, len(s.FilterParams))
	for _, p := range s.FilterParams {
		declared[p] = true
	}

	vals := url.Values{}
	for name, v := range filters {
		if !declared[name] {
			return CacheKey{}, fmt.Errorf("unknown filter %q for table %s", name, s.Name)
		}
		v = strings.TrimSpace(v)
		if v != "" {
			vals.Set(name, v)
		}
	}

	// url.Values.Encode sorts by key, which makes the encoding canonical.
	return CacheKey{Table: s.Name, Filters: vals.Encode()}, nil
}

// CacheKeyFromQuery builds a cache key from request query parameters,
// ignoring parameters the table does not declare.
func (s *TableSchema) CacheKeyFromQuery(q url.Values) (CacheKey, error) {
	filters := make(map[string]string, len(s.FilterParams))
	for _, p := range s.FilterParams {
		if v := q.Get(p); v != "" {
			filters[p] = v
		}
	}
	return s.CacheKey(filters)
}

// Values returns the filter values as query parameters.
func (k CacheKey) Values() url.Values {
	vals, err := url.ParseQuery(k.Filters)
	if err != nil {
		return url.Values{}
	}
	return vals
}

func (k CacheKey) String() string {
	if k.Filters == "" {
		return k.Table
	}
	return k.Table + "?" + k.Filters
}
