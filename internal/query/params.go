package query

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultPageSize is used when a Params is built without an explicit size.
const DefaultPageSize = 20

// SortDirection orders results on the sort field.
type SortDirection string

const (
	Asc  SortDirection = "asc"
	Desc SortDirection = "desc"
)

// Toggle flips the direction.
func (d SortDirection) Toggle() SortDirection {
	if d == Desc {
		return Asc
	}
	return Desc
}

// FilterValue is the selected value for one filter field.
// The empty string and "all" mean "no filter".
type FilterValue string

// IsAll reports whether the value clears the filter.
func (v FilterValue) IsAll() bool {
	return v == "" || strings.EqualFold(string(v), "all")
}

// Query-string keys owned by pagination, search and sorting. Filters cannot
// use them.
const (
	keyPage          = "page"
	keyLimit         = "limit"
	keySearch        = "search"
	keySortField     = "sortField"
	keySortDirection = "sortDirection"
)

var reservedKeys = map[string]bool{
	keyPage: true, keyLimit: true, keySearch: true, keySortField: true, keySortDirection: true,
}

var (
	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("page must be >= 1")
	// ErrInvalidPageSize is returned for page sizes below 1.
	ErrInvalidPageSize = errors.New("page size must be > 0")
	// ErrInvalidFilterKey is returned for empty or reserved filter keys.
	ErrInvalidFilterKey = errors.New("invalid filter key")
	// ErrInvalidSortField is returned for an empty sort field.
	ErrInvalidSortField = errors.New("sort field must not be empty")
)

// Params describes one page of the collection.
//
// Params is treated as immutable. The With* methods return modified copies
// and never share the Filters map with the receiver.
type Params struct {
	Page          int
	PageSize      int
	Search        string
	Filters       map[string]FilterValue
	SortField     string
	SortDirection SortDirection
}

// Default returns page 1 of pageSize records, ascending, unfiltered.
func Default(pageSize int) Params {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return Params{
		Page:          1,
		PageSize:      pageSize,
		Filters:       map[string]FilterValue{},
		SortDirection: Asc,
	}
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	out := p
	out.Filters = make(map[string]FilterValue, len(p.Filters))
	for k, v := range p.Filters {
		out.Filters[k] = v
	}
	return out
}

// Normalize returns p in canonical form: NFC-normalized trimmed search and
// filter values, "all" filters dropped, page and size clamped, and a
// direction set.
func (p Params) Normalize() Params {
	out := p.Clone()
	out.Search = normalizeText(p.Search)
	for k, v := range p.Filters {
		nv := FilterValue(normalizeText(string(v)))
		if nv.IsAll() {
			delete(out.Filters, k)
			continue
		}
		out.Filters[k] = nv
	}
	if out.Page < 1 {
		out.Page = 1
	}
	if out.PageSize < 1 {
		out.PageSize = DefaultPageSize
	}
	if out.SortDirection != Desc {
		out.SortDirection = Asc
	}
	return out
}

// Equal reports structural equality. A nil and an empty Filters map are equal.
func (p Params) Equal(o Params) bool {
	return p.Page == o.Page &&
		p.PageSize == o.PageSize &&
		p.Search == o.Search &&
		p.SortField == o.SortField &&
		p.SortDirection == o.SortDirection &&
		maps.Equal(p.Filters, o.Filters)
}

// Filter returns the value for key and whether it is set.
func (p Params) Filter(key string) (FilterValue, bool) {
	v, ok := p.Filters[key]
	return v, ok
}

// WithFilter sets or clears one filter and resets to page 1.
func (p Params) WithFilter(key string, v FilterValue) (Params, error) {
	key = strings.TrimSpace(key)
	if key == "" || reservedKeys[key] {
		return p, fmt.Errorf("%w: %q", ErrInvalidFilterKey, key)
	}
	out := p.Clone()
	v = FilterValue(normalizeText(string(v)))
	if v.IsAll() {
		delete(out.Filters, key)
	} else {
		out.Filters[key] = v
	}
	out.Page = 1
	return out, nil
}

// WithSearch replaces the search text and resets to page 1.
func (p Params) WithSearch(text string) Params {
	out := p.Clone()
	out.Search = normalizeText(text)
	out.Page = 1
	return out
}

// WithSort sorts on field. Sorting on the active field toggles its
// direction; a new field starts ascending.
func (p Params) WithSort(field string) (Params, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return p, ErrInvalidSortField
	}
	out := p.Clone()
	if field == p.SortField {
		out.SortDirection = p.SortDirection.Toggle()
	} else {
		out.SortField = field
		out.SortDirection = Asc
	}
	return out, nil
}

// WithPage moves to page n.
func (p Params) WithPage(n int) (Params, error) {
	if n < 1 {
		return p, fmt.Errorf("%w: %d", ErrInvalidPage, n)
	}
	out := p.Clone()
	out.Page = n
	return out, nil
}

// WithPageSize changes the page size and resets to page 1.
func (p Params) WithPageSize(n int) (Params, error) {
	if n < 1 {
		return p, fmt.Errorf("%w: %d", ErrInvalidPageSize, n)
	}
	out := p.Clone()
	out.PageSize = n
	out.Page = 1
	return out, nil
}

// Values encodes p as collection query-string parameters:
// page, limit, search, one key per filter, sortField, sortDirection.
// Empty search and unset sort are omitted.
func (p Params) Values() url.Values {
	v := url.Values{}
	v.Set(keyPage, strconv.Itoa(p.Page))
	v.Set(keyLimit, strconv.Itoa(p.PageSize))
	if p.Search != "" {
		v.Set(keySearch, p.Search)
	}
	for _, k := range slices.Sorted(maps.Keys(p.Filters)) {
		if p.Filters[k].IsAll() {
			continue
		}
		v.Set(k, string(p.Filters[k]))
	}
	if p.SortField != "" {
		v.Set(keySortField, p.SortField)
		v.Set(keySortDirection, string(p.SortDirection))
	}
	return v
}

// Signature is the canonical, key-sorted encoding of Values. Two Params with
// the same signature select the same page.
func (p Params) Signature() string {
	return p.Values().Encode()
}

// String implements fmt.Stringer.
func (p Params) String() string {
	return p.Signature()
}

// FromValues parses collection query-string parameters back into Params.
// Keys other than the reserved ones become filters.
func FromValues(v url.Values, defaultPageSize int) (Params, error) {
	p := Default(defaultPageSize)
	if s := v.Get(keyPage); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return p, fmt.Errorf("%w: %q", ErrInvalidPage, s)
		}
		p.Page = n
	}
	if s := v.Get(keyLimit); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return p, fmt.Errorf("%w: %q", ErrInvalidPageSize, s)
		}
		p.PageSize = n
	}
	p.Search = v.Get(keySearch)
	p.SortField = v.Get(keySortField)
	if SortDirection(v.Get(keySortDirection)) == Desc {
		p.SortDirection = Desc
	}
	for k, vals := range v {
		if reservedKeys[k] || len(vals) == 0 {
			continue
		}
		p.Filters[k] = FilterValue(vals[0])
	}
	return p.Normalize(), nil
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
