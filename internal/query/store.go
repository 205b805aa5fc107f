package query

import (
	"sort"
	"sync"
)

// Cause names the kind of mutation behind a Change.
type Cause string

const (
	CauseFilter   Cause = "filter"
	CauseSearch   Cause = "search"
	CauseSort     Cause = "sort"
	CausePage     Cause = "page"
	CausePageSize Cause = "page_size"
	CauseReset    Cause = "reset"
)

// Immediate reports whether a change of this kind should be fetched without
// waiting for the quiet period. Navigation is immediate; result-set changes
// are debounced.
func (c Cause) Immediate() bool {
	switch c {
	case CausePage, CausePageSize, CauseReset:
		return true
	default:
		return false
	}
}

// Change is delivered to subscribers after the current Params is replaced.
type Change struct {
	Previous Params
	Current  Params
	Cause    Cause
}

// Store holds the current Params and notifies subscribers of changes.
//
// Subscribers run synchronously, in subscription order, while the store lock
// is held: they observe changes in exactly the order they happened. A
// subscriber must not call back into the Store.
type Store struct {
	mu      sync.Mutex
	current Params
	subs    map[int]func(Change)
	nextSub int
}

// NewStore creates a store holding initial (normalized).
func NewStore(initial Params) *Store {
	return &Store{
		current: initial.Normalize(),
		subs:    make(map[int]func(Change)),
	}
}

// Current returns a copy of the current Params.
func (s *Store) Current() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Subscribe registers fn for future changes. The returned function removes it.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// SetFilter sets (or with "" / "all" clears) a filter. Resets page to 1.
func (s *Store) SetFilter(key string, v FilterValue) (Params, error) {
	return s.update(CauseFilter, func(p Params) (Params, error) { return p.WithFilter(key, v) })
}

// SetSearch replaces the search text. Resets page to 1.
func (s *Store) SetSearch(text string) Params {
	p, _ := s.update(CauseSearch, func(p Params) (Params, error) { return p.WithSearch(text), nil })
	return p
}

// SetSort sorts on field, toggling direction if field is already active.
func (s *Store) SetSort(field string) (Params, error) {
	return s.update(CauseSort, func(p Params) (Params, error) { return p.WithSort(field) })
}

// SetPage moves to page n.
func (s *Store) SetPage(n int) (Params, error) {
	return s.update(CausePage, func(p Params) (Params, error) { return p.WithPage(n) })
}

// SetPageSize changes the page size. Resets page to 1.
func (s *Store) SetPageSize(n int) (Params, error) {
	return s.update(CausePageSize, func(p Params) (Params, error) { return p.WithPageSize(n) })
}

// Reset replaces the whole query.
func (s *Store) Reset(p Params) Params {
	out, _ := s.update(CauseReset, func(Params) (Params, error) { return p.Normalize(), nil })
	return out
}

func (s *Store) update(cause Cause, fn func(Params) (Params, error)) (Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.current)
	if err != nil {
		return s.current.Clone(), err
	}
	if next.Equal(s.current) {
		return s.current.Clone(), nil
	}

	change := Change{Previous: s.current.Clone(), Current: next.Clone(), Cause: cause}
	s.current = next
	for _, id := range s.subscriberIDs() {
		s.subs[id](change)
	}
	return next.Clone(), nil
}

func (s *Store) subscriberIDs() []int {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
