package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_NotifiesOnChange(t *testing.T) {
	s := NewStore(Default(20))
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	_, err := s.SetFilter("role", "admin")
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, CauseFilter, changes[0].Cause)
	assert.Empty(t, changes[0].Previous.Filters)
	assert.Equal(t, FilterValue("admin"), changes[0].Current.Filters["role"])
}

func TestStore_NoOpChangeIsSilent(t *testing.T) {
	s := NewStore(Default(20))
	calls := 0
	s.Subscribe(func(Change) { calls++ })

	s.SetSearch("")
	_, err := s.SetPage(1)
	require.NoError(t, err)
	_, err = s.SetFilter("role", "all")
	require.NoError(t, err)

	assert.Equal(t, 0, calls)
}

func TestStore_ErrorLeavesStateUntouched(t *testing.T) {
	s := NewStore(Default(20))
	calls := 0
	s.Subscribe(func(Change) { calls++ })

	_, err := s.SetPage(0)
	assert.ErrorIs(t, err, ErrInvalidPage)
	_, err = s.SetSort("")
	assert.ErrorIs(t, err, ErrInvalidSortField)

	assert.Equal(t, 0, calls)
	assert.True(t, s.Current().Equal(Default(20)))
}

func TestStore_SearchResetsPage(t *testing.T) {
	s := NewStore(Default(20))
	_, err := s.SetPage(4)
	require.NoError(t, err)

	p := s.SetSearch("kim")
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, "kim", s.Current().Search)
}

func TestStore_SetSortToggles(t *testing.T) {
	s := NewStore(Default(20))

	p, err := s.SetSort("name")
	require.NoError(t, err)
	assert.Equal(t, Asc, p.SortDirection)

	p, err = s.SetSort("name")
	require.NoError(t, err)
	assert.Equal(t, Desc, p.SortDirection)
}

func TestStore_SubscribersInOrder(t *testing.T) {
	s := NewStore(Default(20))
	var order []string
	s.Subscribe(func(Change) { order = append(order, "first") })
	s.Subscribe(func(Change) { order = append(order, "second") })

	_, err := s.SetPage(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestStore_Unsubscribe(t *testing.T) {
	s := NewStore(Default(20))
	calls := 0
	unsubscribe := s.Subscribe(func(Change) { calls++ })

	_, _ = s.SetPage(2)
	unsubscribe()
	_, _ = s.SetPage(3)

	assert.Equal(t, 1, calls)
}

func TestStore_CurrentIsACopy(t *testing.T) {
	s := NewStore(Default(20))
	_, err := s.SetFilter("role", "admin")
	require.NoError(t, err)

	p := s.Current()
	p.Filters["role"] = "mutated"

	assert.Equal(t, FilterValue("admin"), s.Current().Filters["role"])
}

func TestStore_Reset(t *testing.T) {
	s := NewStore(Default(20))
	var causes []Cause
	s.Subscribe(func(c Change) { causes = append(causes, c.Cause) })

	next := Default(50)
	next.Search = "x"
	got := s.Reset(next)

	assert.Equal(t, 50, got.PageSize)
	assert.Equal(t, []Cause{CauseReset}, causes)
}

func TestCause_Immediate(t *testing.T) {
	assert.True(t, CausePage.Immediate())
	assert.True(t, CausePageSize.Immediate())
	assert.True(t, CauseReset.Immediate())
	assert.False(t, CauseFilter.Immediate())
	assert.False(t, CauseSearch.Immediate())
	assert.False(t, CauseSort.Immediate())
}
