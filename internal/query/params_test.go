package query

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default(0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)
	assert.Equal(t, Asc, p.SortDirection)
	assert.Empty(t, p.Filters)
}

func TestParams_Equal(t *testing.T) {
	a := Default(20)
	b := Default(20)
	b.Filters = nil
	assert.True(t, a.Equal(b), "nil and empty filters are equal")

	c, err := a.WithFilter("role", "admin")
	require.NoError(t, err)
	assert.False(t, a.Equal(c))

	d, err := a.WithFilter("role", "admin")
	require.NoError(t, err)
	assert.True(t, c.Equal(d))
}

func TestParams_WithFilter(t *testing.T) {
	base, err := Default(20).WithPage(4)
	require.NoError(t, err)

	tests := []struct {
		name    string
		key     string
		value   FilterValue
		want    map[string]FilterValue
		wantErr error
	}{
		{name: "set", key: "role", value: "admin", want: map[string]FilterValue{"role": "admin"}},
		{name: "trim", key: " status ", value: " active ", want: map[string]FilterValue{"status": "active"}},
		{name: "all clears", key: "role", value: "all", want: map[string]FilterValue{}},
		{name: "ALL clears", key: "role", value: "ALL", want: map[string]FilterValue{}},
		{name: "empty clears", key: "role", value: "", want: map[string]FilterValue{}},
		{name: "reserved", key: "page", value: "3", wantErr: ErrInvalidFilterKey},
		{name: "empty key", key: "  ", value: "x", wantErr: ErrInvalidFilterKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := base.WithFilter(tt.key, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, got.Equal(base))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Filters)
			assert.Equal(t, 1, got.Page, "filter change resets page")
		})
	}
}

func TestParams_WithFilterDoesNotAliasReceiver(t *testing.T) {
	a, err := Default(20).WithFilter("role", "admin")
	require.NoError(t, err)
	b, err := a.WithFilter("role", "viewer")
	require.NoError(t, err)

	assert.Equal(t, FilterValue("admin"), a.Filters["role"])
	assert.Equal(t, FilterValue("viewer"), b.Filters["role"])
}

func TestParams_WithSearchNormalizes(t *testing.T) {
	p, err := Default(20).WithPage(3)
	require.NoError(t, err)

	// "e" + combining acute accent composes to U+00E9 under NFC.
	got := p.WithSearch("  Jose\u0301 ")
	assert.Equal(t, "Jos\u00e9", got.Search)
	assert.Equal(t, 1, got.Page)
}

func TestParams_WithSort(t *testing.T) {
	p := Default(20)

	byName, err := p.WithSort("name")
	require.NoError(t, err)
	assert.Equal(t, "name", byName.SortField)
	assert.Equal(t, Asc, byName.SortDirection)

	toggled, err := byName.WithSort("name")
	require.NoError(t, err)
	assert.Equal(t, Desc, toggled.SortDirection)

	back, err := toggled.WithSort("name")
	require.NoError(t, err)
	assert.Equal(t, Asc, back.SortDirection)

	other, err := toggled.WithSort("email")
	require.NoError(t, err)
	assert.Equal(t, "email", other.SortField)
	assert.Equal(t, Asc, other.SortDirection, "new field resets to ascending")

	_, err = p.WithSort("")
	assert.ErrorIs(t, err, ErrInvalidSortField)
}

func TestParams_WithSortKeepsPage(t *testing.T) {
	p, err := Default(20).WithPage(5)
	require.NoError(t, err)
	s, err := p.WithSort("name")
	require.NoError(t, err)
	assert.Equal(t, 5, s.Page)
}

func TestParams_WithPage(t *testing.T) {
	p, err := Default(20).WithPage(2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Page)

	_, err = p.WithPage(0)
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestParams_WithPageSize(t *testing.T) {
	p, err := Default(20).WithPage(7)
	require.NoError(t, err)

	s, err := p.WithPageSize(50)
	require.NoError(t, err)
	assert.Equal(t, 50, s.PageSize)
	assert.Equal(t, 1, s.Page)

	_, err = p.WithPageSize(0)
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

func TestParams_Signature(t *testing.T) {
	p := Default(20)
	assert.Equal(t, "limit=20&page=1", p.Signature())

	p, _ = p.WithFilter("status", "active")
	p, _ = p.WithFilter("role", "admin")
	p = p.WithSearch("ann lee")
	p, _ = p.WithSort("lastActive")
	p, _ = p.WithSort("lastActive")

	assert.Equal(t,
		"limit=20&page=1&role=admin&search=ann+lee&sortDirection=desc&sortField=lastActive&status=active",
		p.Signature())
}

func TestParams_SignatureIgnoresFilterInsertionOrder(t *testing.T) {
	a, _ := Default(20).WithFilter("role", "admin")
	a, _ = a.WithFilter("status", "active")
	b, _ := Default(20).WithFilter("status", "active")
	b, _ = b.WithFilter("role", "admin")

	assert.Equal(t, a.Signature(), b.Signature())
}

func TestFromValues(t *testing.T) {
	v, err := url.ParseQuery("page=3&limit=10&search=bo&role=admin&status=all&sortField=email&sortDirection=desc")
	require.NoError(t, err)

	p, err := FromValues(v, 20)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 10, p.PageSize)
	assert.Equal(t, "bo", p.Search)
	assert.Equal(t, map[string]FilterValue{"role": "admin"}, p.Filters)
	assert.Equal(t, "email", p.SortField)
	assert.Equal(t, Desc, p.SortDirection)
}

func TestFromValues_Defaults(t *testing.T) {
	p, err := FromValues(url.Values{}, 25)
	require.NoError(t, err)
	assert.True(t, p.Equal(Default(25)))
}

func TestFromValues_Invalid(t *testing.T) {
	_, err := FromValues(url.Values{"page": {"0"}}, 20)
	assert.ErrorIs(t, err, ErrInvalidPage)

	_, err = FromValues(url.Values{"limit": {"x"}}, 20)
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

func TestFromValues_RoundTripsSignature(t *testing.T) {
	p, _ := Default(20).WithFilter("verificationStatus", "pending")
	p = p.WithSearch("ada")
	p, _ = p.WithPage(2)

	back, err := FromValues(p.Values(), 20)
	require.NoError(t, err)
	assert.True(t, p.Equal(back))
}
