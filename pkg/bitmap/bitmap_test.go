package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"0",
		"0-3",
		"0-3,8",
		"1,3,5,7",
	}
	for _, s := range cases {
		b, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, b.String(), "round trip for %q", s)
	}
}

func TestHexRoundTrip(t *testing.T) {
	b := New(0, 1, 5, 33, 40)
	hex := b.Hex()
	parsed, err := ParseHex(hex)
	require.NoError(t, err)
	assert.True(t, b.Equals(parsed), "expected %v got %v", b.List(), parsed.List())
}

func TestUnionAndNot(t *testing.T) {
	a := New(0, 1, 2, 3)
	b := New(2, 3, 4, 5)

	u := a.Union(b)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, u.List())

	d := a.AndNot(b)
	assert.ElementsMatch(t, []int{0, 1}, d.List())
}

func TestContainsAndEquals(t *testing.T) {
	a := New(0, 4, 8)
	assert.True(t, a.Contains(4))
	assert.False(t, a.Contains(5))

	b := New(8, 0, 4)
	assert.True(t, a.Equals(b))
}

func TestEmptyIsNeverNull(t *testing.T) {
	e := Empty()
	assert.Equal(t, "", e.String())
	assert.True(t, e.IsEmpty())
	assert.Equal(t, 0, e.Size())
}

func TestIsSubsetOf(t *testing.T) {
	parent := New(0, 1, 2, 3, 4, 5, 6, 7)
	child := New(2, 3)
	assert.True(t, child.IsSubsetOf(parent))
	assert.False(t, parent.IsSubsetOf(child))
}

func TestShortStridedForm(t *testing.T) {
	cases := []struct {
		pus  []int
		want string
	}{
		{nil, ""},
		{[]int{0}, "0"},
		{[]int{0, 1, 2, 3}, "0-3"},
		{[]int{0, 2, 4, 6, 8}, "0-8:2"},
		{[]int{0, 2, 4, 6, 8, 11}, "0-8:2,11"},
	}
	for _, c := range cases {
		b := New(c.pus...)
		assert.Equal(t, c.want, b.Short(), "Short() for %v", c.pus)
	}
}
