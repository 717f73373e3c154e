package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{"", "?", "?//", "a//b", ">"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.Error(t, err)
		})
	}
}

func TestPathSelector(t *testing.T) {
	s, err := Parse("a/b/c")
	require.NoError(t, err)

	assert.True(t, s.Matches("a/b/c"))
	assert.False(t, s.Matches("a/b"))
	assert.False(t, s.Matches("a/b/c/d"))
	assert.Equal(t, "a/b/c", s.PathPrefix())

	explicit, err := Parse(">a/b/c")
	require.NoError(t, err)
	assert.True(t, explicit.Matches("a/b/c"))
}

func TestPatternSelfAndDescendants(t *testing.T) {
	s, err := Parse("?a//")
	require.NoError(t, err)

	assert.True(t, s.Matches("a"))
	assert.True(t, s.Matches("a/x"))
	assert.True(t, s.Matches("a/x/y/z"))
	assert.False(t, s.Matches("b"))
	assert.False(t, s.Matches("ab"))
}

func TestPatternDescendantsOnly(t *testing.T) {
	s, err := Parse("?a/b/")
	require.NoError(t, err)

	assert.False(t, s.Matches("a/b"))
	assert.True(t, s.Matches("a/b/c"))
	assert.True(t, s.Matches("a/b/c/d"))
}

func TestPatternWildcard(t *testing.T) {
	s, err := Parse("?accounts/*/balance//")
	require.NoError(t, err)

	assert.True(t, s.Matches("accounts/1234/balance"))
	assert.True(t, s.Matches("accounts/1234/balance/usd"))
	assert.False(t, s.Matches("accounts/1234/holdings"))
	assert.Equal(t, "accounts", s.PathPrefix())
}

func TestExactPattern(t *testing.T) {
	s, err := Parse("?a/b")
	require.NoError(t, err)
	assert.True(t, s.Matches("a/b"))
	assert.False(t, s.Matches("a/b/c"))
}
