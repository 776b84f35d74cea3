package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	s, err := Generate(0)
	require.NoError(t, err)
	assert.Len(t, s, DefaultLength)

	s, err = Generate(30)
	require.NoError(t, err)
	assert.Len(t, s, 30)
	for _, r := range s {
		assert.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
	}
}

func TestNewMessageID_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		mid := NewMessageID()
		require.True(t, HasPrefix(mid, PrefixMessage), mid)
		_, dup := seen[mid]
		require.False(t, dup, "duplicate id %s", mid)
		seen[mid] = struct{}{}
	}
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix("msg_abc", "msg"))
	assert.False(t, HasPrefix("msg_", "msg"))
	assert.False(t, HasPrefix("msgabc", "msg"))
	assert.False(t, HasPrefix("node_abc", "msg"))
}
