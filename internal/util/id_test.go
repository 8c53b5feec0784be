package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("card")
	require.True(t, strings.HasPrefix(id, "card_"))
	assert.Len(t, strings.TrimPrefix(id, "card_"), 26)

	bare := NewID("")
	assert.Len(t, bare, 26)
}

func TestNewIDSortsByCreation(t *testing.T) {
	prev := NewID("x")
	for i := 0; i < 100; i++ {
		next := NewID("x")
		require.Greater(t, next, prev)
		prev = next
	}
}
