package runid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_ProducesEightCharLowercaseAlphanumeric(t *testing.T) {
	id := New()
	require.Len(t, id, 8)
	for _, c := range id {
		require.True(t, (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9'), "unexpected char %q", c)
	}
}

func TestNew_ProducesDistinctValues(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := New()
		require.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}
