package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexWraparound(t *testing.T) {
	require.Equal(t, Index(1), Index(0).Next())
	require.Equal(t, Index(0), Index(1).Next())
	require.Equal(t, Index(1), Index(0).Prev())
	require.Equal(t, Index(0), Index(1).Prev())

	// next and prev invert each other over a full cycle
	index := Index(0)
	for step := 0; step < 5; step++ {
		require.Equal(t, index, index.Next().Prev())
		require.GreaterOrEqual(t, int(index), 0)
		require.Less(t, int(index), FramesInFlight)
		index = index.Next()
	}
}

func TestPerFrame(t *testing.T) {
	var scratch PerFrame[string]
	scratch.Set(0, "first")
	scratch.Set(1, "second")

	require.Equal(t, "first", scratch.Get(0))
	require.Equal(t, "second", scratch.Get(1))

	var visited []string
	scratch.Each(func(index Index, value string) {
		visited = append(visited, value)
	})
	require.Equal(t, []string{"first", "second"}, visited)
}
