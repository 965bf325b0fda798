package lcbook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKetamaContinuumDeterministic(t *testing.T) {
	servers := []string{"node-a:11210", "node-b:11210", "node-c:11210"}
	c := newKetamaContinuum(servers)
	require.True(t, c.IsValid())

	idx1, err1 := c.NodeByKey([]byte("user:1234"))
	idx2, err2 := c.NodeByKey([]byte("user:1234"))
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, idx1, idx2)
	require.True(t, idx1 >= 0 && idx1 < len(servers))
}

func TestKetamaContinuumDistributesAcrossServers(t *testing.T) {
	servers := []string{"node-a:11210", "node-b:11210", "node-c:11210"}
	c := newKetamaContinuum(servers)

	seen := make(map[int]bool)
	for i := 0; i < 500; i++ {
		idx, err := c.NodeByKey([]byte{byte(i), byte(i >> 8)})
		require.NoError(t, err)
		seen[idx] = true
	}
	require.True(t, len(seen) > 1, "expected keys to spread across more than one server")
}

func TestKetamaContinuumEmpty(t *testing.T) {
	c := newKetamaContinuum(nil)
	require.False(t, c.IsValid())

	_, err := c.NodeByKey([]byte("x"))
	require.ErrorIs(t, err, ErrInvalidServer)
}
