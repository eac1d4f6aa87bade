package peer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRendezvousIsStablePerShard(t *testing.T) {
	require.Equal(t, "accountant-shard-0", rendezvous(0))
	require.Equal(t, "accountant-shard-3", rendezvous(3))
	require.NotEqual(t, rendezvous(0), rendezvous(1))
}
