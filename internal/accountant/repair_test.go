package accountant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepairUserPositionDisablesUserAndResetsPending(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.BumpPending("alice", "BTC", 1))

	h.acc.RepairUserPosition(context.Background(), "alice")

	require.True(t, h.acc.isDisabled("alice"))
	pos, err := h.store.GetPosition("alice", "BTC")
	require.NoError(t, err)
	require.Zero(t, pos.PendingPostings)
}

func TestRepairAllUserPositionsOnlyTouchesStuckUsers(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")
	mustCreateUser(t, h.store, "bob")
	require.NoError(t, h.store.BumpPending("alice", "BTC", 1))

	require.NoError(t, h.acc.RepairAllUserPositions(context.Background()))

	require.True(t, h.acc.isDisabled("alice"))
	require.False(t, h.acc.isDisabled("bob"))
}

func TestCheckUserReenablesOnceQuiescentAndWritesCheckpoint(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "BTC", 42))
	h.acc.disableUser("alice")

	h.acc.CheckUser(context.Background(), "alice")

	require.False(t, h.acc.isDisabled("alice"))
	pos, err := h.store.GetPosition("alice", "BTC")
	require.NoError(t, err)
	require.EqualValues(t, 0, pos.PositionCheckpoint, "canonical_position from the ack stub returns zero")
}

func TestCheckUserStaysDisabledWhilePendingPostingsOutstanding(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.BumpPending("alice", "BTC", 1))
	h.acc.disableUser("alice")

	h.acc.CheckUser(context.Background(), "alice")

	require.True(t, h.acc.isDisabled("alice"), "a position still pending must keep the user disabled")
}
