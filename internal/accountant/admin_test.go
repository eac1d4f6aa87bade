package accountant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/accountant/internal/config"
)

func TestAdjustPositionRejectedOutsideDebug(t *testing.T) {
	h := newHarness(t)
	h.acc.debug = false
	mustCreateUser(t, h.store, "alice")

	err := h.acc.AdjustPosition(context.Background(), "alice", "BTC", 100)
	require.ErrorIs(t, err, ErrAdminDebugOnly)
}

func TestAdjustPositionAppliesDirectlyInDebugMode(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")

	require.NoError(t, h.acc.AdjustPosition(context.Background(), "alice", "BTC", 100))

	pos, err := h.store.GetPosition("alice", "BTC")
	require.NoError(t, err)
	require.Equal(t, int64(100), pos.Position)
	require.Len(t, h.notifier.transactions, 1)
}

func TestChangePermissionGroupSyncsCachedFlags(t *testing.T) {
	h := newHarness(t)
	reg := config.NewRegistry(&config.ShardConfig{
		Contracts: []config.Contract{{Ticker: "BTC", ContractType: config.ContractCash, Decimals: 8, Active: true}},
		FeeGroups: []config.FeeGroup{{ID: "default"}},
		PermissionGroups: []config.PermissionGroup{
			{ID: "default", Trade: true, Withdraw: true, Deposit: true},
			{ID: "frozen", Trade: false, Withdraw: false, Deposit: false},
		},
	})
	h.acc = New(Config{
		Store: h.store, Registry: reg, Ledger: h.acc.ledger, Notifier: h.notifier,
		ShardNum: 0, NumShards: 1,
	})
	mustCreateUser(t, h.store, "alice")

	require.NoError(t, h.acc.ChangePermissionGroup(context.Background(), "alice", "frozen"))

	user, err := h.store.GetUser("alice")
	require.NoError(t, err)
	require.False(t, user.TradePermitted)
	require.Equal(t, "frozen", user.PermissionGroupID)
}

func TestChangePermissionGroupRejectsUnknownGroup(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")

	err := h.acc.ChangePermissionGroup(context.Background(), "alice", "nope")
	require.ErrorIs(t, err, ErrInvalidContractType)
}

func TestChangePermissionGroupRejectsUnknownUser(t *testing.T) {
	h := newHarness(t)

	err := h.acc.ChangePermissionGroup(context.Background(), "ghost", "default")
	require.ErrorIs(t, err, ErrNoSuchUser)
}

func TestChangeFeeGroupUpdatesAssignment(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")

	require.NoError(t, h.acc.ChangeFeeGroup(context.Background(), "alice", "free"))

	user, err := h.store.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, "free", user.FeeGroupID)
}

func TestChangeFeeGroupRejectsUnknownGroup(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")

	err := h.acc.ChangeFeeGroup(context.Background(), "alice", "nope")
	require.ErrorIs(t, err, ErrInvalidContractType)
}

func TestReloadContractAcceptsKnownRejectsUnknown(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.acc.ReloadContract("BTC"))
	err := h.acc.ReloadContract("NOPE")
	require.Error(t, err)
}

func TestReloadFeeGroupAcceptsKnownRejectsUnknown(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.acc.ReloadFeeGroup("default"))
	err := h.acc.ReloadFeeGroup("nope")
	require.Error(t, err)
}

func TestGetMarginReturnsComputedResult(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "BTC", 500))

	result, err := h.acc.GetMargin("alice")
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestGetPositionReturnsStoredRow(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "BTC", 250))

	pos, err := h.acc.GetPosition("alice", "BTC")
	require.NoError(t, err)
	require.Equal(t, int64(250), pos.Position)
}
