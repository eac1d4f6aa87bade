package accountant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/accountant/internal/config"
)

func liquidationHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	reg := config.NewRegistry(&config.ShardConfig{
		Contracts: []config.Contract{
			{Ticker: "BTC", ContractType: config.ContractCash, Decimals: 8, Active: true},
			{Ticker: "PRED", ContractType: config.ContractPrediction, Denominator: 100,
				DenominatedContractTicker: "BTC", Active: true},
		},
		FeeGroups:        []config.FeeGroup{{ID: "default"}},
		PermissionGroups: []config.PermissionGroup{{ID: "default", Trade: true, Withdraw: true, Deposit: true}},
	})
	h.acc = New(Config{
		Store:     h.store,
		Registry:  reg,
		Ledger:    h.acc.ledger,
		Notifier:  h.notifier,
		ShardNum:  0,
		NumShards: 1,
	})
	return h
}

func TestLiquidatePositionClosesLongPosition(t *testing.T) {
	h := liquidationHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "PRED", 5))

	require.NoError(t, h.acc.LiquidatePosition(context.Background(), "alice", "PRED"))

	order, err := h.store.OpenOrdersForUser("alice")
	require.NoError(t, err)
	require.Len(t, order, 1)
	require.True(t, order[0].Accepted)
	require.EqualValues(t, 5, order[0].Quantity)
}

func TestLiquidatePositionClosesShortPosition(t *testing.T) {
	h := liquidationHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "PRED", -3))

	require.NoError(t, h.acc.LiquidatePosition(context.Background(), "alice", "PRED"))

	orders, err := h.store.OpenOrdersForUser("alice")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.EqualValues(t, 3, orders[0].Quantity)
}

func TestLiquidatePositionNoopOnZeroPosition(t *testing.T) {
	h := liquidationHarness(t)
	mustCreateUser(t, h.store, "alice")

	require.NoError(t, h.acc.LiquidatePosition(context.Background(), "alice", "PRED"))

	orders, err := h.store.OpenOrdersForUser("alice")
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestLiquidatePositionRejectsNonClearingContract(t *testing.T) {
	h := liquidationHarness(t)
	mustCreateUser(t, h.store, "alice")

	err := h.acc.LiquidatePosition(context.Background(), "alice", "BTC")
	require.ErrorIs(t, err, ErrInvalidContractType)
}

func TestLiquidateAllDisablesThenReenablesUser(t *testing.T) {
	h := liquidationHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "PRED", 2))

	require.NoError(t, h.acc.LiquidateAll(context.Background(), "alice"))

	require.False(t, h.acc.isDisabled("alice"))
	orders, err := h.store.OpenOrdersForUser("alice")
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestLiquidateBestNoopsWithoutOrderBookAccess(t *testing.T) {
	h := liquidationHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "PRED", 2))

	require.NoError(t, h.acc.LiquidateBest(context.Background(), "alice"))

	orders, err := h.store.OpenOrdersForUser("alice")
	require.NoError(t, err)
	require.Empty(t, orders, "no registered engine means no position could be ranked")
}
