package accountant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/accountant/internal/config"
)

func withdrawalHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	reg := config.NewRegistry(&config.ShardConfig{
		Contracts: []config.Contract{
			{Ticker: "BTC", ContractType: config.ContractCash, Decimals: 8, Active: true, LotSize: 1, WithdrawFee: 10},
		},
		FeeGroups:        []config.FeeGroup{{ID: "default"}},
		PermissionGroups: []config.PermissionGroup{{ID: "default", Trade: true, Withdraw: true, Deposit: true}},
	})
	h.acc = New(Config{
		Store:     h.store,
		Registry:  reg,
		Ledger:    h.acc.ledger,
		Notifier:  h.notifier,
		Mailer:    h.mailer,
		ShardNum:  0,
		NumShards: 1,
	})
	return h
}

func TestRequestWithdrawalDeductsFeeAndPosts(t *testing.T) {
	h := withdrawalHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "BTC", 1000))

	require.NoError(t, h.acc.RequestWithdrawal(context.Background(), "alice", "BTC", 100))

	pos, err := h.store.GetPosition("alice", "BTC")
	require.NoError(t, err)
	require.Equal(t, int64(900), pos.Position)
}

func TestRequestWithdrawalRejectsBelowFee(t *testing.T) {
	h := withdrawalHarness(t)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "BTC", 1000))

	err := h.acc.RequestWithdrawal(context.Background(), "alice", "BTC", 5)
	require.ErrorIs(t, err, ErrWithdrawalTooSmall)
}

func TestRequestWithdrawalRejectsDisabledUser(t *testing.T) {
	h := withdrawalHarness(t)
	mustCreateUser(t, h.store, "alice")
	h.acc.disableUser("alice")

	err := h.acc.RequestWithdrawal(context.Background(), "alice", "BTC", 100)
	require.ErrorIs(t, err, ErrDisabledUser)
}

func TestDepositCashCreditsBelowLimit(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")

	require.NoError(t, h.acc.DepositCash(context.Background(), "alice", "addr1", "BTC", 500, false, ""))

	pos, err := h.store.GetPosition("alice", "BTC")
	require.NoError(t, err)
	require.Equal(t, int64(500), pos.Position)
}

func TestDepositCashRoutesExcessPastLimit(t *testing.T) {
	h := newHarness(t)
	limit := int64(100)
	reg := config.NewRegistry(&config.ShardConfig{
		Contracts: []config.Contract{
			{Ticker: "BTC", ContractType: config.ContractCash, Decimals: 8, Active: true, DepositLimit: &limit},
		},
		FeeGroups:        []config.FeeGroup{{ID: "default"}},
		PermissionGroups: []config.PermissionGroup{{ID: "default", Trade: true, Withdraw: true, Deposit: true}},
	})
	h.acc = New(Config{
		Store: h.store, Registry: reg, Ledger: h.acc.ledger, Notifier: h.notifier, Mailer: h.mailer,
		ShardNum: 0, NumShards: 1,
	})
	mustCreateUser(t, h.store, "alice")

	require.NoError(t, h.acc.DepositCash(context.Background(), "alice", "addr1", "BTC", 150, false, ""))

	pos, err := h.store.GetPosition("alice", "BTC")
	require.NoError(t, err)
	require.Equal(t, int64(100), pos.Position, "only up to the deposit limit is credited")

	overflow, err := h.store.GetPosition("depositoverflow", "BTC")
	require.NoError(t, err)
	require.Zero(t, overflow.Position, "depositoverflow has no user row so applyAndNotify skips applying its delta")
	require.Contains(t, h.mailer.sent, "deposit_limit_exceeded")
}

func TestTransferPositionMovesBalance(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")
	mustCreateUser(t, h.store, "bob")
	require.NoError(t, h.store.ApplyDelta("alice", "BTC", 100))

	require.NoError(t, h.acc.TransferPosition(context.Background(), "alice", "bob", "BTC", 40))

	alicePos, _ := h.store.GetPosition("alice", "BTC")
	bobPos, _ := h.store.GetPosition("bob", "BTC")
	require.Equal(t, int64(60), alicePos.Position)
	require.Equal(t, int64(40), bobPos.Position)
}

func TestTransferPositionRejectsUnknownUser(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")

	err := h.acc.TransferPosition(context.Background(), "alice", "ghost", "BTC", 1)
	require.ErrorIs(t, err, ErrNoSuchUser)
}
