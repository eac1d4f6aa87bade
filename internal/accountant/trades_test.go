package accountant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/margin"
)

func TestPostTransactionCashTradeAppliesFeeSplit(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")
	mustCreateUser(t, h.store, "vendor1")

	fill := Fill{
		Username:   "alice",
		Aggressive: true,
		Contract:   "BTC",
		OrderID:    1,
		Side:       margin.Buy,
		Price:      1000,
		Quantity:   10,
		Timestamp:  time.Now(),
	}
	require.NoError(t, h.acc.PostTransaction(context.Background(), fill))

	feePos, err := h.store.GetPosition("vendor1", "BTC")
	require.NoError(t, err)
	require.NotNil(t, feePos)
	require.NotZero(t, feePos.Position, "vendor1 should receive its fee share")

	require.Len(t, h.notifier.fills, 1)
	require.Contains(t, h.mailer.sent, "fill_notification")
}

func TestPostTransactionRejectsInactiveContract(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")

	reg := config.NewRegistry(&config.ShardConfig{
		Contracts: []config.Contract{
			{Ticker: "BTC", ContractType: config.ContractCash, Decimals: 8, Active: false},
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

	err := h.acc.PostTransaction(context.Background(), Fill{
		Username: "alice",
		Contract: "BTC",
		Side:     margin.Buy,
		Price:    100,
		Quantity: 1,
	})
	require.ErrorIs(t, err, ErrContractNotActive)
}

func TestPostTransactionRejectsClearingContract(t *testing.T) {
	h := newHarness(t)
	mustCreateUser(t, h.store, "alice")
	h.acc.setClearing("BTC", true)

	err := h.acc.PostTransaction(context.Background(), Fill{
		Username: "alice",
		Contract: "BTC",
		Side:     margin.Buy,
		Price:    100,
		Quantity: 1,
	})
	require.ErrorIs(t, err, ErrContractClearing)
}

func TestSplitFeeDistributesVendorSharesAndRemainder(t *testing.T) {
	group := config.FeeGroup{VendorShares: map[string]float64{"vendor1": 0.3, "vendor2": 0.3}}
	postings, fee := splitFee("alice", "BTC", 100, group, time.Now())
	require.Equal(t, int64(100), fee)

	var debited, credited int64
	for _, p := range postings {
		if p.Username == "alice" {
			debited += p.Quantity
		} else {
			credited += p.Quantity
		}
	}
	require.Equal(t, int64(100), debited)
	require.Equal(t, int64(100), credited, "debits must equal credits so the entry balances")
}

func TestSplitFeeZeroFeeIsNoop(t *testing.T) {
	postings, fee := splitFee("alice", "BTC", 0, config.FeeGroup{VendorShares: map[string]float64{"vendor1": 0.5}}, time.Now())
	require.Nil(t, postings)
	require.Zero(t, fee)
}
