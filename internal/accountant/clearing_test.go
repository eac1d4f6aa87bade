package accountant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/accountant/internal/config"
)

func clearingHarness(t *testing.T, expired bool) *harness {
	t.Helper()
	h := newHarness(t)
	var expiration *int64
	if expired {
		past := int64(1)
		expiration = &past
	}
	reg := config.NewRegistry(&config.ShardConfig{
		Contracts: []config.Contract{
			{Ticker: "BTC", ContractType: config.ContractCash, Decimals: 8, Active: true},
			{Ticker: "PRED", ContractType: config.ContractPrediction, Denominator: 100,
				DenominatedContractTicker: "BTC", Active: true, ExpirationUnix: expiration},
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

func TestClearContractWithoutZeroOutLeavesPredictionOpen(t *testing.T) {
	h := clearingHarness(t, false)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "PRED", 10))

	price := int64(60)
	require.NoError(t, h.acc.ClearContract(context.Background(), "PRED", &price, false))

	pos, err := h.store.GetPosition("alice", "PRED")
	require.NoError(t, err)
	require.EqualValues(t, 10, pos.Position, "mark-to-market without zero_out leaves the position open")
	require.False(t, h.acc.isClearing("PRED"), "clearing flag must clear even after a successful run")
}

func TestClearContractZeroOutClosesExpiredPosition(t *testing.T) {
	h := clearingHarness(t, true)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "PRED", 3))

	price := int64(60)
	require.NoError(t, h.acc.ClearContract(context.Background(), "PRED", &price, true))

	pos, err := h.store.GetPosition("alice", "PRED")
	require.NoError(t, err)
	require.Zero(t, pos.Position, "zero_out clearing must flatten the position")

	cash, err := h.store.GetPosition("alice", "BTC")
	require.NoError(t, err)
	require.EqualValues(t, 180, cash.Position, "payout posted at price*position, not denominator*position")
}

func TestClearContractZeroOutWithoutPriceSkipsPayout(t *testing.T) {
	h := clearingHarness(t, true)
	mustCreateUser(t, h.store, "alice")
	require.NoError(t, h.store.ApplyDelta("alice", "PRED", 3))

	require.NoError(t, h.acc.ClearContract(context.Background(), "PRED", nil, true))

	pos, err := h.store.GetPosition("alice", "PRED")
	require.NoError(t, err)
	require.EqualValues(t, 3, pos.Position, "no clearing price means the position is left untouched, not guessed at")
}

func TestClearContractRejectsUnexpiredZeroOut(t *testing.T) {
	h := clearingHarness(t, false)

	err := h.acc.ClearContract(context.Background(), "PRED", nil, true)
	require.ErrorIs(t, err, ErrContractNotExpired)
}

func TestClearContractRejectsExpiredMarkToMarket(t *testing.T) {
	h := clearingHarness(t, true)

	price := int64(60)
	err := h.acc.ClearContract(context.Background(), "PRED", &price, false)
	require.ErrorIs(t, err, ErrContractExpired)
}

func TestClearContractRejectsNonClearingContract(t *testing.T) {
	h := clearingHarness(t, false)

	err := h.acc.ClearContract(context.Background(), "BTC", nil, false)
	require.ErrorIs(t, err, ErrNonClearingContract)
}

func TestClearContractRejectsUnknownContract(t *testing.T) {
	h := clearingHarness(t, false)

	err := h.acc.ClearContract(context.Background(), "NOPE", nil, false)
	require.ErrorIs(t, err, ErrInvalidContractType)
}

type fakeClearingFeed struct {
	transitions []struct {
		Ticker   string
		Clearing bool
	}
}

func (f *fakeClearingFeed) Publish(ctx context.Context, ticker string, clearing bool) error {
	f.transitions = append(f.transitions, struct {
		Ticker   string
		Clearing bool
	}{ticker, clearing})
	return nil
}

func TestClearContractAnnouncesTransitionsToClearingFeed(t *testing.T) {
	h := clearingHarness(t, false)
	feed := &fakeClearingFeed{}
	h.acc.SetClearingFeed(feed)

	price := int64(60)
	require.NoError(t, h.acc.ClearContract(context.Background(), "PRED", &price, false))

	require.Len(t, feed.transitions, 2)
	require.Equal(t, "PRED", feed.transitions[0].Ticker)
	require.True(t, feed.transitions[0].Clearing)
	require.False(t, feed.transitions[1].Clearing)
}

func TestReceiveClearingStateAppliesRemoteTransition(t *testing.T) {
	h := newHarness(t)

	h.acc.ReceiveClearingState("PRED", true)
	require.True(t, h.acc.isClearing("PRED"))

	h.acc.ReceiveClearingState("PRED", false)
	require.False(t, h.acc.isClearing("PRED"))
}
