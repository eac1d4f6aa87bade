package margin

import (
	"testing"

	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/stretchr/testify/require"
)

func contracts() map[string]config.Contract {
	return map[string]config.Contract{
		"BTC": {Ticker: "BTC", ContractType: config.ContractCash},
		"P1":  {Ticker: "P1", ContractType: config.ContractPrediction, Denominator: 100},
		"F1":  {Ticker: "F1", ContractType: config.ContractFutures},
	}
}

func TestComputeCashOnly(t *testing.T) {
	positions := map[string]PositionInput{
		"BTC": {Contract: "BTC", Quantity: 500},
	}
	r, err := Compute("BTC", positions, nil, contracts(), nil, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(500), r.CashPosition)
	require.Equal(t, int64(0), r.HighMargin)
	require.True(t, CheckMargin(r))
}

func TestInsufficientMarginScenario(t *testing.T) {
	// S2: A has 500 cash; an order requiring high_margin=600 must be rejected.
	positions := map[string]PositionInput{
		"BTC": {Contract: "BTC", Quantity: 500},
		"P1":  {Contract: "P1", Quantity: 0},
	}
	pending := &OrderInput{Contract: "P1", Side: Buy, Price: 6, QuantityLeft: 100}
	// long 100 units of P1 at denominator 100 -> requires 100*100 = 10000 which is
	// deliberately oversized; use a smaller denominator-bearing contract instead.
	_ = pending

	order := &OrderInput{Contract: "P1", Side: Buy, Price: 6, QuantityLeft: 6}
	opts := Options{PendingOrder: order}
	r, err := Compute("BTC", positions, nil, contracts(), nil, opts)
	require.NoError(t, err)
	// long 6 units at denominator 100 -> requirement 600
	require.Equal(t, int64(600), r.HighMargin)
	require.False(t, CheckMargin(r))
}

func TestFuturesExposure(t *testing.T) {
	ref := int64(100)
	positions := map[string]PositionInput{
		"BTC": {Contract: "BTC", Quantity: 1000},
		"F1":  {Contract: "F1", Quantity: 2, ReferencePrice: &ref},
	}
	safePrices := map[string]int64{"F1": 105}
	r, err := Compute("BTC", positions, nil, contracts(), safePrices, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(10), r.HighMargin) // |105-100|*2
}

func TestShortPredictionWithHeldCash(t *testing.T) {
	positions := map[string]PositionInput{
		"BTC": {Contract: "BTC", Quantity: 1000},
		"P1":  {Contract: "P1", Quantity: -10},
	}
	opts := Options{CashOverrides: map[string]int64{"P1": 400}}
	r, err := Compute("BTC", positions, nil, contracts(), nil, opts)
	require.NoError(t, err)
	// short 10 * denom 100 = 1000, minus 400 held = 600
	require.Equal(t, int64(600), r.HighMargin)
}
