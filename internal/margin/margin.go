// Package margin computes the low/high margin and max-cash-spent figures
// that gate order admission, withdrawal and liquidation ranking.
//
// margin.py from the original implementation was not available in the
// retrieval pack (only accountant.py survived distillation), so the exact
// per-contract-type formulas below are derived directly from spec.md
// section 4.5's prose and the S1/S2 scenarios, not transliterated from a
// source file. See DESIGN.md for the resulting Open Question decisions.
package margin

import (
	"fmt"

	"github.com/klingon-exchange/accountant/internal/config"
)

// Side mirrors an order's side for the purpose of projecting a hypothetical
// fill onto a position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// PositionInput is the minimal position state the margin engine needs for
// one contract.
type PositionInput struct {
	Contract       string
	Quantity       int64
	ReferencePrice *int64
}

// OrderInput is the minimal open-order state the margin engine needs to
// project a hypothetical fill.
type OrderInput struct {
	Contract     string
	Side         Side
	Price        int64
	QuantityLeft int64
}

// Options carries the optional overrides and hypothetical pending
// operation described in spec.md 4.5.
type Options struct {
	// PendingOrder, if set, is folded into the high-margin projection as
	// though it were an additional resting order.
	PendingOrder *OrderInput

	// PendingWithdrawal, if set, is subtracted from the denominating cash
	// position before computing margin.
	PendingWithdrawalContract string
	PendingWithdrawalAmount   int64

	// PositionOverrides/CashOverrides replace the stored quantity for a
	// contract when present, used by liquidation ranking to evaluate
	// "if one unit were reduced" without mutating the real position.
	PositionOverrides map[string]int64
	CashOverrides     map[string]int64
}

// Result is the margin engine's output: low/high margin and the cash that
// would be spent by the pending order or withdrawal, if any.
type Result struct {
	LowMargin    int64
	HighMargin   int64
	MaxCashSpent int64
	CashPosition int64
}

// CashSpent implements f(contract, priceOrDelta, quantity): the cash-value
// of a fill, expressed in the contract's denominating currency. For
// futures, callers pass (price - reference_price) as priceOrDelta; for
// cash_pair/prediction, the raw trade price.
func CashSpent(priceOrDelta, quantity int64) int64 {
	return priceOrDelta * quantity
}

// Compute returns (low_margin, high_margin, max_cash_spent) for a user.
//
// denominatingTicker is the contract whose position is the user's
// available cash (checked against high_margin by the caller's
// check_margin). positions is the user's full position set, keyed by
// ticker. openOrders are the user's other resting orders (not including
// any PendingOrder passed via opts, which is folded in separately).
func Compute(
	denominatingTicker string,
	positions map[string]PositionInput,
	openOrders []OrderInput,
	contracts map[string]config.Contract,
	safePrices map[string]int64,
	opts Options,
) (Result, error) {
	cashPosition := positionQuantity(positions, denominatingTicker, opts.CashOverrides)
	if opts.PendingWithdrawalContract == denominatingTicker {
		cashPosition -= opts.PendingWithdrawalAmount
	}

	low, err := requirement(positions, contracts, safePrices, opts.PositionOverrides, opts.CashOverrides)
	if err != nil {
		return Result{}, err
	}

	projected := projectFills(positions, openOrders, opts.PendingOrder)
	high, err := requirement(projected, contracts, safePrices, opts.PositionOverrides, opts.CashOverrides)
	if err != nil {
		return Result{}, err
	}

	var maxCashSpent int64
	if opts.PendingOrder != nil {
		maxCashSpent = CashSpent(opts.PendingOrder.Price, opts.PendingOrder.QuantityLeft)
	}
	if opts.PendingWithdrawalAmount != 0 {
		maxCashSpent = opts.PendingWithdrawalAmount
	}

	return Result{
		LowMargin:    low,
		HighMargin:   high,
		MaxCashSpent: maxCashSpent,
		CashPosition: cashPosition,
	}, nil
}

// CheckMargin reports whether the user may be admitted: high_margin must
// not exceed the cash position of the denominating contract.
func CheckMargin(r Result) bool {
	return r.HighMargin <= r.CashPosition
}

func positionQuantity(positions map[string]PositionInput, ticker string, overrides map[string]int64) int64 {
	if overrides != nil {
		if q, ok := overrides[ticker]; ok {
			return q
		}
	}
	if p, ok := positions[ticker]; ok {
		return p.Quantity
	}
	return 0
}

// projectFills returns a copy of positions with every resting order (and
// the optional pending order) applied as though it had fully filled: BUY
// adds quantity, SELL subtracts it.
func projectFills(positions map[string]PositionInput, openOrders []OrderInput, pending *OrderInput) map[string]PositionInput {
	projected := make(map[string]PositionInput, len(positions))
	for k, v := range positions {
		projected[k] = v
	}

	apply := func(o OrderInput) {
		p := projected[o.Contract]
		p.Contract = o.Contract
		delta := o.QuantityLeft
		if o.Side == Sell {
			delta = -delta
		}
		p.Quantity += delta
		projected[o.Contract] = p
	}

	for _, o := range openOrders {
		apply(o)
	}
	if pending != nil {
		apply(*pending)
	}
	return projected
}

// requirement sums the locked-cash requirement across every non-cash
// position, per spec.md 4.5:
//
//   - prediction on denomination D: long q locks q*D; short q locks q*D
//     minus the cash already held from opening that short (supplied by the
//     caller via CashOverrides keyed by contract, defaulting to 0 — the
//     retrieval pack's margin.py, which would hold the exact bookkeeping
//     for "currently held cash from the short", was not available).
//   - futures: the variation-margin exposure between the position's
//     reference price and the current safe price.
//   - cash / cash_pair: no additional locked-cash requirement; their
//     value is already reflected in the denominating cash position.
func requirement(
	positions map[string]PositionInput,
	contracts map[string]config.Contract,
	safePrices map[string]int64,
	positionOverrides map[string]int64,
	cashHeldOverrides map[string]int64,
) (int64, error) {
	var total int64

	for ticker, pos := range positions {
		contract, ok := contracts[ticker]
		if !ok {
			continue
		}

		qty := pos.Quantity
		if positionOverrides != nil {
			if q, ok := positionOverrides[ticker]; ok {
				qty = q
			}
		}
		if qty == 0 {
			continue
		}

		switch contract.ContractType {
		case config.ContractPrediction:
			denom := contract.Denominator
			if qty > 0 {
				total += qty * denom
			} else {
				held := cashHeldOverrides[ticker]
				req := (-qty)*denom - held
				if req > 0 {
					total += req
				}
			}

		case config.ContractFutures:
			safe, ok := safePrices[ticker]
			if !ok {
				continue
			}
			ref := safe
			if pos.ReferencePrice != nil {
				ref = *pos.ReferencePrice
			}
			exposure := CashSpent(safe-ref, qty)
			if exposure < 0 {
				exposure = -exposure
			}
			total += exposure

		case config.ContractCash, config.ContractCashPair:
			// already reflected in the cash position itself

		default:
			return 0, fmt.Errorf("unknown contract type for %s: %s", ticker, contract.ContractType)
		}
	}

	return total, nil
}
