package accountant

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/margin"
	"github.com/klingon-exchange/accountant/internal/store"
)

// LiquidatePosition cancels a user's open orders on ticker, waits for that
// position's pending_postings to reach zero, then posts a forced
// market-style order on the opposite side for the full position.
//
// Per spec.md 9's resolution of the liquidate_position recursion open
// question, this always waits for quiescence before posting; it never
// reschedules itself conditionally on the pending count the way the
// source implementation did.
func (a *Accountant) LiquidatePosition(ctx context.Context, username, ticker string) error {
	contract, ok := a.registry.Contract(ticker)
	if !ok {
		return ErrInvalidContractType
	}
	if contract.ContractType != config.ContractPrediction && contract.ContractType != config.ContractFutures {
		return ErrInvalidContractType
	}

	if err := a.cancelUserOrdersOnContract(ctx, username, ticker); err != nil {
		return err
	}
	if err := a.waitForUserQuiescence(ctx, username, ticker); err != nil {
		return err
	}

	pos, err := a.store.GetPosition(username, ticker)
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	if pos == nil || pos.Position == 0 {
		return nil
	}

	side := margin.Sell
	price := int64(0)
	if pos.Position < 0 {
		side = margin.Buy
		switch contract.ContractType {
		case config.ContractPrediction:
			price = contract.Denominator
		case config.ContractFutures:
			price = math.MaxInt64
		}
	}

	qty := pos.Position
	if qty < 0 {
		qty = -qty
	}

	return a.placeForcedOrder(ctx, username, ticker, side, price, qty)
}

// placeForcedOrder bypasses PlaceOrder's normal admission checks entirely:
// a forced liquidation order's price (0 to sell at any price, MaxInt64 or
// the prediction denominator to buy at any price) deliberately falls
// outside the bounds PlaceOrder enforces for ordinary resting orders.
func (a *Accountant) placeForcedOrder(ctx context.Context, username, ticker string, side margin.Side, price, quantity int64) error {
	order := &store.Order{
		Username:  username,
		Contract:  ticker,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Timestamp: time.Now(),
	}
	id, err := a.store.CreateOrder(order)
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	order.ID = id
	return a.AcceptOrder(ctx, order, true)
}

func (a *Accountant) cancelUserOrdersOnContract(ctx context.Context, username, ticker string) error {
	orders, err := a.store.OpenOrdersForUser(username)
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	for _, o := range orders {
		if o.Contract != ticker {
			continue
		}
		if err := a.CancelOrder(ctx, o.ID, username); err != nil {
			a.log.Warn("failed to cancel order during liquidation", "order_id", o.ID, "error", err)
		}
	}
	return nil
}

func (a *Accountant) waitForUserQuiescence(ctx context.Context, username, ticker string) error {
	for {
		pos, err := a.store.GetPosition(username, ticker)
		if err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
		if pos == nil || pos.PendingPostings == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(quiescencePoll):
		}
	}
}

func (a *Accountant) waitForAllUserQuiescence(ctx context.Context, username string) error {
	for {
		positions, err := a.store.ListPositions(username)
		if err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
		quiet := true
		for _, p := range positions {
			if p.PendingPostings != 0 {
				quiet = false
				break
			}
		}
		if quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(quiescencePoll):
		}
	}
}

// LiquidateAll disables a user, force-liquidates every futures/prediction
// position they hold, then re-enables them.
func (a *Accountant) LiquidateAll(ctx context.Context, username string) error {
	a.disableUser(username)
	defer a.enableUser(username)

	positions, err := a.store.ListPositions(username)
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}

	for _, p := range positions {
		if p.Position == 0 {
			continue
		}
		contract, ok := a.registry.Contract(p.Contract)
		if !ok {
			continue
		}
		if contract.ContractType != config.ContractPrediction && contract.ContractType != config.ContractFutures {
			continue
		}
		if err := a.LiquidatePosition(ctx, username, p.Contract); err != nil {
			a.log.Error("liquidate_position failed during liquidate_all", "username", username, "contract", p.Contract, "error", err)
		}
	}

	return nil
}

// LiquidateBest cancels every order a user holds, waits for the user's
// positions to go quiet, ranks every non-zero futures/prediction position
// by liquidation value, and force-closes one unit of the highest-ranked
// position.
func (a *Accountant) LiquidateBest(ctx context.Context, username string) error {
	orders, err := a.store.OpenOrdersForUser(username)
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	for _, o := range orders {
		if err := a.CancelOrder(ctx, o.ID, username); err != nil {
			a.log.Warn("failed to cancel order during liquidate_best", "order_id", o.ID, "error", err)
		}
	}
	if err := a.waitForAllUserQuiescence(ctx, username); err != nil {
		return err
	}

	positions, err := a.store.ListPositions(username)
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}

	var bestTicker string
	var bestValue float64
	found := false

	for _, p := range positions {
		if p.Position == 0 {
			continue
		}
		contract, ok := a.registry.Contract(p.Contract)
		if !ok {
			continue
		}
		if contract.ContractType != config.ContractPrediction && contract.ContractType != config.ContractFutures {
			continue
		}

		value, err := a.liquidationValue(ctx, username, p.Contract, p.Position)
		if err != nil {
			a.log.Warn("liquidation_value failed", "contract", p.Contract, "error", err)
			continue
		}
		if !found || value > bestValue {
			bestValue = value
			bestTicker = p.Contract
			found = true
		}
	}

	if !found {
		return nil
	}

	contract, _ := a.registry.Contract(bestTicker)
	pos, err := a.store.GetPosition(username, bestTicker)
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	if pos == nil || pos.Position == 0 {
		return nil
	}

	side := margin.Sell
	price := int64(0)
	if pos.Position < 0 {
		side = margin.Buy
		switch contract.ContractType {
		case config.ContractPrediction:
			price = contract.Denominator
		case config.ContractFutures:
			price = math.MaxInt64
		}
	}

	return a.placeForcedOrder(ctx, username, bestTicker, side, price, 1)
}

// liquidationValue ranks a position's desirability for forced unwind:
// margin_saved / half_spread, where margin_saved is the drop in low_margin
// from reducing the position by one unit and half_spread comes from the
// owning engine's current order book. This is the one place in the system
// that uses floating point, matching spec.md 9's "Money safety" carve-out;
// the result is truncated back to an integer before being used only for
// ranking (never as a posted quantity).
func (a *Accountant) liquidationValue(ctx context.Context, username, ticker string, position int64) (float64, error) {
	client, ok := a.engines.For(ticker)
	if !ok {
		return 0, ErrInvalidContractType
	}

	book, err := client.GetOrderBook(ctx)
	if err != nil {
		return 0, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return 0, nil
	}
	bestBid := book.Bids[0].Price
	bestAsk := book.Asks[0].Price
	halfSpread := float64(bestAsk-bestBid) / 2
	if halfSpread <= 0 {
		return 0, nil
	}

	marginNow, err := a.computeMargin(username, nil, "", 0)
	if err != nil {
		return 0, err
	}

	reduced := position
	if reduced > 0 {
		reduced--
	} else {
		reduced++
	}

	positions, err := a.store.ListPositions(username)
	if err != nil {
		return 0, err
	}
	overrides := make(map[string]int64, len(positions))
	for _, p := range positions {
		overrides[p.Contract] = p.Position
	}
	overrides[ticker] = reduced

	posInputs := make(map[string]margin.PositionInput, len(positions))
	for _, p := range positions {
		posInputs[p.Contract] = margin.PositionInput{
			Contract:       p.Contract,
			Quantity:       p.Position,
			ReferencePrice: p.ReferencePrice,
		}
	}

	marginIf, err := margin.Compute(
		a.denominatingTicker(ticker),
		posInputs,
		nil,
		a.contractMap(),
		a.safePrices.snapshot(),
		margin.Options{PositionOverrides: overrides},
	)
	if err != nil {
		return 0, err
	}

	values := []float64{float64(marginNow.LowMargin), -float64(marginIf.LowMargin)}
	marginSaved := floats.Sum(values)

	return math.Trunc(marginSaved / halfSpread), nil
}
