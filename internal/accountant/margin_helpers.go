package accountant

import (
	"sync"

	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/margin"
)

// safePrices caches the latest mark price per contract, pushed by the
// owning engine via the Engine[trusted] safe_prices call. Margin and
// clearing both read from this cache rather than calling out to the
// engine synchronously on every admission check.
type safePriceCache struct {
	mu     sync.RWMutex
	prices map[string]int64
}

func newSafePriceCache() *safePriceCache {
	return &safePriceCache{prices: make(map[string]int64)}
}

func (c *safePriceCache) set(ticker string, price int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[ticker] = price
}

func (c *safePriceCache) setAll(prices map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, p := range prices {
		c.prices[t] = p
	}
}

func (c *safePriceCache) snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.prices))
	for t, p := range c.prices {
		out[t] = p
	}
	return out
}

// SafePrices ingests a batch of mark prices from an engine.
func (a *Accountant) SafePrices(prices map[string]int64) {
	a.safePrices.setAll(prices)
}

// denominatingTicker returns the cash contract a ticker's margin is
// measured against: its own DenominatedContractTicker, or itself if that
// field is empty (cash contracts denominate themselves).
func (a *Accountant) denominatingTicker(ticker string) string {
	contract, ok := a.registry.Contract(ticker)
	if !ok || contract.DenominatedContractTicker == "" {
		return ticker
	}
	return contract.DenominatedContractTicker
}

// computeMargin gathers a user's positions and open orders and runs the
// margin engine against them, optionally folding in one hypothetical
// pending order or withdrawal.
func (a *Accountant) computeMargin(username string, pendingOrder *margin.OrderInput, withdrawalContract string, withdrawalAmount int64) (margin.Result, error) {
	denominating := ""
	if pendingOrder != nil {
		denominating = a.denominatingTicker(pendingOrder.Contract)
	} else if withdrawalContract != "" {
		denominating = a.denominatingTicker(withdrawalContract)
	}

	positions, err := a.store.ListPositions(username)
	if err != nil {
		return margin.Result{}, err
	}
	posInputs := make(map[string]margin.PositionInput, len(positions))
	for _, p := range positions {
		posInputs[p.Contract] = margin.PositionInput{
			Contract:       p.Contract,
			Quantity:       p.Position,
			ReferencePrice: p.ReferencePrice,
		}
	}

	orders, err := a.store.OpenOrdersForUser(username)
	if err != nil {
		return margin.Result{}, err
	}
	orderInputs := make([]margin.OrderInput, 0, len(orders))
	for _, o := range orders {
		orderInputs = append(orderInputs, margin.OrderInput{
			Contract:     o.Contract,
			Side:         o.Side,
			Price:        o.Price,
			QuantityLeft: o.QuantityLeft,
		})
	}

	return margin.Compute(
		denominating,
		posInputs,
		orderInputs,
		a.contractMap(),
		a.safePrices.snapshot(),
		margin.Options{
			PendingOrder:              pendingOrder,
			PendingWithdrawalContract: withdrawalContract,
			PendingWithdrawalAmount:   withdrawalAmount,
		},
	)
}

func (a *Accountant) contractMap() map[string]config.Contract {
	out := make(map[string]config.Contract)
	for _, c := range a.registry.AllContracts() {
		out[c.Ticker] = c
	}
	return out
}
