package accountant

import (
	"context"
	"time"

	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/margin"
	"github.com/klingon-exchange/accountant/internal/store"
)

// PlaceOrderRequest is the Webserver[user] place_order call's input.
type PlaceOrderRequest struct {
	Username string
	Contract string
	Side     margin.Side
	Price    int64
	Quantity int64
}

// PlaceOrder runs the admission pre-checks in the order spec.md 4.6
// requires, inserts the order row, runs acceptance, and on success
// dispatches it to the owning contract's engine.
func (a *Accountant) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*store.Order, error) {
	contract, ok := a.registry.Contract(req.Contract)
	if !ok {
		return nil, ErrInvalidContractType
	}

	if a.isClearing(req.Contract) {
		return nil, ErrContractClearing
	}
	if !contract.Active {
		return nil, ErrContractNotActive
	}
	if contract.Expired(nowUnix()) {
		return nil, ErrContractExpired
	}
	if contract.ContractType == config.ContractCash {
		return nil, ErrInvalidContractType
	}
	if req.Price <= 0 || req.Quantity <= 0 {
		return nil, ErrInvalidPriceQuantity
	}
	if contract.TickSize > 0 && req.Price%contract.TickSize != 0 {
		return nil, ErrInvalidPriceQuantity
	}
	if contract.ContractType == config.ContractPrediction {
		if req.Price <= 0 || req.Price > contract.Denominator {
			return nil, ErrInvalidPriceQuantity
		}
	}
	if contract.ContractType == config.ContractCashPair {
		if req.Quantity%contract.LotSize != 0 {
			return nil, ErrInvalidPriceQuantity
		}
	}

	order := &store.Order{
		Username:  req.Username,
		Contract:  req.Contract,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Timestamp: time.Now(),
	}
	id, err := a.store.CreateOrder(order)
	if err != nil {
		return nil, withMessage(ErrStorageError, err.Error())
	}
	order.ID = id

	if err := a.AcceptOrder(ctx, order, false); err != nil {
		a.store.DeleteOrder(id)
		return nil, err
	}

	return order, nil
}

// AcceptOrder runs margin/permission admission and, on success, marks the
// order accepted and dispatches it to the engine. force=true skips every
// check, used by liquidation's forced orders.
func (a *Accountant) AcceptOrder(ctx context.Context, order *store.Order, force bool) error {
	if !force {
		if a.isDisabled(order.Username) {
			return ErrDisabledUser
		}
		user, err := a.store.GetUser(order.Username)
		if err != nil {
			return ErrNoSuchUser
		}
		if !user.TradePermitted {
			return ErrTradeNotPermitted
		}

		result, err := a.computeMargin(order.Username, &margin.OrderInput{
			Contract:     order.Contract,
			Side:         order.Side,
			Price:        order.Price,
			QuantityLeft: order.QuantityLeft,
		}, "", 0)
		if err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
		if !margin.CheckMargin(result) {
			return ErrInsufficientMargin
		}
	}

	if err := a.store.SetAccepted(order.ID, true); err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	order.Accepted = true

	client, ok := a.engines.For(order.Contract)
	if ok {
		if err := client.PlaceOrder(ctx, order.ID, string(order.Side), order.Price, order.QuantityLeft); err == nil {
			a.store.SetDispatched(order.ID, true)
			order.Dispatched = true
		}
	}

	if a.notifier != nil {
		a.notifier.NotifyOrderUpdate(ctx, order)
	}
	return nil
}

// CancelOrder validates ownership and current state before cancelling a
// resting order, per spec.md 4.6.
func (a *Accountant) CancelOrder(ctx context.Context, orderID int64, username string) error {
	order, err := a.store.GetOrder(orderID)
	if err != nil {
		return ErrNoOrderFound
	}
	if order.Username != username {
		return ErrUserOrderMismatch
	}
	if order.IsCancelled || order.QuantityLeft == 0 {
		return ErrOrderCancelled
	}

	if order.Dispatched {
		if client, ok := a.engines.For(order.Contract); ok {
			client.CancelOrder(ctx, order.ID)
		}
	}
	if err := a.store.SetCancelled(order.ID); err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	order.IsCancelled = true

	if a.notifier != nil {
		a.notifier.NotifyOrderUpdate(ctx, order)
	}
	return nil
}

// CancelOrderEngine handles an engine-initiated cancel (e.g. the engine
// restarted and dropped its book). It tolerates the order already having
// been cancelled locally, since the cancel may race with a user-initiated
// cancel that reached the accountant first.
func (a *Accountant) CancelOrderEngine(ctx context.Context, orderID int64) error {
	order, err := a.store.GetOrder(orderID)
	if err != nil {
		return nil
	}
	if order.IsCancelled {
		return nil
	}
	if err := a.store.SetCancelled(order.ID); err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	order.IsCancelled = true
	if a.notifier != nil {
		a.notifier.NotifyOrderUpdate(ctx, order)
	}
	return nil
}

func nowUnix() int64 {
	return time.Now().Unix()
}
