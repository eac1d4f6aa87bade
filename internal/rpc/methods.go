package rpc

import (
	"context"
	"encoding/json"

	"github.com/klingon-exchange/accountant/internal/accountant"
	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/margin"
)

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// --- Webserver surface: place_order, cancel_order, request_withdrawal, get_margin ---

var webserverMethods = map[string]handler{
	"place_order": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string      `json:"username"`
			Contract string      `json:"contract"`
			Side     margin.Side `json:"side"`
			Price    int64       `json:"price"`
			Quantity int64       `json:"quantity"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if err := s.localOrForward(req.Username); err != nil {
			return nil, err
		}
		return s.acc.PlaceOrder(ctx, accountant.PlaceOrderRequest{
			Username: req.Username,
			Contract: req.Contract,
			Side:     req.Side,
			Price:    req.Price,
			Quantity: req.Quantity,
		})
	},
	"cancel_order": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
			OrderID  int64  `json:"order_id"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if err := s.localOrForward(req.Username); err != nil {
			return nil, err
		}
		return nil, s.acc.CancelOrder(ctx, req.OrderID, req.Username)
	},
	"request_withdrawal": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
			Contract string `json:"contract"`
			Quantity int64  `json:"quantity"`
			Address  string `json:"address"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if err := s.localOrForward(req.Username); err != nil {
			return nil, err
		}
		return nil, s.acc.RequestWithdrawal(ctx, req.Username, req.Contract, req.Quantity)
	},
	"get_margin": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if err := s.localOrForward(req.Username); err != nil {
			return nil, err
		}
		return s.acc.GetMargin(req.Username)
	},
}

// --- Engine surface: post_transaction, cancel_order, safe_prices ---

var engineMethods = map[string]handler{
	"post_transaction": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var fill accountant.Fill
		if err := decodeParams(params, &fill); err != nil {
			return nil, err
		}
		return nil, s.acc.PostTransaction(ctx, fill)
	},
	"cancel_order": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			OrderID int64 `json:"order_id"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.CancelOrderEngine(ctx, req.OrderID)
	},
	"safe_prices": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var prices map[string]int64
		if err := decodeParams(params, &prices); err != nil {
			return nil, err
		}
		s.acc.SafePrices(prices)
		return nil, nil
	},
}

// --- Cashier surface: deposit_cash, transfer_position, get_position ---

var cashierMethods = map[string]handler{
	"deposit_cash": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
			Address  string `json:"address"`
			Contract string `json:"contract"`
			Received int64  `json:"received"`
			Total    bool   `json:"total"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.DepositCash(ctx, req.Username, req.Address, req.Contract, req.Received, req.Total, "")
	},
	"transfer_position": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			From     string `json:"from"`
			To       string `json:"to"`
			Contract string `json:"contract"`
			Quantity int64  `json:"quantity"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.TransferPosition(ctx, req.From, req.To, req.Contract, req.Quantity)
	},
	"get_position": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
			Contract string `json:"contract"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return s.acc.GetPosition(req.Username, req.Contract)
	},
}

// --- Peer Accountant surface: remote_post ---

var peerMethods = map[string]handler{
	"remote_post": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string         `json:"username"`
			Posting  ledger.Posting `json:"posting"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.ReceiveRemotePost(ctx, req.Username, req.Posting)
	},
}

// --- Administrator surface ---

var adminMethods = map[string]handler{
	"adjust_position": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
			Contract string `json:"contract"`
			Delta    int64  `json:"delta"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.AdjustPosition(ctx, req.Username, req.Contract, req.Delta)
	},
	"transfer_position": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		return cashierMethods["transfer_position"](ctx, s, params)
	},
	"change_permission_group": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
			GroupID  string `json:"group_id"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.ChangePermissionGroup(ctx, req.Username, req.GroupID)
	},
	"change_fee_group": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
			GroupID  string `json:"group_id"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.ChangeFeeGroup(ctx, req.Username, req.GroupID)
	},
	"deposit_cash": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username      string `json:"username"`
			Address       string `json:"address"`
			Contract      string `json:"contract"`
			Received      int64  `json:"received"`
			Total         bool   `json:"total"`
			AdminUsername string `json:"admin_username"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.DepositCash(ctx, req.Username, req.Address, req.Contract, req.Received, req.Total, req.AdminUsername)
	},
	"cancel_order": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		return engineMethods["cancel_order"](ctx, s, params)
	},
	"clear_contract": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Ticker  string `json:"ticker"`
			Price   *int64 `json:"price"`
			ZeroOut bool   `json:"zero_out"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.ClearContract(ctx, req.Ticker, req.Price, req.ZeroOut)
	},
	"reload_fee_group": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.ReloadFeeGroup(req.ID)
	},
	"reload_contract": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Ticker string `json:"ticker"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.ReloadContract(req.Ticker)
	},
	"liquidate_all": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.LiquidateAll(ctx, req.Username)
	},
	"liquidate_position": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
			Ticker   string `json:"ticker"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.LiquidatePosition(ctx, req.Username, req.Ticker)
	},
	"get_margin": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		return webserverMethods["get_margin"](ctx, s, params)
	},
}

// --- RiskManager surface: liquidate_best ---

var riskManagerMethods = map[string]handler{
	"liquidate_best": func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error) {
		var req struct {
			Username string `json:"username"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, s.acc.LiquidateBest(ctx, req.Username)
	},
}
