package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/accountant/internal/accountant"
	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/engineclient"
	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/ledgergateway"
	"github.com/klingon-exchange/accountant/internal/store"
)

func testAccountant(t *testing.T) *accountant.Accountant {
	t.Helper()
	dir, err := os.MkdirTemp("", "rpc-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := store.New(&store.Config{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledgerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"accepted":true}}`))
	}))
	t.Cleanup(ledgerSrv.Close)

	reg := config.NewRegistry(&config.ShardConfig{
		Contracts: []config.Contract{
			{Ticker: "BTC", ContractType: config.ContractCash, Decimals: 8, Active: true},
		},
		FeeGroups:        []config.FeeGroup{{ID: "default"}},
		PermissionGroups: []config.PermissionGroup{{ID: "default", Trade: true, Withdraw: true, Deposit: true}},
	})

	require.NoError(t, db.CreateUser(&store.User{
		Username: "alice", Type: ledger.Asset, PermissionGroupID: "default", FeeGroupID: "default",
		TradePermitted: true, WithdrawPermitted: true, DepositPermitted: true, CreatedAt: time.Now(),
	}))

	return accountant.New(accountant.Config{
		Store:     db,
		Registry:  reg,
		Ledger:    ledgergateway.New(ledgergateway.Config{URL: ledgerSrv.URL}),
		Engines:   engineclient.NewRegistry(nil),
		ShardNum:  0,
		NumShards: 1,
	})
}

func testServer(t *testing.T, token string) *Server {
	t.Helper()
	acc := testAccountant(t)
	s := New(Config{ShardNumber: 0, NumShards: 1, TrustedToken: token})
	s.SetAccountant(acc)
	return s
}

func doRPC(t *testing.T, s *Server, path, method string, params interface{}, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  json.RawMessage(paramsJSON),
		"id":      1,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func TestPlaceOrderViaWebserverSurface(t *testing.T) {
	s := testServer(t, "")

	rec := doRPC(t, s, "/rpc/webserver", "place_order", map[string]interface{}{
		"username": "alice", "contract": "BTC", "side": "BUY", "price": 10, "quantity": 1,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s := testServer(t, "")
	rec := doRPC(t, s, "/rpc/webserver", "no_such_method", map[string]interface{}{}, "")

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestAccountantErrorSurfacesStableCode(t *testing.T) {
	s := testServer(t, "")
	rec := doRPC(t, s, "/rpc/webserver", "cancel_order", map[string]interface{}{
		"username": "alice", "order_id": 999,
	}, "")

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, "no_order_found", resp.Error.Data)
}

func TestTrustedSurfaceRejectsMissingToken(t *testing.T) {
	s := testServer(t, "secret")
	rec := doRPC(t, s, "/rpc/admin", "reload_contract", map[string]interface{}{"ticker": "BTC"}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTrustedSurfaceAcceptsCorrectToken(t *testing.T) {
	s := testServer(t, "secret")
	rec := doRPC(t, s, "/rpc/admin", "reload_contract", map[string]interface{}{"ticker": "BTC"}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebserverSurfaceNeverRequiresToken(t *testing.T) {
	s := testServer(t, "secret")
	rec := doRPC(t, s, "/rpc/webserver", "get_margin", map[string]interface{}{"username": "alice"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLocalOrForwardReportsWrongShard(t *testing.T) {
	acc := testAccountant(t)
	s := New(Config{ShardNumber: 0, NumShards: 4})
	s.SetAccountant(acc)

	err := s.localOrForward("someone-on-another-shard-zzzzzzzzzzzzzzzzzzzzz")
	if err != nil {
		var wrongShard *wrongShardError
		require.ErrorAs(t, err, &wrongShard)
	}
}

func TestAdjustPositionDebugOnlyGate(t *testing.T) {
	acc := testAccountant(t)
	s := New(Config{ShardNumber: 0, NumShards: 1})
	s.SetAccountant(acc)

	body, _ := json.Marshal(adjustPositionBody{Username: "alice", Contract: "BTC", Delta: 10})
	req := httptest.NewRequest(http.MethodPost, "/admin/adjust_position", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code, "adjust_position must be rejected outside debug mode")
}
