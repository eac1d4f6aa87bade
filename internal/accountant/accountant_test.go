package accountant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/engineclient"
	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/ledgergateway"
	"github.com/klingon-exchange/accountant/internal/store"
)

// fakeNotifier records every push so tests can assert what a caller would
// see over the websocket feed without standing one up.
type fakeNotifier struct {
	transactions []string
	fills        []string
}

func (f *fakeNotifier) NotifyOrderUpdate(ctx context.Context, o *store.Order) {}
func (f *fakeNotifier) NotifyFill(ctx context.Context, username string, trade *store.Trade) {
	f.fills = append(f.fills, username)
}
func (f *fakeNotifier) NotifyTransaction(ctx context.Context, username, contract string, delta int64) {
	f.transactions = append(f.transactions, username)
}
func (f *fakeNotifier) NotifyTrade(ctx context.Context, contract string, price, quantity int64) {}

type fakeAlerter struct {
	alerts []string
}

func (f *fakeAlerter) Alert(ctx context.Context, subject, detail string) {
	f.alerts = append(f.alerts, subject)
}

type fakeMailer struct {
	sent []string
}

func (f *fakeMailer) SendMail(ctx context.Context, to, locale, tmpl string, data map[string]interface{}) error {
	f.sent = append(f.sent, tmpl)
	return nil
}

type fakePeer struct {
	posted []ledger.Posting
}

func (f *fakePeer) RemotePost(ctx context.Context, username string, posting ledger.Posting) error {
	f.posted = append(f.posted, posting)
	return nil
}

// ledgerAckServer answers every post with "accepted" so PostOrFail tests
// can exercise the success path without a real ledger service.
func ledgerAckServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"accepted":true}}`))
	}))
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "accountant-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := store.New(&store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRegistry() *config.Registry {
	return config.NewRegistry(&config.ShardConfig{
		Contracts: []config.Contract{
			{Ticker: "BTC", ContractType: config.ContractCash, Decimals: 8, Active: true},
			{Ticker: "F1", ContractType: config.ContractFutures, Active: true},
		},
		FeeGroups: []config.FeeGroup{
			{ID: "default", TradeFeeBps: 10, VendorShares: map[string]float64{"vendor1": 0.5}},
			{ID: "free", TradeFeeBps: 0},
		},
		PermissionGroups: []config.PermissionGroup{
			{ID: "default", Trade: true, Withdraw: true, Deposit: true},
			{ID: "frozen", Trade: false, Withdraw: false, Deposit: false},
		},
	})
}

type harness struct {
	acc      *Accountant
	store    *store.Store
	notifier *fakeNotifier
	alerter  *fakeAlerter
	mailer   *fakeMailer
	peer     *fakePeer
	ledgerSrv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := testStore(t)
	srv := ledgerAckServer(t)
	t.Cleanup(srv.Close)

	notifier := &fakeNotifier{}
	alerter := &fakeAlerter{}
	mailer := &fakeMailer{}
	peer := &fakePeer{}

	acc := New(Config{
		Store:     s,
		Registry:  testRegistry(),
		Ledger:    ledgergateway.New(ledgergateway.Config{URL: srv.URL}),
		Engines:   engineclient.NewRegistry(nil),
		Peer:      peer,
		Notifier:  notifier,
		Alerter:   alerter,
		Mailer:    mailer,
		ShardNum:  0,
		NumShards: 1,
		Debug:     true,
	})

	return &harness{acc: acc, store: s, notifier: notifier, alerter: alerter, mailer: mailer, peer: peer, ledgerSrv: srv}
}

func mustCreateUser(t *testing.T, s *store.Store, username string) {
	t.Helper()
	if err := s.CreateUser(&store.User{
		Username:          username,
		Type:              ledger.Liability,
		PermissionGroupID: "default",
		FeeGroupID:        "default",
		Locale:            "en",
		Email:             username + "@example.com",
		TradePermitted:    true,
		WithdrawPermitted: true,
		DepositPermitted:  true,
		CreatedAt:         time.Now(),
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}
