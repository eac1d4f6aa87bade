// Package accountant implements the per-shard bookkeeping and trade
// admission service: margin checks, the post-or-fail ledger protocol,
// order admission, trade posting, cash flow, clearing and liquidation.
package accountant

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/engineclient"
	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/ledgergateway"
	"github.com/klingon-exchange/accountant/internal/store"
	"github.com/klingon-exchange/accountant/pkg/logging"
)

// RemotePoster is the outbound half of the sharding contract: fire a
// best-effort posting at the shard that owns a remote username. The
// ledger reconciles the entry by uid/count regardless of which shard
// submitted which share of it.
type RemotePoster interface {
	RemotePost(ctx context.Context, username string, posting ledger.Posting) error
}

// Notifier pushes the user- and market-facing events spec.md 6's outbound
// calls table lists against the webserver: order state changes, fills,
// transaction confirmations and public trade prints.
type Notifier interface {
	NotifyOrderUpdate(ctx context.Context, o *store.Order)
	NotifyFill(ctx context.Context, username string, trade *store.Trade)
	NotifyTransaction(ctx context.Context, username, contract string, delta int64)
	NotifyTrade(ctx context.Context, contract string, price, quantity int64)
}

// Alerter raises an operational alert for ledger/RPC failures that must
// never pass silently, per spec.md 7.
type Alerter interface {
	Alert(ctx context.Context, subject, detail string)
}

// ClearingBroadcaster announces a contract's clearing-state transition to
// the rest of the cluster. Sharding is by username, not by contract, so
// every shard may hold resting orders against the ticker being cleared;
// without this, only the shard that initiated clearing would stop
// admitting orders for it.
type ClearingBroadcaster interface {
	Publish(ctx context.Context, ticker string, clearing bool) error
}

// Mailer sends the localized notification emails spec.md's supplemented
// feature set calls for (deposit overflow, fills).
type Mailer interface {
	SendMail(ctx context.Context, to, locale, template string, data map[string]interface{}) error
}

// Config wires an Accountant's collaborators together.
type Config struct {
	Store     *store.Store
	Registry  *config.Registry
	Ledger    *ledgergateway.Gateway
	Engines   *engineclient.Registry
	Peer      RemotePoster
	Notifier  Notifier
	Alerter   Alerter
	Mailer    Mailer
	ShardNum  int
	NumShards int
	Debug     bool
	Trial     bool
}

// Accountant is one shard's bookkeeping service.
type Accountant struct {
	store     *store.Store
	registry  *config.Registry
	ledger    *ledgergateway.Gateway
	engines   *engineclient.Registry
	peer      RemotePoster
	notifier  Notifier
	alerter   Alerter
	mailer    Mailer
	shardNum  int
	numShards int
	debug     bool
	trial     bool

	mu             sync.Mutex
	disabledUsers  map[string]bool
	clearingMarket map[string]bool
	safePrices     *safePriceCache
	clearingFeed   ClearingBroadcaster

	cron *cron.Cron
	log  *logging.Logger
}

// New builds an Accountant from its wired collaborators. Every in-process
// set (disabled users, clearing contracts) starts empty, matching spec.md
// 9's statement that these sets don't survive a restart and must be
// reconstructed by the caller (repair.go's startup sweep).
func New(cfg Config) *Accountant {
	a := &Accountant{
		store:          cfg.Store,
		registry:       cfg.Registry,
		ledger:         cfg.Ledger,
		engines:        cfg.Engines,
		peer:           cfg.Peer,
		notifier:       cfg.Notifier,
		alerter:        cfg.Alerter,
		mailer:         cfg.Mailer,
		shardNum:       cfg.ShardNum,
		numShards:      cfg.NumShards,
		debug:          cfg.Debug,
		trial:          cfg.Trial,
		disabledUsers:  make(map[string]bool),
		clearingMarket: make(map[string]bool),
		safePrices:     newSafePriceCache(),
		cron:           cron.New(cron.WithSeconds()),
		log:            logging.GetDefault().Component("accountant"),
	}
	return a
}

// SetPeer wires the peer transport in after construction, for the
// bootstrap order where the transport's PostHandler is the Accountant
// itself: the transport can't be built until the Accountant exists, and
// the Accountant's RemotePoster can't be set until the transport does.
func (a *Accountant) SetPeer(p RemotePoster) {
	a.peer = p
}

// SetClearingFeed wires the cross-shard clearing-state announcer in after
// construction, for the same bootstrap ordering reason as SetPeer.
func (a *Accountant) SetClearingFeed(f ClearingBroadcaster) {
	a.clearingFeed = f
}

// ReceiveClearingState applies a clearing-state transition announced by
// another shard, so this shard's own order admission reflects it even
// though it never initiated the clear itself.
func (a *Accountant) ReceiveClearingState(ticker string, clearing bool) {
	a.setClearing(ticker, clearing)
}

// StartScheduler starts the cron scheduler backing the periodic safety-net
// repair sweep: spec.md 4.9's startup repair only runs once at boot, but a
// shard that crashes mid post_or_fail between sweeps would otherwise leave
// a stuck position disabled indefinitely until the next restart.
func (a *Accountant) StartScheduler() {
	a.cron.AddFunc("@every 5m", func() {
		if err := a.RepairAllUserPositions(context.Background()); err != nil {
			a.log.Error("scheduled repair sweep failed", "error", err)
		}
	})
	a.cron.Start()
}

// StopScheduler stops the cron scheduler.
func (a *Accountant) StopScheduler(ctx context.Context) {
	<-a.cron.Stop().Done()
}

func (a *Accountant) isDisabled(username string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disabledUsers[username]
}

func (a *Accountant) disableUser(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disabledUsers[username] = true
}

func (a *Accountant) enableUser(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.disabledUsers, username)
}

func (a *Accountant) isClearing(ticker string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clearingMarket[ticker]
}

func (a *Accountant) setClearing(ticker string, clearing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if clearing {
		a.clearingMarket[ticker] = true
	} else {
		delete(a.clearingMarket, ticker)
	}
}

func (a *Accountant) broadcastClearing(ctx context.Context, ticker string, clearing bool) {
	if a.clearingFeed == nil {
		return
	}
	if err := a.clearingFeed.Publish(ctx, ticker, clearing); err != nil {
		a.log.Warn("clearing feed publish failed", "ticker", ticker, "error", err)
	}
}

func (a *Accountant) alert(ctx context.Context, subject, detail string) {
	a.log.Error(subject, "detail", detail)
	if a.alerter != nil {
		a.alerter.Alert(ctx, subject, detail)
	}
}
