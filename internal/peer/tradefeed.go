package peer

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/klingon-exchange/accountant/pkg/logging"
)

// tradeTopic is the gossipsub topic every shard joins to disseminate public
// trade prints network-wide: a trade executed on shard N must be visible on
// every other shard's public tape, not just to that shard's own websocket
// clients.
const tradeTopic = "/accountant/trades/1.0.0"

type tradePrint struct {
	Contract string `json:"contract"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// TradeFeed publishes and relays public trade prints over the node's
// gossipsub router. It is the network-wide counterpart to a single shard's
// local websocket broadcast.
type TradeFeed struct {
	node  *Node
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTradeFeed joins the trade print topic on an already-started node.
// Returns an error if the node wasn't built with pubsub enabled.
func NewTradeFeed(n *Node) (*TradeFeed, error) {
	if n.pubsub == nil {
		return nil, fmt.Errorf("peer: pubsub not enabled on this node")
	}
	topic, err := n.pubsub.Join(tradeTopic)
	if err != nil {
		return nil, fmt.Errorf("peer: join trade topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, fmt.Errorf("peer: subscribe trade topic: %w", err)
	}

	ctx, cancel := context.WithCancel(n.ctx)
	return &TradeFeed{
		node:   n,
		topic:  topic,
		sub:    sub,
		log:    n.log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start relays every trade print this node did not itself publish to
// onTrade. It runs until the feed is stopped.
func (f *TradeFeed) Start(onTrade func(contract string, price, quantity int64)) {
	go f.loop(onTrade)
}

func (f *TradeFeed) loop(onTrade func(contract string, price, quantity int64)) {
	for {
		msg, err := f.sub.Next(f.ctx)
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			f.log.Warn("trade feed receive failed", "error", err)
			continue
		}
		if msg.ReceivedFrom == f.node.ID() {
			continue
		}
		var tp tradePrint
		if err := json.Unmarshal(msg.Data, &tp); err != nil {
			f.log.Warn("trade feed: malformed print", "error", err)
			continue
		}
		onTrade(tp.Contract, tp.Price, tp.Quantity)
	}
}

// Publish announces a trade print this shard just recorded to the network.
func (f *TradeFeed) Publish(ctx context.Context, contract string, price, quantity int64) error {
	data, err := json.Marshal(tradePrint{Contract: contract, Price: price, Quantity: quantity})
	if err != nil {
		return fmt.Errorf("peer: marshal trade print: %w", err)
	}
	return f.topic.Publish(ctx, data)
}

// Stop leaves the trade topic.
func (f *TradeFeed) Stop() {
	f.cancel()
	f.sub.Cancel()
	f.topic.Close()
}
