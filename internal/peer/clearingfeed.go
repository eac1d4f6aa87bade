package peer

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/klingon-exchange/accountant/pkg/logging"
)

// clearingTopic is the gossipsub topic a shard announces its local
// clearing-state transitions on: sharding is by username, so any shard may
// hold resting orders against a ticker another shard just started clearing.
const clearingTopic = "/accountant/clearing/1.0.0"

type clearingTransition struct {
	Ticker   string `json:"ticker"`
	Clearing bool   `json:"clearing"`
}

// ClearingFeed relays contract clearing-state transitions across the
// cluster over gossipsub.
type ClearingFeed struct {
	node  *Node
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClearingFeed joins the clearing topic on an already-started node.
func NewClearingFeed(n *Node) (*ClearingFeed, error) {
	if n.pubsub == nil {
		return nil, fmt.Errorf("peer: pubsub not enabled on this node")
	}
	topic, err := n.pubsub.Join(clearingTopic)
	if err != nil {
		return nil, fmt.Errorf("peer: join clearing topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, fmt.Errorf("peer: subscribe clearing topic: %w", err)
	}

	ctx, cancel := context.WithCancel(n.ctx)
	return &ClearingFeed{
		node:   n,
		topic:  topic,
		sub:    sub,
		log:    n.log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start relays every clearing-state transition this node did not itself
// publish to onTransition. It runs until the feed is stopped.
func (f *ClearingFeed) Start(onTransition func(ticker string, clearing bool)) {
	go f.loop(onTransition)
}

func (f *ClearingFeed) loop(onTransition func(ticker string, clearing bool)) {
	for {
		msg, err := f.sub.Next(f.ctx)
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			f.log.Warn("clearing feed receive failed", "error", err)
			continue
		}
		if msg.ReceivedFrom == f.node.ID() {
			continue
		}
		var ct clearingTransition
		if err := json.Unmarshal(msg.Data, &ct); err != nil {
			f.log.Warn("clearing feed: malformed transition", "error", err)
			continue
		}
		onTransition(ct.Ticker, ct.Clearing)
	}
}

// Publish announces a clearing-state transition this shard just made.
func (f *ClearingFeed) Publish(ctx context.Context, ticker string, clearing bool) error {
	data, err := json.Marshal(clearingTransition{Ticker: ticker, Clearing: clearing})
	if err != nil {
		return fmt.Errorf("peer: marshal clearing transition: %w", err)
	}
	return f.topic.Publish(ctx, data)
}

// Stop leaves the clearing topic.
func (f *ClearingFeed) Stop() {
	f.cancel()
	f.sub.Cancel()
	f.topic.Close()
}
