package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/shard"
	"github.com/klingon-exchange/accountant/internal/store"
)

// SeenStore is the inbox half of outbox.go's dedup bookkeeping: has this
// message_id already been applied, and record that it now has.
type SeenStore interface {
	SeenInbox(messageID string) (bool, error)
	RecordInbox(messageID string) error
}

// OutboxStore is the retry bookkeeping RemotePost falls back to when a
// direct send fails: queue the posting, and let the retry worker drain it.
// It is satisfied directly by *store.Store; peer only borrows the message
// shape store.go already defines rather than inventing its own.
type OutboxStore interface {
	EnqueueOutbox(msg *store.OutboxMessage) error
	PendingOutbox(now time.Time, limit int) ([]*store.OutboxMessage, error)
	MarkOutboxSent(messageID string) error
	ScheduleOutboxRetry(messageID string, nextRetryAt time.Time) error
	MarkOutboxFailed(messageID, reason string) error
}

// AccountantPeer is the accountant.RemotePoster implementation backed by
// the libp2p transport: a best-effort, fire-and-forget remote_post with
// an outbox fallback for when the target shard is unreachable.
type AccountantPeer struct {
	node      *Node
	outbox    OutboxStore
	numShards int
	log       interface {
		Warn(msg interface{}, keyvals ...interface{})
		Error(msg interface{}, keyvals ...interface{})
	}
}

// New builds an AccountantPeer around an already-started Node and starts
// serving incoming remote_post streams against handler.
func New(node *Node, handler PostHandler, seen SeenStore, outbox OutboxStore, numShards int) *AccountantPeer {
	node.serve(handler, seen)
	return &AccountantPeer{
		node:      node,
		outbox:    outbox,
		numShards: numShards,
		log:       node.log,
	}
}

// RemotePost implements accountant.RemotePoster: fire the posting at the
// shard owning username. On any failure to deliver synchronously, the
// posting is queued to the outbox for the retry worker to drain, rather
// than being dropped — the ledger's uid/count reconciliation tolerates
// the posting arriving late, just not never.
func (p *AccountantPeer) RemotePost(ctx context.Context, username string, posting ledger.Posting) error {
	shardNum := shard.For(username, p.numShards)

	target, ok := p.node.PeerForShard(shardNum)
	if !ok {
		return p.enqueue(username, shardNum, posting)
	}

	msg := remotePostMessage{
		MessageID: uuid.NewString(),
		Username:  username,
		Posting:   posting,
	}

	timeout := p.node.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.node.sendRemotePost(sendCtx, target, msg); err != nil {
		p.log.Warn("remote_post direct send failed, queuing to outbox", "username", username, "shard", shardNum, "error", err)
		return p.enqueue(username, shardNum, posting)
	}
	return nil
}

func (p *AccountantPeer) enqueue(username string, shardNum int, posting ledger.Posting) error {
	if p.outbox == nil {
		return fmt.Errorf("peer: shard %d unreachable and no outbox configured", shardNum)
	}
	payload, err := encodePosting(posting)
	if err != nil {
		return fmt.Errorf("peer: encode posting for outbox: %w", err)
	}
	return p.outbox.EnqueueOutbox(&store.OutboxMessage{
		MessageID:   uuid.NewString(),
		UID:         posting.UID,
		ToUsername:  username,
		ShardID:     shardNum,
		Payload:     payload,
		NextRetryAt: time.Now(),
	})
}
