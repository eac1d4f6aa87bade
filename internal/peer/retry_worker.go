package peer

import (
	"context"
	"time"

	"github.com/klingon-exchange/accountant/internal/store"
	"github.com/klingon-exchange/accountant/pkg/logging"
)

// RetryWorkerConfig configures the outbox drain loop.
type RetryWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// DefaultRetryWorkerConfig mirrors the backoff shape of a swap-messaging
// retry loop, minus anything tied to a swap's expiry.
func DefaultRetryWorkerConfig() RetryWorkerConfig {
	return RetryWorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		MaxRetries:   20,
	}
}

// RetryWorker drains AccountantPeer's outbox: for every message still
// pending, it re-resolves the owning shard's peer ID and retries the
// direct send, falling back to a backed-off retry when the shard is still
// unreachable.
type RetryWorker struct {
	peer   *AccountantPeer
	cfg    RetryWorkerConfig
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRetryWorker builds a retry worker around an already-constructed peer.
func NewRetryWorker(p *AccountantPeer, cfg RetryWorkerConfig) *RetryWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &RetryWorker{
		peer:   p,
		cfg:    cfg,
		log:    logging.GetDefault().Component("peer-retry"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the drain loop in the background.
func (w *RetryWorker) Start() {
	go w.run()
}

// Stop ends the drain loop.
func (w *RetryWorker) Stop() {
	w.cancel()
}

func (w *RetryWorker) run() {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.drain()
		}
	}
}

func (w *RetryWorker) drain() {
	if w.peer.outbox == nil {
		return
	}
	messages, err := w.peer.outbox.PendingOutbox(time.Now(), w.cfg.BatchSize)
	if err != nil {
		w.log.Warn("failed to list pending outbox messages", "error", err)
		return
	}
	for _, msg := range messages {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		w.retry(msg)
	}
}

func (w *RetryWorker) retry(msg *store.OutboxMessage) {
	target, ok := w.peer.node.PeerForShard(msg.ShardID)
	if !ok {
		w.reschedule(msg)
		return
	}

	posting, err := decodePosting(msg.Payload)
	if err != nil {
		w.log.Warn("dropping undecodable outbox message", "message_id", msg.MessageID, "error", err)
		if err := w.peer.outbox.MarkOutboxFailed(msg.MessageID, "undecodable payload: "+err.Error()); err != nil {
			w.log.Warn("failed to mark message failed", "error", err)
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(w.ctx, 10*time.Second)
	defer cancel()

	wireMsg := remotePostMessage{
		MessageID: msg.MessageID,
		Username:  msg.ToUsername,
		Posting:   posting,
	}
	if err := w.peer.node.sendRemotePost(sendCtx, target, wireMsg); err != nil {
		w.log.Debug("retry send failed", "message_id", msg.MessageID, "shard", msg.ShardID, "error", err)
		w.reschedule(msg)
		return
	}

	if err := w.peer.outbox.MarkOutboxSent(msg.MessageID); err != nil {
		w.log.Warn("failed to mark message sent", "error", err)
	}
}

func (w *RetryWorker) reschedule(msg *store.OutboxMessage) {
	if w.cfg.MaxRetries > 0 && msg.RetryCount >= w.cfg.MaxRetries {
		if err := w.peer.outbox.MarkOutboxFailed(msg.MessageID, "shard unreachable after max retries"); err != nil {
			w.log.Warn("failed to mark message failed", "error", err)
		}
		return
	}
	next := calculateNextRetry(msg.RetryCount)
	if err := w.peer.outbox.ScheduleOutboxRetry(msg.MessageID, next); err != nil {
		w.log.Warn("failed to schedule retry", "error", err)
	}
}

// calculateNextRetry is the same 10s-to-10m exponential backoff a
// swap-messaging retry loop uses, with no swap-expiry cutoff to respect.
func calculateNextRetry(retryCount int) time.Time {
	const (
		base       = 10 * time.Second
		max        = 10 * time.Minute
		multiplier = 2.0
	)
	backoff := base
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if backoff > max {
			backoff = max
			break
		}
	}
	return time.Now().Add(backoff)
}
