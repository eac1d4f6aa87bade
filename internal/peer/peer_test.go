package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/store"
	"github.com/klingon-exchange/accountant/pkg/logging"
)

type fakeOutbox struct {
	enqueued []*store.OutboxMessage
	failErr  error
}

func (f *fakeOutbox) EnqueueOutbox(msg *store.OutboxMessage) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.enqueued = append(f.enqueued, msg)
	return nil
}
func (f *fakeOutbox) PendingOutbox(now time.Time, limit int) ([]*store.OutboxMessage, error) {
	return f.enqueued, nil
}
func (f *fakeOutbox) MarkOutboxSent(messageID string) error                     { return nil }
func (f *fakeOutbox) ScheduleOutboxRetry(messageID string, next time.Time) error { return nil }
func (f *fakeOutbox) MarkOutboxFailed(messageID, reason string) error            { return nil }

func TestEnqueueStoresEncodedPosting(t *testing.T) {
	outbox := &fakeOutbox{}
	p := &AccountantPeer{outbox: outbox, numShards: 4, log: logging.GetDefault().Component("test")}

	posting := ledger.MakePosting(ledger.PostingTrade, "bob", "BTC", 42, ledger.Debit, "x", time.Now())
	require.NoError(t, p.enqueue("bob", 2, posting))

	require.Len(t, outbox.enqueued, 1)
	msg := outbox.enqueued[0]
	require.Equal(t, "bob", msg.ToUsername)
	require.Equal(t, 2, msg.ShardID)
	require.NotEmpty(t, msg.MessageID)

	decoded, err := decodePosting(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, posting.Quantity, decoded.Quantity)
	require.Equal(t, posting.Username, decoded.Username)
}

func TestEnqueueWithNoOutboxConfiguredFails(t *testing.T) {
	p := &AccountantPeer{numShards: 1, log: logging.GetDefault().Component("test")}
	err := p.enqueue("bob", 0, ledger.MakePosting(ledger.PostingTrade, "bob", "BTC", 1, ledger.Debit, "", time.Now()))
	require.Error(t, err)
}
