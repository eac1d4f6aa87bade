package accountant

import (
	"context"

	"github.com/klingon-exchange/accountant/internal/ledger"
)

// ReceiveRemotePost implements peer.PostHandler: apply a posting that
// another shard originated on behalf of a user this shard owns. The uid
// and count were already stamped by the originating shard, so this is
// just another PostOrFail call — the ledger's own uid/count matching
// reconciles the cross-shard entry without any special-casing here.
func (a *Accountant) ReceiveRemotePost(ctx context.Context, username string, posting ledger.Posting) error {
	return a.PostOrFail(ctx, []ledger.Posting{posting})
}
