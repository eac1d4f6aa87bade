package accountant

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/ledgergateway"
)

// PostOrFail implements spec.md 4.4's six-step protocol for the postings
// this shard owns in one journal entry (postings belonging to remote
// users are the caller's responsibility to hand to RemotePost instead).
//
//  1. bump_pending(+1) for every posting, reserving it
//  2. submit the entry to the ledger and wait for its ack
//  3. bump_pending(-1) for every posting, unconditionally
//  4. on Ok: apply_delta for every posting, then notify
//  5. on LedgerError: alert, propagate, leave position untouched
//  6. on RpcError/RpcTimeout: alert, propagate, leave position untouched
//
// Step 3 runs before step 4/5/6 regardless of outcome, so a crash between
// the ledger ack and PostOrFail returning never leaves pending_postings
// permanently inflated.
func (a *Accountant) PostOrFail(ctx context.Context, postings []ledger.Posting) error {
	if len(postings) == 0 {
		return nil
	}

	for _, p := range postings {
		if err := a.store.BumpPending(p.Username, p.Contract, 1); err != nil {
			a.releasePending(postings[:indexOf(postings, p)])
			return fmt.Errorf("%w: %v", ErrStorageError, err)
		}
	}

	ack, err := a.ledger.Post(ctx, postings)
	a.releasePending(postings)

	if err != nil {
		a.alert(ctx, "ledger post transport failure", err.Error())
		return withMessage(ErrRPCError, err.Error())
	}

	switch ack.Outcome {
	case ledgergateway.Ok:
		a.applyAndNotify(ctx, postings)
		return nil

	case ledgergateway.LedgerError:
		a.alert(ctx, "ledger rejected journal entry", ack.Reason)
		return withMessage(ErrLedgerError, ack.Reason)

	case ledgergateway.RpcTimeout:
		a.alert(ctx, "ledger post timed out", ack.Reason)
		return withMessage(ErrRPCTimeout, ack.Reason)

	default:
		a.alert(ctx, "ledger post failed", ack.Reason)
		return withMessage(ErrRPCError, ack.Reason)
	}
}

func (a *Accountant) releasePending(postings []ledger.Posting) {
	for _, p := range postings {
		if err := a.store.BumpPending(p.Username, p.Contract, -1); err != nil {
			a.log.Error("failed to release pending posting", "username", p.Username, "contract", p.Contract, "error", err)
		}
	}
}

func (a *Accountant) applyAndNotify(ctx context.Context, postings []ledger.Posting) {
	for _, p := range postings {
		user, err := a.store.GetUser(p.Username)
		if err != nil {
			a.log.Error("cannot apply delta for unknown user", "username", p.Username, "error", err)
			continue
		}
		delta := p.Delta(user.Type)
		if err := a.store.ApplyDelta(p.Username, p.Contract, delta); err != nil {
			a.log.Error("failed to apply posting delta", "username", p.Username, "contract", p.Contract, "error", err)
			continue
		}
		if a.notifier != nil {
			a.notifier.NotifyTransaction(ctx, p.Username, p.Contract, delta)
		}
	}
}

func indexOf(postings []ledger.Posting, target ledger.Posting) int {
	for i, p := range postings {
		if p == target {
			return i
		}
	}
	return len(postings)
}
