package accountant

import (
	"context"
	"time"

	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/store"
)

// AdjustPosition directly credits or debits a position without going
// through the ledger. Debug only: spec.md 6 lists adjust_position as an
// Administrator surface reserved for non-production use.
func (a *Accountant) AdjustPosition(ctx context.Context, username, contract string, delta int64) error {
	if !a.debug {
		return ErrAdminDebugOnly
	}
	if _, err := a.store.GetOrCreatePosition(username, contract, nil); err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	if err := a.store.ApplyDelta(username, contract, delta); err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	if a.notifier != nil {
		a.notifier.NotifyTransaction(ctx, username, contract, delta)
	}
	return nil
}

// TransferPosition moves quantity of contract from one user to another via
// a normal ledger-posted journal entry, so the transfer is subject to the
// same post-or-fail guarantees as a trade.
func (a *Accountant) TransferPosition(ctx context.Context, from, to, contract string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidCurrencyQty
	}
	if _, ok := a.registry.Contract(contract); !ok {
		return ErrInvalidContractType
	}
	if _, err := a.store.GetUser(from); err != nil {
		return ErrNoSuchUser
	}
	if _, err := a.store.GetUser(to); err != nil {
		return ErrNoSuchUser
	}

	now := time.Now()
	postings := []ledger.Posting{
		ledger.MakePosting(ledger.PostingTransfer, from, contract, quantity, ledger.Debit, "transfer", now),
		ledger.MakePosting(ledger.PostingTransfer, to, contract, quantity, ledger.Credit, "transfer", now),
	}
	uid := ledger.NewUID()
	ledger.StampEntry(postings, uid, len(postings))

	return a.submitPartitioned(ctx, postings)
}

// ChangePermissionGroup reassigns a user's permission group and syncs the
// cached trade/withdraw/deposit flags to the new group's defaults.
func (a *Accountant) ChangePermissionGroup(ctx context.Context, username, groupID string) error {
	group, ok := a.registry.PermissionGroup(groupID)
	if !ok {
		return ErrInvalidContractType
	}
	if _, err := a.store.GetUser(username); err != nil {
		return ErrNoSuchUser
	}
	if err := a.store.UpdatePermissionGroup(username, groupID); err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	if err := a.store.SetPermissions(username, group.Trade, group.Withdraw, group.Deposit); err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	return nil
}

// ChangeFeeGroup reassigns a user's fee group.
func (a *Accountant) ChangeFeeGroup(ctx context.Context, username, groupID string) error {
	if _, ok := a.registry.FeeGroup(groupID); !ok {
		return ErrInvalidContractType
	}
	if _, err := a.store.GetUser(username); err != nil {
		return ErrNoSuchUser
	}
	if err := a.store.UpdateFeeGroup(username, groupID); err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	return nil
}

// ReloadFeeGroup invalidates one cached fee group entry, re-reading it from
// the backing config on next lookup.
func (a *Accountant) ReloadFeeGroup(id string) error {
	return a.registry.ReloadFeeGroup(id)
}

// ReloadContract invalidates one cached contract entry.
func (a *Accountant) ReloadContract(ticker string) error {
	return a.registry.ReloadContract(ticker)
}

// GetMargin exposes the margin engine's current figures for a user, the
// Webserver/Administrator get_margin call.
func (a *Accountant) GetMargin(username string) (interface{}, error) {
	result, err := a.computeMargin(username, nil, "", 0)
	if err != nil {
		return nil, withMessage(ErrStorageError, err.Error())
	}
	return result, nil
}

// GetPosition exposes one user's raw position row, the Cashier surface's
// get_position call.
func (a *Accountant) GetPosition(username, contract string) (*store.Position, error) {
	pos, err := a.store.GetPosition(username, contract)
	if err != nil {
		return nil, withMessage(ErrStorageError, err.Error())
	}
	return pos, nil
}
