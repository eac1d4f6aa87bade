package accountant

import (
	"context"
	"time"

	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/store"
)

// quiescencePoll is the interval spec.md 4.9 fixes at 300 seconds for
// waiting on a contract's pending_postings to reach zero before clearing
// can safely recompute positions.
const quiescencePoll = 300 * time.Second

// ClearContract runs a contract through the live -> clearing -> live state
// machine: cancel resting orders, wait for quiescence, clear every local
// user's position, then reopen the market. The ticker leaves the clearing
// state on every return, including zero_out runs and error returns.
func (a *Accountant) ClearContract(ctx context.Context, ticker string, price *int64, zeroOut bool) error {
	contract, ok := a.registry.Contract(ticker)
	if !ok {
		return ErrInvalidContractType
	}
	if zeroOut && !contract.Expired(nowUnix()) {
		return ErrContractNotExpired
	}
	if !zeroOut && contract.Expired(nowUnix()) {
		return ErrContractExpired
	}
	if contract.ContractType != config.ContractPrediction && contract.ContractType != config.ContractFutures {
		return ErrNonClearingContract
	}

	a.setClearing(ticker, true)
	a.broadcastClearing(ctx, ticker, true)
	defer func() {
		a.setClearing(ticker, false)
		a.broadcastClearing(ctx, ticker, false)
	}()

	if err := a.cancelAllOrders(ctx, ticker); err != nil {
		return err
	}
	if err := a.waitForQuiescence(ctx, ticker); err != nil {
		return err
	}

	users, err := a.store.ListUsers()
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}

	uid := ledger.NewUID()
	positionCount := 0
	type held struct {
		username string
		position *store.Position
	}
	var holders []held
	for _, u := range users {
		pos, err := a.store.GetPosition(u.Username, ticker)
		if err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
		if pos == nil || pos.Position == 0 {
			continue
		}
		holders = append(holders, held{username: u.Username, position: pos})
		positionCount++
	}

	for _, h := range holders {
		if err := a.clearPosition(ctx, contract, h.position, price, positionCount, uid, zeroOut); err != nil {
			a.log.Error("clear_position failed", "username", h.username, "contract", ticker, "error", err)
		}
	}

	return nil
}

func (a *Accountant) cancelAllOrders(ctx context.Context, ticker string) error {
	orders, err := a.store.OpenOrdersForContract(ticker)
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	for _, o := range orders {
		if err := a.CancelOrder(ctx, o.ID, o.Username); err != nil {
			a.log.Warn("failed to cancel order during clearing", "order_id", o.ID, "error", err)
		}
	}
	return nil
}

// waitForQuiescence polls every 300 seconds until a contract's resting
// users all show pending_postings == 0. Unbounded, per spec.md 5: the
// only time-based retry in the system and it never gives up.
func (a *Accountant) waitForQuiescence(ctx context.Context, ticker string) error {
	for {
		quiet, err := a.contractIsQuiescent(ticker)
		if err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
		if quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(quiescencePoll):
		}
	}
}

func (a *Accountant) contractIsQuiescent(ticker string) (bool, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return false, err
	}
	for _, u := range users {
		pos, err := a.store.GetPosition(u.Username, ticker)
		if err != nil {
			return false, err
		}
		if pos != nil && pos.PendingPostings != 0 {
			return false, nil
		}
	}
	return true, nil
}

// clearPosition settles one user's position against either the final
// expiry payout (zero_out=true) or a mark-to-market safe price
// (zero_out=false), per spec.md 4.9's prediction/futures branches.
func (a *Accountant) clearPosition(ctx context.Context, contract config.Contract, pos *store.Position, safePrice *int64, positionCount int, outerUID string, zeroOut bool) error {
	now := time.Now()
	denominated := contract.DenominatedContractTicker
	if denominated == "" {
		denominated = contract.Ticker
	}

	switch contract.ContractType {
	case config.ContractPrediction:
		return a.clearPredictionPosition(ctx, contract, pos, safePrice, denominated, now, positionCount, outerUID, zeroOut)
	case config.ContractFutures:
		return a.clearFuturesPosition(ctx, contract, pos, safePrice, denominated, now, positionCount, outerUID, zeroOut)
	default:
		return ErrNonClearingContract
	}
}

func (a *Accountant) clearPredictionPosition(ctx context.Context, contract config.Contract, pos *store.Position, price *int64, denominated string, now time.Time, positionCount int, outerUID string, zeroOut bool) error {
	qty := pos.Position
	if qty == 0 {
		return nil
	}
	if !zeroOut {
		// Prediction contracts have no running mark price to settle
		// variation against between now and expiry; only the zero_out
		// expiry run pays out and flattens the position.
		return nil
	}
	if price == nil {
		a.log.Warn("prediction clearing skipped: no clearing price given", "contract", contract.Ticker, "username", pos.Username)
		return nil
	}

	payout := qty * *price
	dir := ledger.Credit
	if payout < 0 {
		payout = -payout
		dir = ledger.Debit
	}

	zeroQty := qty
	if zeroQty < 0 {
		zeroQty = -zeroQty
	}

	postings := []ledger.Posting{
		ledger.MakePosting(ledger.PostingClearing, pos.Username, denominated, payout, dir, "prediction clearing", now),
		ledger.MakePosting(ledger.PostingClearing, pos.Username, contract.Ticker, zeroQty, flip(dir), "prediction zero-out", now),
	}
	ledger.StampEntry(postings, outerUID, positionCount*len(postings))

	return a.submitPartitioned(ctx, postings)
}

// clearFuturesPosition settles variation margin against safePrice (and, at
// expiry, also zeroes the position). The variation/clearing-account pair is
// stamped with an inner uid/count of its own; the expiry zero-out posting
// is stamped with the outer uid the caller shares across every user's part
// of this clearing run.
func (a *Accountant) clearFuturesPosition(ctx context.Context, contract config.Contract, pos *store.Position, safePrice *int64, denominated string, now time.Time, positionCount int, outerUID string, zeroOut bool) error {
	qty := pos.Position
	if qty == 0 {
		return nil
	}

	reference := int64(0)
	if pos.ReferencePrice != nil {
		reference = *pos.ReferencePrice
	}

	mark := reference
	if safePrice != nil {
		mark = *safePrice
	}

	variation := (mark - reference) * qty
	dir := ledger.Credit
	if variation < 0 {
		variation = -variation
		dir = ledger.Debit
	}

	innerUID := ledger.NewUID()
	var innerPostings []ledger.Posting
	if variation != 0 {
		innerPostings = append(innerPostings, ledger.MakePosting(ledger.PostingClearing, pos.Username, denominated, variation, dir, "futures variation margin", now))
		clearingAccount := "clearing_" + contract.Ticker
		innerPostings = append(innerPostings, ledger.MakePosting(ledger.PostingClearing, clearingAccount, denominated, variation, flip(dir), "futures clearing", now))
	}
	if safePrice != nil {
		if err := a.store.SetReferencePrice(pos.Username, contract.Ticker, *safePrice); err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
	}
	if len(innerPostings) > 0 {
		ledger.StampEntry(innerPostings, innerUID, len(innerPostings))
		if err := a.submitPartitioned(ctx, innerPostings); err != nil {
			return err
		}
	}

	if !zeroOut {
		return nil
	}

	zeroQty := qty
	zeroDir := ledger.Debit
	if zeroQty < 0 {
		zeroQty = -zeroQty
		zeroDir = ledger.Credit
	}
	outer := []ledger.Posting{
		ledger.MakePosting(ledger.PostingClearing, pos.Username, contract.Ticker, zeroQty, zeroDir, "futures expiry zero-out", now),
	}
	ledger.StampEntry(outer, outerUID, positionCount*len(outer))
	return a.submitPartitioned(ctx, outer)
}
