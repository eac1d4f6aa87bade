package accountant

import (
	"context"
	"fmt"
	"time"

	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/margin"
	"github.com/klingon-exchange/accountant/internal/shard"
	"github.com/klingon-exchange/accountant/internal/store"
	"github.com/klingon-exchange/accountant/pkg/helpers"
)

// Fill is one user's side of a matched trade, as reported by the engine
// that owns the contract's book.
type Fill struct {
	Username     string
	Aggressive   bool
	Contract     string
	OrderID      int64
	OtherOrderID int64
	Side         margin.Side
	Price        int64
	Quantity     int64
	Timestamp    time.Time
	UID          string
}

// PostTransaction turns one fill into a balanced journal entry (the
// user's denominated and payout legs, the fee split, and for futures the
// clearing account leg), posts the postings this shard owns, and hands
// the rest to the peer that owns them.
func (a *Accountant) PostTransaction(ctx context.Context, fill Fill) error {
	contract, ok := a.registry.Contract(fill.Contract)
	if !ok {
		return ErrInvalidContractType
	}
	if a.isClearing(fill.Contract) {
		return ErrContractClearing
	}
	if !contract.Active {
		return ErrContractNotActive
	}

	user, err := a.store.GetUser(fill.Username)
	if err != nil {
		return ErrNoSuchUser
	}

	denominatedDir, payoutDir := directionsFor(fill.Side)

	var cashSpent int64
	switch contract.ContractType {
	case config.ContractFutures:
		pos, err := a.store.GetOrCreatePosition(fill.Username, fill.Contract, &fill.Price)
		if err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
		ref := fill.Price
		if pos.ReferencePrice != nil {
			ref = *pos.ReferencePrice
		}
		cashSpent = margin.CashSpent(fill.Price-ref, fill.Quantity)
		if err := a.store.SetReferencePrice(fill.Username, fill.Contract, fill.Price); err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
	default:
		cashSpent = margin.CashSpent(fill.Price, fill.Quantity)
	}
	if cashSpent < 0 {
		cashSpent = -cashSpent
		denominatedDir, payoutDir = flip(denominatedDir), flip(payoutDir)
	}

	denominatedTicker := contract.DenominatedContractTicker
	if denominatedTicker == "" {
		denominatedTicker = fill.Contract
	}
	payoutTicker := contract.PayoutContractTicker
	if payoutTicker == "" {
		payoutTicker = fill.Contract
	}

	uid := fill.UID
	if uid == "" {
		uid = ledger.NewUID()
	}

	var postings []ledger.Posting
	postings = append(postings,
		ledger.MakePosting(ledger.PostingTrade, fill.Username, denominatedTicker, cashSpent, denominatedDir, fmt.Sprintf("trade %s", fill.Contract), fill.Timestamp),
		ledger.MakePosting(ledger.PostingTrade, fill.Username, payoutTicker, fill.Quantity, payoutDir, fmt.Sprintf("trade %s", fill.Contract), fill.Timestamp),
	)

	feeGroup, _ := a.registry.FeeGroup(user.FeeGroupID)
	feePostings, _ := a.feePostings(fill.Username, denominatedTicker, cashSpent, feeGroup, fill.Timestamp)
	postings = append(postings, feePostings...)

	if contract.ContractType == config.ContractFutures {
		clearingAccount := "clearing_" + fill.Contract
		postings = append(postings, ledger.MakePosting(
			ledger.PostingClearing, clearingAccount, denominatedTicker, cashSpent, flip(denominatedDir),
			fmt.Sprintf("futures clearing %s", fill.Contract), fill.Timestamp,
		))
	}

	ledger.StampEntry(postings, uid, len(postings))

	if err := a.submitPartitioned(ctx, postings); err != nil {
		return err
	}

	if fill.Aggressive {
		trade := &store.Trade{
			AggressiveOrderID: fill.OrderID,
			PassiveOrderID:    fill.OtherOrderID,
			Price:             fill.Price,
			Quantity:          fill.Quantity,
			Timestamp:         fill.Timestamp,
		}
		if err := a.store.CreateTrade(trade); err != nil {
			a.log.Error("failed to record trade", "order_id", fill.OrderID, "error", err)
		} else if err := a.store.ReduceQuantityLeft(fill.OrderID, fill.Quantity); err != nil {
			a.log.Error("failed to reduce quantity_left", "order_id", fill.OrderID, "error", err)
		} else if err := a.store.MarkTradePosted(fill.OrderID, fill.OtherOrderID); err != nil {
			a.log.Error("failed to mark trade posted", "order_id", fill.OrderID, "error", err)
		}

		if a.notifier != nil {
			a.notifier.NotifyFill(ctx, fill.Username, trade)
			a.notifier.NotifyTrade(ctx, fill.Contract, fill.Price, fill.Quantity)
		}
		if a.mailer != nil {
			a.mailer.SendMail(ctx, user.Email, user.Locale, "fill_notification", map[string]interface{}{
				"contract": fill.Contract,
				"side":     string(fill.Side),
				"quantity": helpers.FormatAmount(fill.Quantity, contract.Decimals),
				"price":    helpers.FormatAmount(fill.Price, contract.Decimals),
			})
		}
	}

	return nil
}

// submitPartitioned routes each posting of an already-stamped journal entry
// to the shard that owns its username (callers stamp uid/count first): local postings go through
// PostOrFail, remote postings are handed to the peer transport on a
// best-effort basis per spec.md 4.10.
func (a *Accountant) submitPartitioned(ctx context.Context, postings []ledger.Posting) error {
	var local []ledger.Posting
	for _, p := range postings {
		if shard.IsLocal(p.Username, a.shardNum, a.numShards) {
			local = append(local, p)
			continue
		}
		if a.peer != nil {
			if err := a.peer.RemotePost(ctx, p.Username, p); err != nil {
				a.log.Error("remote_post failed", "username", p.Username, "contract", p.Contract, "error", err)
			}
		}
	}
	return a.PostOrFail(ctx, local)
}

// feePostings computes a trade fee from the fee group's basis points and
// splits it via splitFee.
func (a *Accountant) feePostings(username, contract string, cashSpent int64, group config.FeeGroup, ts time.Time) ([]ledger.Posting, int64) {
	if group.TradeFeeBps == 0 {
		return nil, 0
	}
	fee := cashSpent * group.TradeFeeBps / 10000
	if fee <= 0 {
		return nil, 0
	}
	return splitFee(username, contract, fee, group, ts)
}

// splitFee debits the user a precomputed fee and credits each vendor its
// floor(fee*share), crediting the leftover to the remainder account so the
// entry still balances when shares don't divide the fee evenly.
func splitFee(username, contract string, fee int64, group config.FeeGroup, ts time.Time) ([]ledger.Posting, int64) {
	if fee <= 0 {
		return nil, 0
	}

	var postings []ledger.Posting
	postings = append(postings, ledger.MakePosting(ledger.PostingTrade, username, contract, fee, ledger.Debit, "fee", ts))

	var distributed int64
	for vendor, share := range group.VendorShares {
		cut := int64(float64(fee) * share)
		if cut <= 0 {
			continue
		}
		postings = append(postings, ledger.MakePosting(ledger.PostingTrade, vendor, contract, cut, ledger.Credit, "fee share", ts))
		distributed += cut
	}

	remainder := fee - distributed
	if remainder > 0 {
		postings = append(postings, ledger.MakePosting(ledger.PostingTrade, "feeremainder", contract, remainder, ledger.Credit, "fee remainder", ts))
	}

	return postings, fee
}

func directionsFor(side margin.Side) (denominated, payout ledger.Direction) {
	if side == margin.Buy {
		return ledger.Debit, ledger.Credit
	}
	return ledger.Credit, ledger.Debit
}

func flip(d ledger.Direction) ledger.Direction {
	if d == ledger.Credit {
		return ledger.Debit
	}
	return ledger.Credit
}
