package accountant

import (
	"context"
	"time"

	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/internal/margin"
)

// RequestWithdrawal implements spec.md 4.8.1: validates permission and
// margin, subtracts the configured fee, and posts the withdrawal once the
// remaining amount is still positive.
func (a *Accountant) RequestWithdrawal(ctx context.Context, username, contract string, amount int64) error {
	if a.trial {
		return ErrWithdrawNotPermitted
	}
	user, err := a.store.GetUser(username)
	if err != nil {
		return ErrNoSuchUser
	}
	if !user.WithdrawPermitted {
		return ErrWithdrawNotPermitted
	}

	c, ok := a.registry.Contract(contract)
	if !ok {
		return ErrInvalidContractType
	}
	if amount <= 0 || amount%c.LotSize != 0 {
		return ErrInvalidCurrencyQty
	}
	if a.isDisabled(username) {
		return ErrDisabledUser
	}

	result, err := a.computeMargin(username, nil, contract, amount)
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}
	if !margin.CheckMargin(result) {
		return ErrInsufficientMargin
	}

	net := amount - c.WithdrawFee
	if net <= 0 {
		return ErrWithdrawalTooSmall
	}

	now := time.Now()
	var postings []ledger.Posting
	postings = append(postings,
		ledger.MakePosting(ledger.PostingWithdrawal, "pendingwithdrawal", contract, net, ledger.Credit, "withdrawal", now),
		ledger.MakePosting(ledger.PostingWithdrawal, username, contract, amount, ledger.Debit, "withdrawal", now),
	)
	if c.WithdrawFee > 0 {
		feeGroup, _ := a.registry.FeeGroup(user.FeeGroupID)
		feePostings, _ := splitFee(username, contract, c.WithdrawFee, feeGroup, now)
		// splitFee's debit leg is already covered by the withdrawal debit
		// of amount (= net + fee) above; only the credit legs are new.
		for _, p := range feePostings {
			if p.Username == username {
				continue
			}
			postings = append(postings, p)
		}
	}

	uid := ledger.NewUID()
	ledger.StampEntry(postings, uid, len(postings))

	if err := a.submitPartitioned(ctx, postings); err != nil {
		return err
	}

	if a.notifier != nil {
		a.notifier.NotifyTransaction(ctx, username, contract, -amount)
	}
	return nil
}

// DepositCash implements spec.md 4.8.2: turns a wallet's running balance
// into an incremental deposit, splits it against the user's deposit
// limit, and posts the overflow to depositoverflow with a localized email.
func (a *Accountant) DepositCash(ctx context.Context, username, address, contract string, received int64, total bool, adminUsername string) error {
	user, err := a.store.GetUser(username)
	if err != nil {
		return ErrNoSuchUser
	}
	c, ok := a.registry.Contract(contract)
	if !ok {
		return ErrInvalidContractType
	}

	var deposit int64
	if total {
		acct, err := a.store.GetAddressAccounting(address, username, contract)
		if err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
		deposit = received - acct.AccountedFor
		if deposit <= 0 {
			return nil
		}
		if err := a.store.SetAccountedFor(address, received); err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
	} else {
		deposit = received
		if err := a.store.AddAccountedFor(address, username, contract, received); err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
	}

	source := "onlinecash"
	if adminUsername != "" {
		source = "offlinecash"
	}

	now := time.Now()

	var excess int64
	if !user.DepositPermitted {
		excess = deposit
	} else if c.DepositLimit != nil {
		pos, err := a.store.GetPosition(username, contract)
		if err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
		current := int64(0)
		if pos != nil {
			current = pos.Position
		}
		newPosition := current + deposit
		if over := newPosition - *c.DepositLimit; over > 0 {
			if over > deposit {
				over = deposit
			}
			excess = over
		}
	}
	var postings []ledger.Posting
	if deposit > 0 {
		postings = append(postings,
			ledger.MakePosting(ledger.PostingDeposit, source, contract, deposit, ledger.Debit, "deposit", now),
			ledger.MakePosting(ledger.PostingDeposit, username, contract, deposit, ledger.Credit, "deposit", now),
		)
	}
	if excess > 0 {
		postings = append(postings,
			ledger.MakePosting(ledger.PostingDeposit, username, contract, excess, ledger.Debit, "deposit limit excess", now),
			ledger.MakePosting(ledger.PostingDeposit, "depositoverflow", contract, excess, ledger.Credit, "deposit limit excess", now),
		)
	}
	if len(postings) == 0 {
		return nil
	}

	feeGroup, _ := a.registry.FeeGroup(user.FeeGroupID)
	if feeGroup.DepositFeeBps > 0 && deposit > 0 {
		fee := deposit * feeGroup.DepositFeeBps / 10000
		feePostings, _ := splitFee(username, contract, fee, feeGroup, now)
		postings = append(postings, feePostings...)
	}

	uid := ledger.NewUID()
	ledger.StampEntry(postings, uid, len(postings))

	if err := a.submitPartitioned(ctx, postings); err != nil {
		return err
	}

	if excess > 0 && a.mailer != nil {
		a.mailer.SendMail(ctx, user.Email, user.Locale, "deposit_limit_exceeded", map[string]interface{}{
			"contract": contract,
			"excess":   excess,
		})
	}

	if a.notifier != nil {
		a.notifier.NotifyTransaction(ctx, username, contract, deposit-excess)
	}
	return nil
}

