// Package ledger constructs the journal-entry postings the accountant ships
// to the downstream double-entry ledger.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// PostingType classifies why a posting was created.
type PostingType string

const (
	PostingTrade      PostingType = "Trade"
	PostingTransfer   PostingType = "Transfer"
	PostingWithdrawal PostingType = "Withdrawal"
	PostingDeposit    PostingType = "Deposit"
	PostingClearing   PostingType = "Clearing"
)

// Direction is the credit/debit side of a posting.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// UserType controls the sign convention applied to position deltas.
type UserType string

const (
	Asset     UserType = "Asset"
	Liability UserType = "Liability"
)

// Posting is one line of a journal entry: a credit or debit of a
// non-negative integer quantity on one (username, contract) pair.
// Postings belonging to the same journal entry share a UID and a Count.
type Posting struct {
	Type      PostingType
	Username  string
	Contract  string
	Quantity  int64
	Direction Direction
	Note      string
	Timestamp time.Time
	UID       string
	Count     int
}

// MakePosting constructs a single posting. Quantity must be non-negative;
// the sign of the eventual position delta is carried by Direction, not by
// the sign of Quantity. UID/Count are stamped afterward with StampEntry
// once the full journal entry is known.
func MakePosting(typ PostingType, username, contract string, quantity int64, direction Direction, note string, timestamp time.Time) Posting {
	return Posting{
		Type:      typ,
		Username:  username,
		Contract:  contract,
		Quantity:  quantity,
		Direction: direction,
		Note:      note,
		Timestamp: timestamp,
	}
}

// NewUID generates a fresh journal-entry identifier.
func NewUID() string {
	return uuid.NewString()
}

// StampEntry stamps every posting in a journal entry with the same uid and
// the entry's total member count. count must equal len(postings) measured
// across every shard that will submit a share of this entry; when this
// shard only owns part of the entry, pass the full cross-shard count.
func StampEntry(postings []Posting, uid string, count int) {
	for i := range postings {
		postings[i].UID = uid
		postings[i].Count = count
	}
}

// Sign returns the signed multiplier applied to Quantity when a posting is
// successfully applied to a position: +1 if (direction == debit) is
// equivalent to (user.type == Asset), else -1.
func Sign(direction Direction, userType UserType) int64 {
	debit := direction == Debit
	asset := userType == Asset
	if debit == asset {
		return 1
	}
	return -1
}

// Delta returns the signed position delta a posting would apply for a user
// of the given type.
func (p Posting) Delta(userType UserType) int64 {
	return Sign(p.Direction, userType) * p.Quantity
}

// WellFormed reports whether a complete journal entry (all members of one
// uid, already gathered) is balanced per contract: the signed sum of
// credit-minus-debit quantities is zero for every contract referenced.
//
// This treats "credit" as positive and "debit" as negative regardless of
// user type, which is the ledger's own balance check — independent of any
// individual account's Asset/Liability posting-sign convention.
func WellFormed(postings []Posting, expectedCount int) bool {
	if len(postings) != expectedCount {
		return false
	}
	sums := make(map[string]int64, len(postings))
	for _, p := range postings {
		switch p.Direction {
		case Credit:
			sums[p.Contract] += p.Quantity
		case Debit:
			sums[p.Contract] -= p.Quantity
		default:
			return false
		}
	}
	for _, sum := range sums {
		if sum != 0 {
			return false
		}
	}
	return true
}
