package domain

import "time"

// TxKind distinguishes the two multisig transaction queues a group maintains.
type TxKind string

const (
	TxKindDirectorSetting TxKind = "director_setting"
	TxKindOfferingSale    TxKind = "offering_sale"
)

// MultisigTransaction is a pending governance action. Members vote with
// Confirm; once the count of approving votes reaches the group quorum any
// member may execute it, exactly once.
type MultisigTransaction struct {
	ID       int
	Kind     TxKind
	Proposer Account

	// DirectorSetting payload.
	Candidate Account

	// OfferingSale payload: the bid this transaction would accept.
	ListingID int64
	BidID     int

	// Votes records each member's vote. A false vote is advisory: it is
	// recorded but never reduces the tally and never vetoes.
	Votes       map[Account]bool
	Executed    bool
	SubmittedAt time.Time
}

// Approvals returns the number of approving votes.
func (tx *MultisigTransaction) Approvals() int {
	n := 0
	for _, ok := range tx.Votes {
		if ok {
			n++
		}
	}
	return n
}

// DistributeState tracks whether a sold record's proceeds have been fanned
// out to the members.
type DistributeState string

const (
	DistributePending DistributeState = "pending"
	Distributed       DistributeState = "distributed"
)

// SoldRecord is the group's immutable record of one settled sale. Price is
// the seller-share amount credited to the group.
type SoldRecord struct {
	ID              int             `json:"id"`
	ListingID       int64           `json:"listing_id"`
	Price           int64           `json:"price"`
	DistributeState DistributeState `json:"distribute_state"`
	SoldAt          time.Time       `json:"sold_at"`
}

// Allocator decides how a sold record's proceeds are split across members.
// Implementations must allocate the full amount: the returned values sum to
// exactly total.
type Allocator interface {
	Allocate(total int64, members []Account) map[Account]int64
}
