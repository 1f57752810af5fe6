package group

import (
	"fmt"
	"log/slog"

	"github.com/galleria-labs/galleria/internal/domain"
)

// SubmitDirectorSetting proposes a member as director. The transaction
// starts with zero confirmations; the proposer votes separately.
func (g *Group) SubmitDirectorSetting(caller, candidate domain.Account) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capSubmitTx); err != nil {
		return 0, err
	}
	if !g.isMember[candidate] {
		return 0, fmt.Errorf("group: director candidate %s: %w", candidate.Hex(), domain.ErrNotMember)
	}
	tx := &domain.MultisigTransaction{
		ID:          len(g.directorTxs),
		Kind:        domain.TxKindDirectorSetting,
		Proposer:    caller,
		Candidate:   candidate,
		Votes:       make(map[domain.Account]bool),
		SubmittedAt: g.now(),
	}
	g.directorTxs = append(g.directorTxs, tx)
	g.logger.Info("director setting proposed",
		slog.Int("tx_id", tx.ID),
		slog.String("candidate", candidate.Hex()),
	)
	return tx.ID, nil
}

// ConfirmDirectorSetting records a member's vote on a director-setting
// transaction. Each member votes at most once; a false vote is recorded but
// never reduces the tally.
func (g *Group) ConfirmDirectorSetting(caller domain.Account, txID int, approve bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capVoteTx); err != nil {
		return err
	}
	tx, err := directorTx(g.directorTxs, txID)
	if err != nil {
		return err
	}
	return vote(tx, caller, approve)
}

// ExecuteDirectorSetting applies a quorum-confirmed director change, exactly
// once.
func (g *Group) ExecuteDirectorSetting(caller domain.Account, txID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capExecuteTx); err != nil {
		return err
	}
	tx, err := directorTx(g.directorTxs, txID)
	if err != nil {
		return err
	}
	if err := executable(tx, g.quorum); err != nil {
		return err
	}
	g.director = tx.Candidate
	tx.Executed = true
	g.logger.Info("director set",
		slog.Int("tx_id", txID),
		slog.String("director", tx.Candidate.Hex()),
	)
	return nil
}

// OfferingBidPlaced opens a confirmation transaction for a new offering bid.
// Called by the marketplace engine (never with its lock held) whenever a bid
// lands on one of the group's offering listings.
func (g *Group) OfferingBidPlaced(listingID int64, bidID int, bidder domain.Account, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx := &domain.MultisigTransaction{
		ID:          len(g.offeringTxs),
		Kind:        domain.TxKindOfferingSale,
		Proposer:    bidder,
		ListingID:   listingID,
		BidID:       bidID,
		Votes:       make(map[domain.Account]bool),
		SubmittedAt: g.now(),
	}
	g.offeringTxs = append(g.offeringTxs, tx)
	g.logger.Info("offering bid confirmation opened",
		slog.Int("tx_id", tx.ID),
		slog.Int64("listing_id", listingID),
		slog.Int64("amount", amount),
	)
}

// ConfirmOfferingSale records a member's vote on accepting an offering bid.
func (g *Group) ConfirmOfferingSale(caller domain.Account, txID int, approve bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capVoteTx); err != nil {
		return err
	}
	tx, err := offeringTx(g.offeringTxs, txID)
	if err != nil {
		return err
	}
	return vote(tx, caller, approve)
}

// ExecuteOfferingSale resolves the offering listing in favor of the bid the
// transaction names. The transaction is marked executed only after the
// marketplace accepts the resolution, so a failed resolution can be retried.
func (g *Group) ExecuteOfferingSale(caller domain.Account, txID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capExecuteTx); err != nil {
		return err
	}
	tx, err := offeringTx(g.offeringTxs, txID)
	if err != nil {
		return err
	}
	if err := executable(tx, g.quorum); err != nil {
		return err
	}
	if err := g.market.ResolveOffering(tx.ListingID, tx.BidID, g.address); err != nil {
		return fmt.Errorf("group: execute offering sale %d: %w", txID, err)
	}
	tx.Executed = true
	g.logger.Info("offering sale executed",
		slog.Int("tx_id", txID),
		slog.Int64("listing_id", tx.ListingID),
		slog.Int("bid_id", tx.BidID),
	)
	return nil
}

// DirectorTransactions returns snapshot copies of the director-setting queue.
func (g *Group) DirectorTransactions() []domain.MultisigTransaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return snapshotTxs(g.directorTxs)
}

// OfferingTransactions returns snapshot copies of the offering queue.
func (g *Group) OfferingTransactions() []domain.MultisigTransaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return snapshotTxs(g.offeringTxs)
}

func directorTx(txs []*domain.MultisigTransaction, id int) (*domain.MultisigTransaction, error) {
	if id < 0 || id >= len(txs) {
		return nil, fmt.Errorf("group: director transaction %d: %w", id, domain.ErrNotFound)
	}
	return txs[id], nil
}

func offeringTx(txs []*domain.MultisigTransaction, id int) (*domain.MultisigTransaction, error) {
	if id < 0 || id >= len(txs) {
		return nil, fmt.Errorf("group: offering transaction %d: %w", id, domain.ErrNotFound)
	}
	return txs[id], nil
}

// vote records a one-shot, order-independent vote on a pending transaction.
func vote(tx *domain.MultisigTransaction, caller domain.Account, approve bool) error {
	if tx.Executed {
		return fmt.Errorf("group: vote on transaction %d: %w", tx.ID, domain.ErrAlreadyExecuted)
	}
	if _, voted := tx.Votes[caller]; voted {
		return fmt.Errorf("group: vote on transaction %d: %w", tx.ID, domain.ErrAlreadyConfirmed)
	}
	tx.Votes[caller] = approve
	return nil
}

// executable gates execution on the one-shot flag and the quorum.
func executable(tx *domain.MultisigTransaction, quorum int) error {
	if tx.Executed {
		return fmt.Errorf("group: execute transaction %d: %w", tx.ID, domain.ErrAlreadyExecuted)
	}
	if tx.Approvals() < quorum {
		return fmt.Errorf("group: execute transaction %d with %d of %d confirmations: %w",
			tx.ID, tx.Approvals(), quorum, domain.ErrQuorumNotReached)
	}
	return nil
}

func snapshotTxs(txs []*domain.MultisigTransaction) []domain.MultisigTransaction {
	out := make([]domain.MultisigTransaction, 0, len(txs))
	for _, tx := range txs {
		cp := *tx
		cp.Votes = make(map[domain.Account]bool, len(tx.Votes))
		for k, v := range tx.Votes {
			cp.Votes[k] = v
		}
		out = append(out, cp)
	}
	return out
}
