package market

import (
	"fmt"
	"log/slog"

	"github.com/galleria-labs/galleria/internal/domain"
)

// ListOffering opens an open-bid sale. The ask price is advisory: bids below
// it are accepted and resolution is entirely at the selling group's
// discretion.
func (m *Marketplace) ListOffering(seller domain.Account, token domain.TokenRef, askPrice int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if askPrice < 0 {
		return 0, fmt.Errorf("market: list offering: %w", domain.ErrInvalidAmount)
	}
	l, err := m.newListing(seller, token, domain.MechanismOffering)
	if err != nil {
		return 0, err
	}
	l.AskPrice = askPrice
	return l.ID, nil
}

// BidOffering places an escrowed bid on an offering listing. Bids do not
// outbid each other; every bid stays escrowed until the group resolves the
// sale or the bidder withdraws a losing bid. The owning group's observer is
// notified so it can open a confirmation transaction for the bid.
func (m *Marketplace) BidOffering(listingID int64, bidder domain.Account, amount int64) (domain.Bid, error) {
	m.mu.Lock()

	l, err := m.get(listingID, domain.MechanismOffering, true)
	if err != nil {
		m.mu.Unlock()
		return domain.Bid{}, err
	}
	if amount <= 0 {
		m.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("market: offering bid: %w", domain.ErrInvalidAmount)
	}
	if err := m.ledger.TransferFrom(m.escrow, bidder, m.escrow, amount); err != nil {
		m.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("market: escrow offering bid: %w", err)
	}

	bid := domain.Bid{
		ID:        len(l.Bids),
		ListingID: l.ID,
		Bidder:    bidder,
		Amount:    amount,
		Status:    domain.BidStatusActive,
		PlacedAt:  m.now(),
	}
	l.Bids = append(l.Bids, bid)
	obs := m.sellers[l.Seller]

	// Notify outside the engine lock: the observer takes the group lock, and
	// group-initiated calls take the engine lock while holding it.
	m.mu.Unlock()
	if obs != nil {
		obs.OfferingBidPlaced(bid.ListingID, bid.ID, bid.Bidder, bid.Amount)
	}
	return bid, nil
}

// ResolveOffering accepts one bid as the winner. Only the owning group may
// call it, and only via an executed quorum-confirmed transaction. The
// winner's escrow is split and the token transferred immediately; losing
// bids remain escrowed until each bidder withdraws.
func (m *Marketplace) ResolveOffering(listingID int64, bidID int, caller domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.get(listingID, domain.MechanismOffering, true)
	if err != nil {
		return err
	}
	if l.Seller != caller {
		return fmt.Errorf("market: resolve listing %d: %w", listingID, domain.ErrUnauthorized)
	}
	if bidID < 0 || bidID >= len(l.Bids) {
		return fmt.Errorf("market: resolve listing %d: bid %d: %w", listingID, bidID, domain.ErrNotFound)
	}
	winner := &l.Bids[bidID]
	if winner.Status != domain.BidStatusActive {
		return fmt.Errorf("market: resolve listing %d: bid %d: %w", listingID, bidID, domain.ErrListingNotActive)
	}

	if err := l.Token.Collection.Transfer(l.Token.TokenID, l.Seller, winner.Bidder); err != nil {
		return fmt.Errorf("market: resolve listing %d: %w", listingID, err)
	}
	winner.Status = domain.BidStatusWon
	m.settle(l, winner.Bidder, winner.Amount)
	return nil
}

// WithdrawOfferingBid refunds the caller's losing bid once the listing is no
// longer active. Winning bids cannot be withdrawn.
func (m *Marketplace) WithdrawOfferingBid(listingID int64, bidID int, caller domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.get(listingID, domain.MechanismOffering, false)
	if err != nil {
		return err
	}
	if l.Status == domain.ListingStatusActive {
		return fmt.Errorf("market: withdraw offering bid before resolution: %w", domain.ErrListingNotActive)
	}
	if bidID < 0 || bidID >= len(l.Bids) {
		return fmt.Errorf("market: withdraw offering bid %d: %w", bidID, domain.ErrNotFound)
	}
	bid := &l.Bids[bidID]
	if bid.Bidder != caller {
		return fmt.Errorf("market: withdraw offering bid %d: %w", bidID, domain.ErrUnauthorized)
	}
	switch bid.Status {
	case domain.BidStatusWon:
		return fmt.Errorf("market: withdraw winning bid: %w", domain.ErrUnauthorized)
	case domain.BidStatusRefunded:
		return fmt.Errorf("market: withdraw offering bid %d: %w", bidID, domain.ErrAlreadyClaimed)
	}
	if err := m.ledger.Transfer(m.escrow, bid.Bidder, bid.Amount); err != nil {
		return fmt.Errorf("market: refund offering bid: %w", err)
	}
	bid.Status = domain.BidStatusRefunded

	m.logger.Info("offering bid refunded",
		slog.Int64("listing_id", listingID),
		slog.Int("bid_id", bidID),
		slog.Int64("amount", bid.Amount),
	)
	return nil
}
