package market

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/galleria-labs/galleria/internal/domain"
)

// ListEnglish opens an ascending-bid auction running for duration from now.
// A highest bid at or above reservePrice wins when the auction is ended.
func (m *Marketplace) ListEnglish(seller domain.Account, token domain.TokenRef, startPrice, reservePrice int64, duration time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if startPrice <= 0 || reservePrice < 0 || duration <= 0 {
		return 0, fmt.Errorf("market: list english: %w", domain.ErrInvalidAmount)
	}
	l, err := m.newListing(seller, token, domain.MechanismEnglish)
	if err != nil {
		return 0, err
	}
	l.StartPrice = startPrice
	l.ReservePrice = reservePrice
	l.Duration = duration
	l.EndTime = l.ListedAt.Add(duration)
	return l.ID, nil
}

// BidEnglish places a bid. The bid must be at least the start price and
// strictly above the current highest bid. The new bid is escrowed before the
// previous highest bidder is refunded; if the refund fails the new escrow is
// returned and the whole operation fails with no state change.
func (m *Marketplace) BidEnglish(listingID int64, bidder domain.Account, amount int64) (domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.get(listingID, domain.MechanismEnglish, true)
	if err != nil {
		return domain.Bid{}, err
	}
	now := m.now()
	if !now.Before(l.EndTime) {
		return domain.Bid{}, fmt.Errorf("market: bid on listing %d after end time: %w", listingID, domain.ErrListingNotActive)
	}
	if amount < l.StartPrice {
		return domain.Bid{}, fmt.Errorf("market: bid %d below start price %d: %w", amount, l.StartPrice, domain.ErrBidTooLow)
	}
	prev := l.HighestBid()
	if prev != nil && amount <= prev.Amount {
		return domain.Bid{}, fmt.Errorf("market: bid %d does not exceed highest %d: %w", amount, prev.Amount, domain.ErrBidTooLow)
	}

	if err := m.ledger.TransferFrom(m.escrow, bidder, m.escrow, amount); err != nil {
		return domain.Bid{}, fmt.Errorf("market: escrow bid: %w", err)
	}
	if prev != nil {
		if err := m.ledger.Transfer(m.escrow, prev.Bidder, prev.Amount); err != nil {
			// Compensate: return the freshly escrowed funds.
			if rbErr := m.ledger.Transfer(m.escrow, bidder, amount); rbErr != nil {
				m.logger.Error("escrow rollback failed",
					slog.Int64("listing_id", listingID),
					slog.String("error", rbErr.Error()),
				)
			}
			return domain.Bid{}, fmt.Errorf("market: refund outbid bidder: %w", err)
		}
		prev.Status = domain.BidStatusOutbid
	}

	bid := domain.Bid{
		ID:        len(l.Bids),
		ListingID: l.ID,
		Bidder:    bidder,
		Amount:    amount,
		Status:    domain.BidStatusActive,
		PlacedAt:  now,
	}
	l.Bids = append(l.Bids, bid)
	return bid, nil
}

// EndEnglish closes an expired auction. Calling it before the end time is an
// error. With no bids the listing simply ends unsold; with a highest bid
// below the reserve the bid is refunded and the listing ends unsold;
// otherwise the highest bid wins and the proceeds are split. The winner
// collects the token separately via ClaimEnglish.
func (m *Marketplace) EndEnglish(listingID int64, caller domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.get(listingID, domain.MechanismEnglish, true)
	if err != nil {
		return err
	}
	if l.Seller != caller {
		return fmt.Errorf("market: end listing %d: %w", listingID, domain.ErrUnauthorized)
	}
	if m.now().Before(l.EndTime) {
		return fmt.Errorf("market: end listing %d: %w", listingID, domain.ErrAuctionNotExpired)
	}

	highest := l.HighestBid()
	if highest == nil {
		l.Status = domain.ListingStatusEnded
		delete(m.activeToken, tokenKey(l.Token))
		return nil
	}

	if highest.Amount < l.ReservePrice {
		if err := m.ledger.Transfer(m.escrow, highest.Bidder, highest.Amount); err != nil {
			return fmt.Errorf("market: refund below-reserve bid: %w", err)
		}
		highest.Status = domain.BidStatusRefunded
		l.Status = domain.ListingStatusEnded
		delete(m.activeToken, tokenKey(l.Token))
		return nil
	}

	for i := range l.Bids {
		if l.Bids[i].ID != highest.ID {
			l.Bids[i].Status = domain.BidStatusRefunded
		}
	}
	highest.Status = domain.BidStatusWon
	m.settle(l, highest.Bidder, highest.Amount)
	return nil
}

// ClaimEnglish hands the token to the winning bidder. It is one-shot:
// claiming twice fails.
func (m *Marketplace) ClaimEnglish(listingID int64, caller domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.get(listingID, domain.MechanismEnglish, false)
	if err != nil {
		return err
	}
	if l.Status != domain.ListingStatusEnded {
		return fmt.Errorf("market: claim listing %d: %w", listingID, domain.ErrListingNotActive)
	}
	winner := l.HighestBid()
	if winner == nil || winner.Status != domain.BidStatusWon {
		return fmt.Errorf("market: claim listing %d: no winning bid: %w", listingID, domain.ErrNotFound)
	}
	if winner.Bidder != caller {
		return fmt.Errorf("market: claim listing %d: %w", listingID, domain.ErrUnauthorized)
	}
	if l.Claimed {
		return fmt.Errorf("market: claim listing %d: %w", listingID, domain.ErrAlreadyClaimed)
	}
	if err := l.Token.Collection.Transfer(l.Token.TokenID, l.Seller, caller); err != nil {
		return fmt.Errorf("market: claim listing %d: %w", listingID, err)
	}
	l.Claimed = true
	return nil
}
