package market

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/galleria-labs/galleria/internal/domain"
)

// ListDutch opens a descending-price sale. The price decays linearly from
// startPrice to endPrice over duration and is clamped at endPrice afterwards.
func (m *Marketplace) ListDutch(seller domain.Account, token domain.TokenRef, startPrice, endPrice int64, duration time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if endPrice < 0 || startPrice <= endPrice || duration <= 0 {
		return 0, fmt.Errorf("market: list dutch: %w", domain.ErrInvalidAmount)
	}
	l, err := m.newListing(seller, token, domain.MechanismDutch)
	if err != nil {
		return 0, err
	}
	l.StartPrice = startPrice
	l.EndPrice = endPrice
	l.Duration = duration
	l.EndTime = l.ListedAt.Add(duration)
	return l.ID, nil
}

// CurrentDutchPrice returns the listing's price at the engine's current time.
func (m *Marketplace) CurrentDutchPrice(listingID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.get(listingID, domain.MechanismDutch, false)
	if err != nil {
		return 0, err
	}
	return dutchPrice(l, m.now()), nil
}

// dutchPrice interpolates the price at time now. Integer arithmetic in
// seconds; monotonically non-increasing with floor endPrice.
func dutchPrice(l *domain.Listing, now time.Time) int64 {
	elapsed := int64(now.Sub(l.ListedAt) / time.Second)
	durationSec := int64(l.Duration / time.Second)
	if elapsed >= durationSec {
		return l.EndPrice
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return l.StartPrice - (l.StartPrice-l.EndPrice)*elapsed/durationSec
}

// BuyDutch is a single atomic purchase at or above the current price. It
// escrows the full amount from the buyer, settles the proceeds split, and
// transfers the token to the buyer in the same step. A failure in the token
// transfer refunds the buyer before the error is returned.
func (m *Marketplace) BuyDutch(listingID int64, buyer domain.Account, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.get(listingID, domain.MechanismDutch, true)
	if err != nil {
		return err
	}
	price := dutchPrice(l, m.now())
	if amount < price {
		return fmt.Errorf("market: buy %d below current price %d: %w", amount, price, domain.ErrBidTooLow)
	}

	if err := m.ledger.TransferFrom(m.escrow, buyer, m.escrow, amount); err != nil {
		return fmt.Errorf("market: escrow purchase: %w", err)
	}
	if err := l.Token.Collection.Transfer(l.Token.TokenID, l.Seller, buyer); err != nil {
		if rbErr := m.ledger.Transfer(m.escrow, buyer, amount); rbErr != nil {
			m.logger.Error("escrow rollback failed",
				slog.Int64("listing_id", listingID),
				slog.String("error", rbErr.Error()),
			)
		}
		return fmt.Errorf("market: transfer token: %w", err)
	}

	l.Bids = append(l.Bids, domain.Bid{
		ID:        len(l.Bids),
		ListingID: l.ID,
		Bidder:    buyer,
		Amount:    amount,
		Status:    domain.BidStatusWon,
		PlacedAt:  m.now(),
	})
	m.settle(l, buyer, amount)
	return nil
}
