// Package market implements the marketplace escrow and auction engine: the
// registry of active listings across the three sale mechanisms, the escrow
// account holding competing bids, and the settlement path that splits
// proceeds between the selling group and the platform.
//
// Every mutating operation is serialized behind a single mutex and is
// all-or-nothing: preconditions are checked before any ledger transfer, and
// a failure after an escrow transfer triggers a compensating refund before
// the error is returned.
package market

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/galleria-labs/galleria/internal/domain"
)

// SellerObserver receives callbacks for listings owned by a registered
// seller. Groups implement it to open an offering-sale confirmation
// transaction whenever a bid lands on one of their offering listings.
type SellerObserver interface {
	OfferingBidPlaced(listingID int64, bidID int, bidder domain.Account, amount int64)
}

// Marketplace is the escrow and auction engine.
type Marketplace struct {
	mu sync.Mutex

	ledger        domain.PaymentLedger
	escrow        domain.Account // the marketplace's own ledger account
	platform      domain.Account // platform operator (fee recipient)
	sellerPercent int64          // seller share of each sale, in percent
	now           func() time.Time
	logger        *slog.Logger

	listings []*domain.Listing
	sellers  map[domain.Account]SellerObserver

	// activeToken maps a token to its single active listing.
	activeToken map[string]int64

	// Seller shares accrue here until the owning group sweeps them.
	sellerBalance   map[domain.Account]int64
	pendingSales    map[domain.Account][]domain.SettledSale
	platformBalance int64
}

// New creates a Marketplace paying sellerPercent of each sale to the selling
// group and the remainder to the platform account.
func New(ledger domain.PaymentLedger, platform domain.Account, sellerPercent int64, logger *slog.Logger) (*Marketplace, error) {
	if sellerPercent < 0 || sellerPercent > 100 {
		return nil, fmt.Errorf("market: seller percent %d out of range", sellerPercent)
	}
	return &Marketplace{
		ledger:        ledger,
		escrow:        domain.NewAccount(),
		platform:      platform,
		sellerPercent: sellerPercent,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "market")),
		sellers:       make(map[domain.Account]SellerObserver),
		activeToken:   make(map[string]int64),
		sellerBalance: make(map[domain.Account]int64),
		pendingSales:  make(map[domain.Account][]domain.SettledSale),
	}, nil
}

// WithClock overrides the engine's time source. Time-gated transitions are
// evaluated lazily against this clock at call time.
func (m *Marketplace) WithClock(now func() time.Time) *Marketplace {
	m.now = now
	return m
}

// RegisterSeller authorizes a group account to list tokens. The observer is
// notified of offering bids on the group's listings.
func (m *Marketplace) RegisterSeller(seller domain.Account, obs SellerObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sellers[seller] = obs
}

// EscrowAccount returns the marketplace's own ledger account. Bidders approve
// this account before bidding.
func (m *Marketplace) EscrowAccount() domain.Account { return m.escrow }

func tokenKey(t domain.TokenRef) string {
	return tokenAddrKey(t.CollectionAddress(), t.TokenID)
}

func tokenAddrKey(collection domain.Account, tokenID int) string {
	return collection.Hex() + ":" + fmt.Sprint(tokenID)
}

// newListing validates common listing preconditions and appends the listing.
// Callers hold m.mu.
func (m *Marketplace) newListing(seller domain.Account, token domain.TokenRef, mech domain.Mechanism) (*domain.Listing, error) {
	if _, ok := m.sellers[seller]; !ok {
		return nil, fmt.Errorf("market: list by unregistered seller %s: %w", seller.Hex(), domain.ErrUnauthorized)
	}
	if token.Collection == nil {
		return nil, fmt.Errorf("market: list: %w", domain.ErrNotFound)
	}
	owner, err := token.Collection.OwnerOf(token.TokenID)
	if err != nil {
		return nil, fmt.Errorf("market: list: %w", err)
	}
	if owner != seller {
		return nil, fmt.Errorf("market: list token not owned by seller: %w", domain.ErrUnauthorized)
	}
	if _, listed := m.activeToken[tokenKey(token)]; listed {
		return nil, fmt.Errorf("market: list: %w", domain.ErrTokenListed)
	}

	l := &domain.Listing{
		ID:        int64(len(m.listings)),
		Seller:    seller,
		Token:     token,
		Mechanism: mech,
		Status:    domain.ListingStatusActive,
		ListedAt:  m.now(),
	}
	m.listings = append(m.listings, l)
	m.activeToken[tokenKey(token)] = l.ID
	return l, nil
}

// get returns the listing, checking mechanism and (optionally) that it is
// still active. Callers hold m.mu.
func (m *Marketplace) get(id int64, mech domain.Mechanism, mustBeActive bool) (*domain.Listing, error) {
	if id < 0 || id >= int64(len(m.listings)) {
		return nil, fmt.Errorf("market: listing %d: %w", id, domain.ErrNotFound)
	}
	l := m.listings[id]
	if mech != "" && l.Mechanism != mech {
		return nil, fmt.Errorf("market: listing %d: %w", id, domain.ErrWrongMechanism)
	}
	if mustBeActive && l.Status != domain.ListingStatusActive {
		return nil, fmt.Errorf("market: listing %d: %w", id, domain.ErrListingNotActive)
	}
	return l, nil
}

// splitPrice divides a sale price into seller and platform shares. Integer
// division; the remainder stays with the platform.
func (m *Marketplace) splitPrice(price int64) (sellerShare, platformShare int64) {
	sellerShare = price * m.sellerPercent / 100
	return sellerShare, price - sellerShare
}

// SplitPrice reports how a sale at the given price would divide between the
// seller and the platform.
func (m *Marketplace) SplitPrice(price int64) (sellerShare, platformShare int64) {
	return m.splitPrice(price)
}

// settle credits the proceeds of a finished sale and retires the listing.
// Callers hold m.mu; the winner's funds are already in escrow.
func (m *Marketplace) settle(l *domain.Listing, winner domain.Account, price int64) {
	sellerShare, platformShare := m.splitPrice(price)
	m.sellerBalance[l.Seller] += sellerShare
	m.platformBalance += platformShare
	m.pendingSales[l.Seller] = append(m.pendingSales[l.Seller], domain.SettledSale{
		ListingID:     l.ID,
		Mechanism:     l.Mechanism,
		Winner:        winner,
		Price:         price,
		SellerShare:   sellerShare,
		PlatformShare: platformShare,
		SettledAt:     m.now(),
	})
	l.Status = domain.ListingStatusEnded
	delete(m.activeToken, tokenKey(l.Token))

	m.logger.Info("listing settled",
		slog.Int64("listing_id", l.ID),
		slog.String("mechanism", string(l.Mechanism)),
		slog.Int64("price", price),
		slog.Int64("seller_share", sellerShare),
		slog.Int64("platform_share", platformShare),
	)
}

// Cancel retires a listing that has never received a bid. A listing with any
// recorded bid cannot be canceled.
func (m *Marketplace) Cancel(listingID int64, caller domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.get(listingID, "", true)
	if err != nil {
		return err
	}
	if l.Seller != caller {
		return fmt.Errorf("market: cancel listing %d: %w", listingID, domain.ErrUnauthorized)
	}
	if len(l.Bids) > 0 {
		return fmt.Errorf("market: cancel listing %d: %w", listingID, domain.ErrAuctionStarted)
	}
	l.Status = domain.ListingStatusCanceled
	delete(m.activeToken, tokenKey(l.Token))
	return nil
}

// Sweep transfers the group's accrued seller share to its ledger account and
// returns the sales settled since the previous sweep. A sweep with nothing
// accrued returns an empty slice.
func (m *Marketplace) Sweep(group domain.Account) ([]domain.SettledSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sellers[group]; !ok {
		return nil, fmt.Errorf("market: sweep by unregistered seller: %w", domain.ErrUnauthorized)
	}
	total := m.sellerBalance[group]
	sales := m.pendingSales[group]
	if total == 0 && len(sales) == 0 {
		return nil, nil
	}
	if err := m.ledger.Transfer(m.escrow, group, total); err != nil {
		return nil, fmt.Errorf("market: sweep: %w", err)
	}
	m.sellerBalance[group] = 0
	delete(m.pendingSales, group)
	return sales, nil
}

// SellerBalance reports the seller share accrued for a group since its last
// sweep.
func (m *Marketplace) SellerBalance(group domain.Account) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sellerBalance[group]
}

// PlatformBalance reports the accumulated platform fee balance.
func (m *Marketplace) PlatformBalance() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.platformBalance
}

// WithdrawPlatformFees transfers the accumulated platform fees to the
// platform account. Only the platform account may call it.
func (m *Marketplace) WithdrawPlatformFees(caller domain.Account) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.platform {
		return 0, fmt.Errorf("market: withdraw platform fees: %w", domain.ErrUnauthorized)
	}
	if m.platformBalance == 0 {
		return 0, fmt.Errorf("market: withdraw platform fees: %w", domain.ErrZeroBalance)
	}
	amount := m.platformBalance
	if err := m.ledger.Transfer(m.escrow, m.platform, amount); err != nil {
		return 0, fmt.Errorf("market: withdraw platform fees: %w", err)
	}
	m.platformBalance = 0
	return amount, nil
}

// Listing returns a snapshot copy of a listing for read paths.
func (m *Marketplace) Listing(id int64) (domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.get(id, "", false)
	if err != nil {
		return domain.Listing{}, err
	}
	return snapshot(l), nil
}

// Listings returns snapshot copies of every listing, newest first.
func (m *Marketplace) Listings() []domain.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Listing, 0, len(m.listings))
	for i := len(m.listings) - 1; i >= 0; i-- {
		out = append(out, snapshot(m.listings[i]))
	}
	return out
}

// ActiveListingForToken reports the active listing holding the given token.
func (m *Marketplace) ActiveListingForToken(token domain.TokenRef) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.activeToken[tokenKey(token)]
	return id, ok
}

// ListingForToken returns a snapshot of the active listing holding the
// token, looked up by collection address.
func (m *Marketplace) ListingForToken(collection domain.Account, tokenID int) (domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.activeToken[tokenAddrKey(collection, tokenID)]
	if !ok {
		return domain.Listing{}, fmt.Errorf("market: listing for token %s/%d: %w", collection.Hex(), tokenID, domain.ErrNotFound)
	}
	l, err := m.get(id, "", false)
	if err != nil {
		return domain.Listing{}, err
	}
	return snapshot(l), nil
}

func snapshot(l *domain.Listing) domain.Listing {
	out := *l
	out.Bids = make([]domain.Bid, len(l.Bids))
	copy(out.Bids, l.Bids)
	return out
}
