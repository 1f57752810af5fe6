package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/galleria-labs/galleria/internal/crypto"
	"github.com/galleria-labs/galleria/internal/domain"
	"github.com/galleria-labs/galleria/internal/market"
	"github.com/galleria-labs/galleria/internal/notify"
)

// ReceiptSigner abstracts settlement receipt signing so the service layer
// never depends on concrete key-management implementations.
type ReceiptSigner interface {
	SignReceipt(r crypto.Receipt) (string, error)
	Address() common.Address
}

// Notifier delivers operator notifications for the events it is configured
// to forward.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// bidsPerSecond caps how fast a single account may submit bids.
const bidsPerSecond = 10

// ListingService drives the marketplace engine and keeps the read-side
// infrastructure in step with it: every mutation is archived to Postgres,
// reflected in the Redis cache, and announced on the signal bus. The engine
// remains the source of truth; store and cache failures are logged but never
// roll an operation back.
type ListingService struct {
	mkt      *market.Marketplace
	store    domain.ListingStore
	cache    domain.ListingCache
	limiter  domain.RateLimiter
	bus      domain.SignalBus
	audit    domain.AuditStore
	signer   ReceiptSigner
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewListingService creates a ListingService with all required dependencies.
func NewListingService(
	mkt *market.Marketplace,
	store domain.ListingStore,
	cache domain.ListingCache,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		mkt:     mkt,
		store:   store,
		cache:   cache,
		limiter: limiter,
		bus:     bus,
		audit:   audit,
		logger:  logger.With(slog.String("component", "listing_service")),
		now:     time.Now,
	}
}

// WithSigner attaches a receipt signer so settlements produce a verifiable
// EIP-712 receipt in the settlement journal. Without one, journal entries
// carry no signature.
func (s *ListingService) WithSigner(signer ReceiptSigner) *ListingService {
	s.signer = signer
	return s
}

// WithNotifier attaches an operator notifier for settlement events.
func (s *ListingService) WithNotifier(n Notifier) *ListingService {
	s.notifier = n
	return s
}

// WithClock overrides the timestamp source. Test hook.
func (s *ListingService) WithClock(now func() time.Time) *ListingService {
	s.now = now
	return s
}

// ---------------------------------------------------------------------------
// Listing creation
// ---------------------------------------------------------------------------

// ListEnglish opens an ascending auction and propagates the new listing to
// the archive, cache, and signal bus.
func (s *ListingService) ListEnglish(ctx context.Context, seller domain.Account, token domain.TokenRef, startPrice, reservePrice int64, duration time.Duration) (int64, error) {
	id, err := s.mkt.ListEnglish(seller, token, startPrice, reservePrice, duration)
	if err != nil {
		return 0, fmt.Errorf("listing_service: list english: %w", err)
	}
	s.afterListingChange(ctx, id, "listing_created")
	return id, nil
}

// ListDutch opens a declining-price sale.
func (s *ListingService) ListDutch(ctx context.Context, seller domain.Account, token domain.TokenRef, startPrice, endPrice int64, duration time.Duration) (int64, error) {
	id, err := s.mkt.ListDutch(seller, token, startPrice, endPrice, duration)
	if err != nil {
		return 0, fmt.Errorf("listing_service: list dutch: %w", err)
	}
	s.afterListingChange(ctx, id, "listing_created")
	return id, nil
}

// ListOffering opens an offering sale with an advisory ask price.
func (s *ListingService) ListOffering(ctx context.Context, seller domain.Account, token domain.TokenRef, askPrice int64) (int64, error) {
	id, err := s.mkt.ListOffering(seller, token, askPrice)
	if err != nil {
		return 0, fmt.Errorf("listing_service: list offering: %w", err)
	}
	s.afterListingChange(ctx, id, "listing_created")
	return id, nil
}

// ListingCreated mirrors a listing opened elsewhere, such as through a
// group delegation, to the archive, cache, and signal bus.
func (s *ListingService) ListingCreated(ctx context.Context, id int64) {
	s.afterListingChange(ctx, id, "listing_created")
}

// ListingCanceled mirrors a listing canceled through a group delegation.
func (s *ListingService) ListingCanceled(ctx context.Context, id int64) {
	s.afterListingChange(ctx, id, "listing_canceled")
}

// Cancel retires a listing that has never received a bid.
func (s *ListingService) Cancel(ctx context.Context, listingID int64, caller domain.Account) error {
	if err := s.mkt.Cancel(listingID, caller); err != nil {
		return fmt.Errorf("listing_service: cancel %d: %w", listingID, err)
	}
	s.afterListingChange(ctx, listingID, "listing_canceled")
	return nil
}

// ---------------------------------------------------------------------------
// Bidding and buying
// ---------------------------------------------------------------------------

// BidEnglish places an ascending-auction bid. Bids are rate limited per
// bidder account.
func (s *ListingService) BidEnglish(ctx context.Context, listingID int64, bidder domain.Account, amount int64) (domain.Bid, error) {
	if err := s.allowBid(ctx, bidder); err != nil {
		return domain.Bid{}, err
	}

	bid, err := s.mkt.BidEnglish(listingID, bidder, amount)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("listing_service: bid english %d: %w", listingID, err)
	}

	s.afterListingChange(ctx, listingID, "bid_placed")
	s.publish(ctx, domain.ChannelBids, "bid_placed", bid)
	return bid, nil
}

// BidOffering places an offering-sale bid. The amount is escrowed until the
// seller resolves the sale or the bidder withdraws.
func (s *ListingService) BidOffering(ctx context.Context, listingID int64, bidder domain.Account, amount int64) (domain.Bid, error) {
	if err := s.allowBid(ctx, bidder); err != nil {
		return domain.Bid{}, err
	}

	bid, err := s.mkt.BidOffering(listingID, bidder, amount)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("listing_service: bid offering %d: %w", listingID, err)
	}

	s.afterListingChange(ctx, listingID, "bid_placed")
	s.publish(ctx, domain.ChannelBids, "bid_placed", bid)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, notify.EventOfferingBid,
			"Offering bid received",
			fmt.Sprintf("listing %d: %s bid %d", listingID, bidder.Hex(), amount),
		); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.Int64("listing_id", listingID),
				slog.String("error", err.Error()),
			)
		}
	}
	return bid, nil
}

// BuyDutch buys a declining-price listing outright. The buyer pays the
// amount they offered, which must be at or above the current price.
func (s *ListingService) BuyDutch(ctx context.Context, listingID int64, buyer domain.Account, amount int64) error {
	if err := s.allowBid(ctx, buyer); err != nil {
		return err
	}

	if err := s.mkt.BuyDutch(listingID, buyer, amount); err != nil {
		return fmt.Errorf("listing_service: buy dutch %d: %w", listingID, err)
	}

	s.afterListingChange(ctx, listingID, "listing_settled")
	s.journalSettlement(ctx, listingID)
	return nil
}

// ---------------------------------------------------------------------------
// Settlement
// ---------------------------------------------------------------------------

// EndEnglish concludes an expired ascending auction. When the reserve was
// met the sale settles; otherwise the listing ends unsold and the highest
// bid is refunded.
func (s *ListingService) EndEnglish(ctx context.Context, listingID int64, caller domain.Account) error {
	if err := s.mkt.EndEnglish(listingID, caller); err != nil {
		return fmt.Errorf("listing_service: end english %d: %w", listingID, err)
	}

	s.afterListingChange(ctx, listingID, "listing_settled")
	s.journalSettlement(ctx, listingID)
	return nil
}

// ClaimEnglish transfers the token to the auction winner.
func (s *ListingService) ClaimEnglish(ctx context.Context, listingID int64, caller domain.Account) error {
	if err := s.mkt.ClaimEnglish(listingID, caller); err != nil {
		return fmt.Errorf("listing_service: claim english %d: %w", listingID, err)
	}
	s.afterListingChange(ctx, listingID, "token_claimed")
	return nil
}

// ResolveOffering accepts one bid on an offering sale on the seller's
// behalf. Losing bidders withdraw their escrow separately.
func (s *ListingService) ResolveOffering(ctx context.Context, listingID int64, bidID int, caller domain.Account) error {
	if err := s.mkt.ResolveOffering(listingID, bidID, caller); err != nil {
		return fmt.Errorf("listing_service: resolve offering %d: %w", listingID, err)
	}

	s.afterListingChange(ctx, listingID, "listing_settled")
	s.journalSettlement(ctx, listingID)
	return nil
}

// WithdrawOfferingBid returns a losing bidder's escrowed funds.
func (s *ListingService) WithdrawOfferingBid(ctx context.Context, listingID int64, bidID int, caller domain.Account) error {
	if err := s.mkt.WithdrawOfferingBid(listingID, bidID, caller); err != nil {
		return fmt.Errorf("listing_service: withdraw offering bid %d/%d: %w", listingID, bidID, err)
	}
	s.afterListingChange(ctx, listingID, "bid_withdrawn")
	return nil
}

// WithdrawPlatformFees sweeps the accrued platform share of settled sales
// to the platform account.
func (s *ListingService) WithdrawPlatformFees(ctx context.Context, caller domain.Account) (int64, error) {
	amount, err := s.mkt.WithdrawPlatformFees(caller)
	if err != nil {
		return 0, fmt.Errorf("listing_service: withdraw platform fees: %w", err)
	}
	if err := s.audit.Log(ctx, "platform_fees_withdrawn", map[string]any{
		"caller": caller.Hex(),
		"amount": amount,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", "platform_fees_withdrawn"),
			slog.String("error", err.Error()),
		)
	}
	return amount, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetListing returns one listing, served from the cache when possible and
// falling back to the engine.
func (s *ListingService) GetListing(ctx context.Context, id int64) (domain.ListingRecord, error) {
	rec, err := s.cache.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "cache read failed",
			slog.Int64("listing_id", id),
			slog.String("error", err.Error()),
		)
	}

	l, err := s.mkt.Listing(id)
	if err != nil {
		return domain.ListingRecord{}, fmt.Errorf("listing_service: get %d: %w", id, err)
	}
	rec = l.Record()

	if err := s.cache.Set(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "cache refresh failed",
			slog.Int64("listing_id", id),
			slog.String("error", err.Error()),
		)
	}
	return rec, nil
}

// GetListingByToken returns the active listing holding a token, served from
// the cache's token index when possible.
func (s *ListingService) GetListingByToken(ctx context.Context, collection domain.Account, tokenID int) (domain.ListingRecord, error) {
	rec, err := s.cache.GetByToken(ctx, collection, tokenID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "cache token read failed",
			slog.String("collection", collection.Hex()),
			slog.Int("token_id", tokenID),
			slog.String("error", err.Error()),
		)
	}

	l, err := s.mkt.ListingForToken(collection, tokenID)
	if err != nil {
		return domain.ListingRecord{}, fmt.Errorf("listing_service: get by token %s/%d: %w", collection.Hex(), tokenID, err)
	}
	rec = l.Record()

	if err := s.cache.Set(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "cache refresh failed",
			slog.Int64("listing_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	return rec, nil
}

// CurrentDutchPrice returns the live price of a declining-price listing.
func (s *ListingService) CurrentDutchPrice(ctx context.Context, id int64) (int64, error) {
	price, err := s.mkt.CurrentDutchPrice(id)
	if err != nil {
		return 0, fmt.Errorf("listing_service: dutch price %d: %w", id, err)
	}
	return price, nil
}

// ListBySeller returns a seller's archived listings, newest first.
func (s *ListingService) ListBySeller(ctx context.Context, seller domain.Account, opts domain.ListOpts) ([]domain.ListingRecord, error) {
	recs, err := s.store.ListBySeller(ctx, seller, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list by seller: %w", err)
	}
	return recs, nil
}

// ListByStatus returns archived listings in the given lifecycle state.
func (s *ListingService) ListByStatus(ctx context.Context, status domain.ListingStatus, opts domain.ListOpts) ([]domain.ListingRecord, error) {
	recs, err := s.store.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list by status: %w", err)
	}
	return recs, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// allowBid applies the per-account bid rate limit.
func (s *ListingService) allowBid(ctx context.Context, bidder domain.Account) error {
	allowed, err := s.limiter.Allow(ctx, "bids:"+bidder.Hex(), bidsPerSecond, time.Second)
	if err != nil {
		return fmt.Errorf("listing_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

// afterListingChange re-reads the listing from the engine and fans the fresh
// snapshot out to the archive, the cache, the signal bus, and the audit log.
// Failures on the read side are logged, never returned: the engine has
// already committed.
func (s *ListingService) afterListingChange(ctx context.Context, id int64, event string) {
	l, err := s.mkt.Listing(id)
	if err != nil {
		s.logger.WarnContext(ctx, "post-change read failed",
			slog.Int64("listing_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	rec := l.Record()

	if err := s.store.Upsert(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "archive upsert failed",
			slog.Int64("listing_id", id),
			slog.String("error", err.Error()),
		)
	}
	for _, b := range rec.Bids {
		if err := s.store.InsertBid(ctx, b); err != nil {
			s.logger.WarnContext(ctx, "archive bid insert failed",
				slog.Int64("listing_id", id),
				slog.Int("bid_id", b.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.store.UpdateBidStatus(ctx, id, b.ID, b.Status); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "archive bid status failed",
				slog.Int64("listing_id", id),
				slog.Int("bid_id", b.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Active listings stay hot in the cache; terminal ones are evicted so
	// the token index frees up for a relisting.
	if rec.Status == domain.ListingStatusActive {
		if err := s.cache.Set(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Int64("listing_id", id),
				slog.String("error", err.Error()),
			)
		}
	} else {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "cache invalidate failed",
				slog.Int64("listing_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publish(ctx, domain.ChannelListings, event, rec)

	if err := s.audit.Log(ctx, event, map[string]any{
		"listing_id": id,
		"mechanism":  string(rec.Mechanism),
		"status":     string(rec.Status),
		"seller":     rec.Seller.Hex(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.Int64("listing_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// journalSettlement appends a settlement entry, signed when a signer is
// configured, to the durable settlement stream and notifies the operator.
// Called after a listing reaches a settled state; listings that ended unsold
// produce no journal entry.
func (s *ListingService) journalSettlement(ctx context.Context, id int64) {
	l, err := s.mkt.Listing(id)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement read failed",
			slog.Int64("listing_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	var winner domain.Account
	var price int64
	found := false
	for _, b := range l.Bids {
		if b.Status == domain.BidStatusWon {
			winner, price, found = b.Bidder, b.Amount, true
			break
		}
	}
	if !found {
		return // ended unsold
	}

	sellerShare, platformShare := s.mkt.SplitPrice(price)
	receipt := crypto.Receipt{
		ListingID:     l.ID,
		Collection:    l.Token.CollectionAddress().Hex(),
		TokenID:       l.Token.TokenID,
		Seller:        l.Seller.Hex(),
		Winner:        winner.Hex(),
		Price:         price,
		SellerShare:   sellerShare,
		PlatformShare: platformShare,
		SettledAt:     s.now().Unix(),
	}

	entry := map[string]any{"receipt": receipt}
	if s.signer != nil {
		sig, err := s.signer.SignReceipt(receipt)
		if err != nil {
			s.logger.WarnContext(ctx, "receipt signing failed",
				slog.Int64("listing_id", id),
				slog.String("error", err.Error()),
			)
		} else {
			entry["signature"] = sig
			entry["signer"] = s.signer.Address().Hex()
		}
	}

	payload := domain.NewEvent("settlement", s.now(), entry).Encode()
	if err := s.bus.StreamAppend(ctx, domain.StreamSettlements, payload); err != nil {
		s.logger.WarnContext(ctx, "settlement journal append failed",
			slog.Int64("listing_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, domain.ChannelSales, "listing_settled", receipt)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, notify.EventListingSettled,
			"Listing settled",
			fmt.Sprintf("listing %d sold to %s for %d (seller %d / platform %d)",
				l.ID, winner.Hex(), price, sellerShare, platformShare),
		); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.Int64("listing_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// publish wraps a payload in an event envelope and publishes it on the bus.
func (s *ListingService) publish(ctx context.Context, channel, eventType string, payload any) {
	evt := domain.NewEvent(eventType, s.now(), payload)
	if err := s.bus.Publish(ctx, channel, evt.Encode()); err != nil {
		s.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}
