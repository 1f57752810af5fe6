package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/galleria-labs/galleria/internal/blob/s3"
	"github.com/galleria-labs/galleria/internal/domain"
	"github.com/galleria-labs/galleria/internal/factory"
	"github.com/galleria-labs/galleria/internal/group"
	"github.com/galleria-labs/galleria/internal/notify"
)

// MetadataPublisher maintains the public token metadata documents: uploaded
// at mint time, served back on demand, and removed when a token is burned.
type MetadataPublisher interface {
	Publish(ctx context.Context, doc s3blob.MetadataDoc) (string, error)
	Fetch(ctx context.Context, collection string, tokenID int) (s3blob.MetadataDoc, error)
	Remove(ctx context.Context, collection string, tokenID int) error
}

// ListingMirror propagates listings opened through group delegation to the
// read side (archive, cache, signal bus).
type ListingMirror interface {
	ListingCreated(ctx context.Context, id int64)
	ListingCanceled(ctx context.Context, id int64)
}

// GroupService drives group lifecycle through the factory and mirrors
// settled revenue into the Postgres archive. Like the listing service, the
// in-memory engine is the source of truth and read-side failures never roll
// back an operation.
type GroupService struct {
	factory  *factory.Factory
	sales    domain.SoldRecordStore
	bus      domain.SignalBus
	audit    domain.AuditStore
	metadata MetadataPublisher
	mirror   ListingMirror
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewGroupService creates a GroupService with all required dependencies.
func NewGroupService(
	f *factory.Factory,
	sales domain.SoldRecordStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *GroupService {
	return &GroupService{
		factory: f,
		sales:   sales,
		bus:     bus,
		audit:   audit,
		logger:  logger.With(slog.String("component", "group_service")),
		now:     time.Now,
	}
}

// WithMetadataPublisher attaches a publisher so freshly minted tokens get a
// public metadata document. Without one, mints skip publication.
func (s *GroupService) WithMetadataPublisher(p MetadataPublisher) *GroupService {
	s.metadata = p
	return s
}

// WithListingMirror attaches the listing read-side fan-out so delegated
// listings reach the archive, cache, and signal bus.
func (s *GroupService) WithListingMirror(m ListingMirror) *GroupService {
	s.mirror = m
	return s
}

// WithNotifier attaches an operator notifier for group events.
func (s *GroupService) WithNotifier(n Notifier) *GroupService {
	s.notifier = n
	return s
}

// WithClock overrides the timestamp source. Test hook.
func (s *GroupService) WithClock(now func() time.Time) *GroupService {
	s.now = now
	return s
}

// CreateGroup registers a new creator collective.
func (s *GroupService) CreateGroup(ctx context.Context, name, description string, members []domain.Account, quorum int) (*group.Group, error) {
	g, err := s.factory.CreateGroup(name, description, members, quorum)
	if err != nil {
		return nil, fmt.Errorf("group_service: create group: %w", err)
	}

	s.publish(ctx, domain.ChannelGroups, "group_created", map[string]any{
		"address": g.Address().Hex(),
		"name":    name,
		"members": len(members),
		"quorum":  quorum,
	})
	s.auditLog(ctx, "group_created", map[string]any{
		"group":   g.Address().Hex(),
		"name":    name,
		"members": len(members),
		"quorum":  quorum,
	})

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, notify.EventGroupCreated,
			"Group created",
			fmt.Sprintf("%s (%s) with %d members, quorum %d", name, g.Address().Hex(), len(members), quorum),
		); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.String("group", g.Address().Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return g, nil
}

// Group resolves a group by its ledger address.
func (s *GroupService) Group(addr domain.Account) (*group.Group, error) {
	g, err := s.factory.GroupByAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("group_service: group %s: %w", addr.Hex(), err)
	}
	return g, nil
}

// Groups returns every group the factory has created.
func (s *GroupService) Groups() []*group.Group {
	return s.factory.Groups()
}

// MintNew mints a token into a brand-new collection owned by the group and
// publishes its metadata document.
func (s *GroupService) MintNew(ctx context.Context, groupAddr, caller domain.Account, uri, name, symbol, description string) (int, domain.Collection, error) {
	g, err := s.Group(groupAddr)
	if err != nil {
		return 0, nil, err
	}

	tokenIdx, col, err := g.MintNew(caller, uri, name, symbol, description)
	if err != nil {
		return 0, nil, fmt.Errorf("group_service: mint new: %w", err)
	}

	s.publishTokenMetadata(ctx, g, tokenIdx, col)
	s.auditLog(ctx, "token_minted", map[string]any{
		"group":      groupAddr.Hex(),
		"collection": col.Address().Hex(),
		"token_idx":  tokenIdx,
		"caller":     caller.Hex(),
	})
	return tokenIdx, col, nil
}

// Mint mints a token into one of the group's existing collections.
func (s *GroupService) Mint(ctx context.Context, groupAddr, caller domain.Account, uri string, collectionAddr domain.Account) (int, error) {
	g, err := s.Group(groupAddr)
	if err != nil {
		return 0, err
	}

	tokenIdx, err := g.Mint(caller, uri, collectionAddr)
	if err != nil {
		return 0, fmt.Errorf("group_service: mint: %w", err)
	}

	for _, col := range g.Collections() {
		if col.Address() == collectionAddr {
			s.publishTokenMetadata(ctx, g, tokenIdx, col)
			break
		}
	}
	s.auditLog(ctx, "token_minted", map[string]any{
		"group":      groupAddr.Hex(),
		"collection": collectionAddr.Hex(),
		"token_idx":  tokenIdx,
		"caller":     caller.Hex(),
	})
	return tokenIdx, nil
}

// Burn retires one of the group's tokens. Director only.
func (s *GroupService) Burn(ctx context.Context, groupAddr, caller domain.Account, tokenIndex int) error {
	g, err := s.Group(groupAddr)
	if err != nil {
		return err
	}

	// Resolve the token before it disappears so the metadata document can
	// be cleaned up afterwards.
	token, tokenErr := g.Token(tokenIndex)

	if err := g.Burn(caller, tokenIndex); err != nil {
		return fmt.Errorf("group_service: burn: %w", err)
	}

	if s.metadata != nil && tokenErr == nil {
		if err := s.metadata.Remove(ctx, token.CollectionAddress().Hex(), token.TokenID); err != nil {
			s.logger.WarnContext(ctx, "metadata remove failed",
				slog.Int("token_id", token.TokenID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.auditLog(ctx, "token_burned", map[string]any{
		"group":     groupAddr.Hex(),
		"token_idx": tokenIndex,
		"caller":    caller.Hex(),
	})
	return nil
}

// TokenMetadata serves back the published metadata document for one of the
// group's tokens.
func (s *GroupService) TokenMetadata(ctx context.Context, groupAddr domain.Account, tokenIndex int) (s3blob.MetadataDoc, error) {
	g, err := s.Group(groupAddr)
	if err != nil {
		return s3blob.MetadataDoc{}, err
	}
	token, err := g.Token(tokenIndex)
	if err != nil {
		return s3blob.MetadataDoc{}, fmt.Errorf("group_service: token metadata: %w", err)
	}
	if s.metadata == nil {
		return s3blob.MetadataDoc{}, fmt.Errorf("group_service: token metadata: %w", domain.ErrNotFound)
	}

	doc, err := s.metadata.Fetch(ctx, token.CollectionAddress().Hex(), token.TokenID)
	if err != nil {
		return s3blob.MetadataDoc{}, fmt.Errorf("group_service: token metadata: %w", err)
	}
	return doc, nil
}

// PullDistributions pulls the group's settled proceeds from the marketplace,
// distributes them to the members, and archives the records with their
// per-member splits.
func (s *GroupService) PullDistributions(ctx context.Context, groupAddr, caller domain.Account) ([]domain.SoldRecord, error) {
	g, err := s.Group(groupAddr)
	if err != nil {
		return nil, err
	}

	recs, err := g.PullFromMarketplace(caller)
	if err != nil {
		return nil, fmt.Errorf("group_service: pull distributions: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	members := g.Members()
	for _, rec := range recs {
		if err := s.sales.Insert(ctx, groupAddr, rec); err != nil {
			s.logger.WarnContext(ctx, "sold record archive failed",
				slog.String("group", groupAddr.Hex()),
				slog.Int("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, member := range members {
			amount := g.RevenueDistribution(member, rec.ID)
			if amount == 0 {
				continue
			}
			if err := s.sales.InsertDistribution(ctx, groupAddr, rec.ID, member, amount); err != nil {
				s.logger.WarnContext(ctx, "distribution archive failed",
					slog.String("group", groupAddr.Hex()),
					slog.Int("record_id", rec.ID),
					slog.String("member", member.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.publish(ctx, domain.ChannelSales, "revenue_distributed", map[string]any{
		"group":   groupAddr.Hex(),
		"records": len(recs),
	})
	s.auditLog(ctx, "revenue_distributed", map[string]any{
		"group":   groupAddr.Hex(),
		"records": len(recs),
		"caller":  caller.Hex(),
	})
	return recs, nil
}

// Withdraw pays out the caller's accrued distribution balance.
func (s *GroupService) Withdraw(ctx context.Context, groupAddr, caller domain.Account) (int64, error) {
	g, err := s.Group(groupAddr)
	if err != nil {
		return 0, err
	}

	amount, err := g.Withdraw(caller)
	if err != nil {
		return 0, fmt.Errorf("group_service: withdraw: %w", err)
	}

	s.auditLog(ctx, "member_withdrawal", map[string]any{
		"group":  groupAddr.Hex(),
		"member": caller.Hex(),
		"amount": amount,
	})
	return amount, nil
}

// ListEnglish opens an ascending auction for one of the group's tokens.
func (s *GroupService) ListEnglish(ctx context.Context, groupAddr, caller domain.Account, tokenIndex int, startPrice, reservePrice int64, duration time.Duration) (int64, error) {
	g, err := s.Group(groupAddr)
	if err != nil {
		return 0, err
	}

	id, err := g.ListToEnglishAuction(caller, tokenIndex, startPrice, reservePrice, duration)
	if err != nil {
		return 0, fmt.Errorf("group_service: list english: %w", err)
	}
	s.afterDelegatedListing(ctx, groupAddr, caller, id)
	return id, nil
}

// ListDutch opens a declining-price sale for one of the group's tokens.
func (s *GroupService) ListDutch(ctx context.Context, groupAddr, caller domain.Account, tokenIndex int, startPrice, endPrice int64, duration time.Duration) (int64, error) {
	g, err := s.Group(groupAddr)
	if err != nil {
		return 0, err
	}

	id, err := g.ListToDutchAuction(caller, tokenIndex, startPrice, endPrice, duration)
	if err != nil {
		return 0, fmt.Errorf("group_service: list dutch: %w", err)
	}
	s.afterDelegatedListing(ctx, groupAddr, caller, id)
	return id, nil
}

// ListOffering opens an offering sale for one of the group's tokens.
func (s *GroupService) ListOffering(ctx context.Context, groupAddr, caller domain.Account, tokenIndex int, askPrice int64) (int64, error) {
	g, err := s.Group(groupAddr)
	if err != nil {
		return 0, err
	}

	id, err := g.ListToOfferingSale(caller, tokenIndex, askPrice)
	if err != nil {
		return 0, fmt.Errorf("group_service: list offering: %w", err)
	}
	s.afterDelegatedListing(ctx, groupAddr, caller, id)
	return id, nil
}

// CancelListing retires one of the group's zero-bid listings.
func (s *GroupService) CancelListing(ctx context.Context, groupAddr, caller domain.Account, listingID int64) error {
	g, err := s.Group(groupAddr)
	if err != nil {
		return err
	}

	if err := g.CancelListing(caller, listingID); err != nil {
		return fmt.Errorf("group_service: cancel listing: %w", err)
	}
	if s.mirror != nil {
		s.mirror.ListingCanceled(ctx, listingID)
	}
	s.auditLog(ctx, "listing_canceled", map[string]any{
		"group":   groupAddr.Hex(),
		"caller":  caller.Hex(),
		"listing": listingID,
	})
	return nil
}

// afterDelegatedListing mirrors a freshly delegated listing to the read
// side and records the audit entry.
func (s *GroupService) afterDelegatedListing(ctx context.Context, groupAddr, caller domain.Account, id int64) {
	if s.mirror != nil {
		s.mirror.ListingCreated(ctx, id)
	}
	s.auditLog(ctx, "listing_created", map[string]any{
		"group":   groupAddr.Hex(),
		"caller":  caller.Hex(),
		"listing": id,
	})
}

// WithdrawFactoryFees sweeps accrued mint and burn fees to the platform
// account.
func (s *GroupService) WithdrawFactoryFees(ctx context.Context, caller domain.Account) (int64, error) {
	amount, err := s.factory.Withdraw(caller)
	if err != nil {
		return 0, fmt.Errorf("group_service: withdraw factory fees: %w", err)
	}

	s.auditLog(ctx, "factory_fees_withdrawn", map[string]any{
		"caller": caller.Hex(),
		"amount": amount,
	})
	return amount, nil
}

// SoldRecords returns the group's archived sold records.
func (s *GroupService) SoldRecords(ctx context.Context, groupAddr domain.Account, opts domain.ListOpts) ([]domain.SoldRecord, error) {
	recs, err := s.sales.ListByGroup(ctx, groupAddr, opts)
	if err != nil {
		return nil, fmt.Errorf("group_service: sold records: %w", err)
	}
	return recs, nil
}

// TotalRevenue returns the lifetime seller-share revenue archived for the
// group, across all pages of sold records.
func (s *GroupService) TotalRevenue(ctx context.Context, groupAddr domain.Account) (int64, error) {
	sum, err := s.sales.SumPriceByGroup(ctx, groupAddr)
	if err != nil {
		return 0, fmt.Errorf("group_service: total revenue: %w", err)
	}
	return sum, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (s *GroupService) publishTokenMetadata(ctx context.Context, g *group.Group, tokenIdx int, col domain.Collection) {
	if s.metadata == nil {
		return
	}

	token, err := g.Token(tokenIdx)
	if err != nil {
		s.logger.WarnContext(ctx, "metadata token lookup failed",
			slog.Int("token_idx", tokenIdx),
			slog.String("error", err.Error()),
		)
		return
	}

	doc, err := s3blob.DocFor(col, token.TokenID, s.now())
	if err != nil {
		s.logger.WarnContext(ctx, "metadata doc build failed",
			slog.Int("token_id", token.TokenID),
			slog.String("error", err.Error()),
		)
		return
	}
	if _, err := s.metadata.Publish(ctx, doc); err != nil {
		s.logger.WarnContext(ctx, "metadata publish failed",
			slog.Int("token_id", token.TokenID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GroupService) publish(ctx context.Context, channel, eventType string, payload any) {
	evt := domain.NewEvent(eventType, s.now(), payload)
	if err := s.bus.Publish(ctx, channel, evt.Encode()); err != nil {
		s.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GroupService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
