package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and optional time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore is the append-mostly archive of listings and bids. It is
// written after the marketplace engine commits, so the database mirrors the
// ledger-resident state for querying and reporting; it is never the source
// of truth for an operation's preconditions.
type ListingStore interface {
	Upsert(ctx context.Context, listing ListingRecord) error
	InsertBid(ctx context.Context, bid Bid) error
	UpdateBidStatus(ctx context.Context, listingID int64, bidID int, status BidStatus) error
	GetByID(ctx context.Context, id int64) (ListingRecord, error)
	ListBySeller(ctx context.Context, seller Account, opts ListOpts) ([]ListingRecord, error)
	ListByStatus(ctx context.Context, status ListingStatus, opts ListOpts) ([]ListingRecord, error)
}

// SoldRecordStore archives group sold records and their per-member splits.
type SoldRecordStore interface {
	Insert(ctx context.Context, group Account, rec SoldRecord) error
	InsertDistribution(ctx context.Context, group Account, recordID int, member Account, amount int64) error
	ListByGroup(ctx context.Context, group Account, opts ListOpts) ([]SoldRecord, error)
	SumPriceByGroup(ctx context.Context, group Account) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
