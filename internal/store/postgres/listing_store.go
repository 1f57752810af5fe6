package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galleria-labs/galleria/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. Rows mirror
// the engine-resident state for querying and reporting; the engine remains
// the source of truth.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Upsert inserts or fully replaces the archived listing row.
func (s *ListingStore) Upsert(ctx context.Context, rec domain.ListingRecord) error {
	const query = `
		INSERT INTO listings (
			id, seller, collection, token_id, mechanism, status, listed_at,
			start_price, reserve_price, end_price, ask_price, duration_sec,
			end_time, claimed
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			end_time   = EXCLUDED.end_time,
			claimed    = EXCLUDED.claimed,
			updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Seller.Hex(), rec.Collection.Hex(), rec.TokenID,
		string(rec.Mechanism), string(rec.Status), rec.ListedAt,
		rec.StartPrice, rec.ReservePrice, rec.EndPrice, rec.AskPrice,
		rec.DurationSec, rec.EndTime, rec.Claimed,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %d: %w", rec.ID, err)
	}
	return nil
}

// InsertBid archives one accepted bid.
func (s *ListingStore) InsertBid(ctx context.Context, bid domain.Bid) error {
	const query = `
		INSERT INTO bids (listing_id, bid_id, bidder, amount, status, placed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (listing_id, bid_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		bid.ListingID, bid.ID, bid.Bidder.Hex(), bid.Amount, string(bid.Status), bid.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bid %d/%d: %w", bid.ListingID, bid.ID, err)
	}
	return nil
}

// UpdateBidStatus records a bid lifecycle transition (outbid, refunded, won).
func (s *ListingStore) UpdateBidStatus(ctx context.Context, listingID int64, bidID int, status domain.BidStatus) error {
	const query = `UPDATE bids SET status = $3 WHERE listing_id = $1 AND bid_id = $2`
	tag, err := s.pool.Exec(ctx, query, listingID, bidID, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update bid %d/%d: %w", listingID, bidID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update bid %d/%d: %w", listingID, bidID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one archived listing with its bids.
func (s *ListingStore) GetByID(ctx context.Context, id int64) (domain.ListingRecord, error) {
	const query = `
		SELECT id, seller, collection, token_id, mechanism, status, listed_at,
		       start_price, reserve_price, end_price, ask_price, duration_sec,
		       end_time, claimed
		FROM listings WHERE id = $1`
	rec, err := scanListing(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ListingRecord{}, fmt.Errorf("postgres: listing %d: %w", id, domain.ErrNotFound)
		}
		return domain.ListingRecord{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}

	bids, err := s.listBids(ctx, id)
	if err != nil {
		return domain.ListingRecord{}, err
	}
	rec.Bids = bids
	return rec, nil
}

// ListBySeller returns a seller's archived listings, newest first. Bids are
// not populated.
func (s *ListingStore) ListBySeller(ctx context.Context, seller domain.Account, opts domain.ListOpts) ([]domain.ListingRecord, error) {
	const query = `
		SELECT id, seller, collection, token_id, mechanism, status, listed_at,
		       start_price, reserve_price, end_price, ask_price, duration_sec,
		       end_time, claimed
		FROM listings WHERE seller = $1
		ORDER BY listed_at DESC
		LIMIT $2 OFFSET $3`
	return s.list(ctx, query, seller.Hex(), pageLimit(opts), opts.Offset)
}

// ListByStatus returns archived listings in one lifecycle state, newest
// first. Bids are not populated.
func (s *ListingStore) ListByStatus(ctx context.Context, status domain.ListingStatus, opts domain.ListOpts) ([]domain.ListingRecord, error) {
	const query = `
		SELECT id, seller, collection, token_id, mechanism, status, listed_at,
		       start_price, reserve_price, end_price, ask_price, duration_sec,
		       end_time, claimed
		FROM listings WHERE status = $1
		ORDER BY listed_at DESC
		LIMIT $2 OFFSET $3`
	return s.list(ctx, query, string(status), pageLimit(opts), opts.Offset)
}

func (s *ListingStore) list(ctx context.Context, query string, args ...any) ([]domain.ListingRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.ListingRecord
	for rows.Next() {
		rec, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return out, nil
}

func (s *ListingStore) listBids(ctx context.Context, listingID int64) ([]domain.Bid, error) {
	const query = `
		SELECT listing_id, bid_id, bidder, amount, status, placed_at
		FROM bids WHERE listing_id = $1
		ORDER BY bid_id ASC`
	rows, err := s.pool.Query(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %d: %w", listingID, err)
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		var b domain.Bid
		var bidder, status string
		if err := rows.Scan(&b.ListingID, &b.ID, &bidder, &b.Amount, &status, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		b.Bidder = domain.HexToAccount(bidder)
		b.Status = domain.BidStatus(status)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return out, nil
}

// rowScanner abstracts pgx.Row and pgx.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (domain.ListingRecord, error) {
	var rec domain.ListingRecord
	var seller, collection, mechanism, status string
	err := row.Scan(
		&rec.ID, &seller, &collection, &rec.TokenID, &mechanism, &status,
		&rec.ListedAt, &rec.StartPrice, &rec.ReservePrice, &rec.EndPrice,
		&rec.AskPrice, &rec.DurationSec, &rec.EndTime, &rec.Claimed,
	)
	if err != nil {
		return domain.ListingRecord{}, err
	}
	rec.Seller = domain.HexToAccount(seller)
	rec.Collection = domain.HexToAccount(collection)
	rec.Mechanism = domain.Mechanism(mechanism)
	rec.Status = domain.ListingStatus(status)
	return rec, nil
}

// pageLimit clamps a ListOpts limit to a sane default.
func pageLimit(opts domain.ListOpts) int {
	if opts.Limit <= 0 || opts.Limit > 500 {
		return 100
	}
	return opts.Limit
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
