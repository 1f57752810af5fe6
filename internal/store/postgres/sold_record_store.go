package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galleria-labs/galleria/internal/domain"
)

// SoldRecordStore implements domain.SoldRecordStore using PostgreSQL. It
// archives each group's sold records and the per-member revenue splits.
type SoldRecordStore struct {
	pool *pgxpool.Pool
}

// NewSoldRecordStore creates a new SoldRecordStore backed by the given pool.
func NewSoldRecordStore(pool *pgxpool.Pool) *SoldRecordStore {
	return &SoldRecordStore{pool: pool}
}

// Insert archives one sold record for a group.
func (s *SoldRecordStore) Insert(ctx context.Context, group domain.Account, rec domain.SoldRecord) error {
	const query = `
		INSERT INTO sold_records (group_account, record_id, listing_id, price, distribute_state, sold_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (group_account, record_id) DO UPDATE SET
			distribute_state = EXCLUDED.distribute_state`
	_, err := s.pool.Exec(ctx, query,
		group.Hex(), rec.ID, rec.ListingID, rec.Price, string(rec.DistributeState), rec.SoldAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert sold record %s/%d: %w", group.Hex(), rec.ID, err)
	}
	return nil
}

// InsertDistribution archives one member's share of a sold record.
func (s *SoldRecordStore) InsertDistribution(ctx context.Context, group domain.Account, recordID int, member domain.Account, amount int64) error {
	const query = `
		INSERT INTO revenue_distributions (group_account, record_id, member, amount)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (group_account, record_id, member) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, group.Hex(), recordID, member.Hex(), amount)
	if err != nil {
		return fmt.Errorf("postgres: insert distribution %s/%d: %w", group.Hex(), recordID, err)
	}
	return nil
}

// ListByGroup returns a group's archived sold records, oldest first.
func (s *SoldRecordStore) ListByGroup(ctx context.Context, group domain.Account, opts domain.ListOpts) ([]domain.SoldRecord, error) {
	const query = `
		SELECT record_id, listing_id, price, distribute_state, sold_at
		FROM sold_records WHERE group_account = $1
		ORDER BY record_id ASC
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, group.Hex(), pageLimit(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sold records %s: %w", group.Hex(), err)
	}
	defer rows.Close()

	var out []domain.SoldRecord
	for rows.Next() {
		var rec domain.SoldRecord
		var state string
		if err := rows.Scan(&rec.ID, &rec.ListingID, &rec.Price, &state, &rec.SoldAt); err != nil {
			return nil, fmt.Errorf("postgres: scan sold record: %w", err)
		}
		rec.DistributeState = domain.DistributeState(state)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sold records rows: %w", err)
	}
	return out, nil
}

// SumPriceByGroup returns a group's lifetime archived proceeds.
func (s *SoldRecordStore) SumPriceByGroup(ctx context.Context, group domain.Account) (int64, error) {
	const query = `SELECT COALESCE(SUM(price), 0) FROM sold_records WHERE group_account = $1`
	var total int64
	if err := s.pool.QueryRow(ctx, query, group.Hex()).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: sum sold records %s: %w", group.Hex(), err)
	}
	return total, nil
}

// Compile-time interface check.
var _ domain.SoldRecordStore = (*SoldRecordStore)(nil)
