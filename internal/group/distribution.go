package group

import (
	"fmt"
	"log/slog"

	"github.com/galleria-labs/galleria/internal/domain"
)

// EqualSplit allocates proceeds evenly across the member list. The integer
// remainder goes to the earliest members, one unit each, so the allocation
// always sums to exactly the total.
type EqualSplit struct{}

// Allocate implements domain.Allocator.
func (EqualSplit) Allocate(total int64, members []domain.Account) map[domain.Account]int64 {
	out := make(map[domain.Account]int64, len(members))
	if len(members) == 0 {
		return out
	}
	n := int64(len(members))
	base := total / n
	rem := total % n
	for i, m := range members {
		share := base
		if int64(i) < rem {
			share++
		}
		out[m] = share
	}
	return out
}

// PullFromMarketplace sweeps the seller share the marketplace has accrued for
// this group since the last pull, creates one sold record per settled sale,
// and immediately distributes each record's proceeds across the current
// member list. Returns the newly created records.
func (g *Group) PullFromMarketplace(caller domain.Account) ([]domain.SoldRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capPull); err != nil {
		return nil, err
	}
	sales, err := g.market.Sweep(g.address)
	if err != nil {
		return nil, fmt.Errorf("group: pull from marketplace: %w", err)
	}

	records := make([]domain.SoldRecord, 0, len(sales))
	for _, sale := range sales {
		rec := domain.SoldRecord{
			ID:              len(g.soldRecords),
			ListingID:       sale.ListingID,
			Price:           sale.SellerShare,
			DistributeState: domain.DistributePending,
			SoldAt:          sale.SettledAt,
		}
		g.soldRecords = append(g.soldRecords, rec)
		g.distribute(&g.soldRecords[rec.ID])
		records = append(records, g.soldRecords[rec.ID])
	}
	return records, nil
}

// distribute fans a pending record's proceeds out to the members on file at
// distribution time. The split is immutable afterwards. Callers hold g.mu.
func (g *Group) distribute(rec *domain.SoldRecord) {
	shares := g.alloc.Allocate(rec.Price, g.members)
	for member, share := range shares {
		g.memberBalance[member] += share
		byRecord, ok := g.revenue[member]
		if !ok {
			byRecord = make(map[int]int64)
			g.revenue[member] = byRecord
		}
		byRecord[rec.ID] = share
	}
	rec.DistributeState = domain.Distributed

	g.logger.Info("revenue distributed",
		slog.Int("sold_record", rec.ID),
		slog.Int64("price", rec.Price),
		slog.Int("members", len(g.members)),
	)
}

// Balance returns the accrued, withdrawable balance of an account.
func (g *Group) Balance(account domain.Account) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.memberBalance[account]
}

// Withdraw pays out the caller's full accrued balance. Fails when the
// balance is zero. Former members keep access to balances credited before
// their removal.
func (g *Group) Withdraw(caller domain.Account) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	amount := g.memberBalance[caller]
	if amount == 0 {
		return 0, fmt.Errorf("group: withdraw: %w", domain.ErrZeroBalance)
	}
	if err := g.ledger.Transfer(g.address, caller, amount); err != nil {
		return 0, fmt.Errorf("group: withdraw: %w", err)
	}
	g.memberBalance[caller] = 0
	return amount, nil
}

// RevenueDistribution returns the amount allocated to a member for one sold
// record. Zero when the member had no share.
func (g *Group) RevenueDistribution(member domain.Account, recordID int) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revenue[member][recordID]
}

// SoldRecords returns a copy of the append-only sold record history.
func (g *Group) SoldRecords() []domain.SoldRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.SoldRecord, len(g.soldRecords))
	copy(out, g.soldRecords)
	return out
}

// SoldRecord returns one sold record by id.
func (g *Group) SoldRecord(id int) (domain.SoldRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id < 0 || id >= len(g.soldRecords) {
		return domain.SoldRecord{}, fmt.Errorf("group: sold record %d: %w", id, domain.ErrNotFound)
	}
	return g.soldRecords[id], nil
}
