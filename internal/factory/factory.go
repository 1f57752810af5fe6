// Package factory instantiates group/collection pairs, registers them with
// the marketplace, and collects the platform's flat mint and burn fees.
package factory

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/galleria-labs/galleria/internal/domain"
	"github.com/galleria-labs/galleria/internal/group"
	"github.com/galleria-labs/galleria/internal/market"
)

// Factory creates groups and accrues mint/burn fees for the platform.
type Factory struct {
	mu sync.Mutex

	ledger   domain.PaymentLedger
	market   *market.Marketplace
	platform domain.Account
	address  domain.Account // fee collection account
	mintFee  int64
	burnFee  int64
	logger   *slog.Logger

	groups    []*group.Group
	byAddress map[domain.Account]*group.Group

	feeBalance int64
}

// New creates a Factory charging the given flat fees per mint and burn.
func New(ledger domain.PaymentLedger, m *market.Marketplace, platform domain.Account, mintFee, burnFee int64, logger *slog.Logger) (*Factory, error) {
	if mintFee < 0 || burnFee < 0 {
		return nil, fmt.Errorf("factory: negative fee: %w", domain.ErrInvalidAmount)
	}
	return &Factory{
		ledger:    ledger,
		market:    m,
		platform:  platform,
		address:   domain.NewAccount(),
		mintFee:   mintFee,
		burnFee:   burnFee,
		logger:    logger.With(slog.String("component", "factory")),
		byAddress: make(map[domain.Account]*group.Group),
	}, nil
}

// Address returns the factory's fee collection account.
func (f *Factory) Address() domain.Account { return f.address }

// CreateGroup instantiates a new group with the given initial members and
// quorum and registers it as an authorized marketplace seller.
func (f *Factory) CreateGroup(name, description string, members []domain.Account, quorum int) (*group.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, err := group.New(group.Params{
		Name:        name,
		Description: description,
		Members:     members,
		Quorum:      quorum,
		Ledger:      f.ledger,
		Market:      f.market,
		Fees:        f,
		Logger:      f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("factory: create group: %w", err)
	}
	f.market.RegisterSeller(g.Address(), g)
	f.groups = append(f.groups, g)
	f.byAddress[g.Address()] = g

	f.logger.Info("group created",
		slog.String("group", g.Address().Hex()),
		slog.String("name", name),
		slog.Int("members", len(members)),
		slog.Int("quorum", quorum),
	)
	return g, nil
}

// GroupCount returns the number of groups created.
func (f *Factory) GroupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.groups)
}

// GroupAt returns the i-th created group.
func (f *Factory) GroupAt(i int) (*group.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.groups) {
		return nil, fmt.Errorf("factory: group %d: %w", i, domain.ErrNotFound)
	}
	return f.groups[i], nil
}

// GroupByAddress resolves a group by its ledger account.
func (f *Factory) GroupByAddress(addr domain.Account) (*group.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.byAddress[addr]
	if !ok {
		return nil, fmt.Errorf("factory: group %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return g, nil
}

// Groups returns every created group in creation order.
func (f *Factory) Groups() []*group.Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*group.Group, len(f.groups))
	copy(out, f.groups)
	return out
}

// ChargeMintFee moves the flat mint fee from the group account to the
// factory. A zero fee is a no-op.
func (f *Factory) ChargeMintFee(groupAddr domain.Account) error {
	return f.charge(groupAddr, f.mintFee)
}

// ChargeBurnFee moves the flat burn fee from the group account to the
// factory. A zero fee is a no-op.
func (f *Factory) ChargeBurnFee(groupAddr domain.Account) error {
	return f.charge(groupAddr, f.burnFee)
}

func (f *Factory) charge(groupAddr domain.Account, fee int64) error {
	if fee == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ledger.Transfer(groupAddr, f.address, fee); err != nil {
		return fmt.Errorf("factory: charge fee: %w", err)
	}
	f.feeBalance += fee
	return nil
}

// FeeBalance reports the accumulated, unswept fee balance.
func (f *Factory) FeeBalance() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeBalance
}

// Withdraw sweeps the accumulated fees to the platform account. Only the
// platform account may call it.
func (f *Factory) Withdraw(caller domain.Account) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.platform {
		return 0, fmt.Errorf("factory: withdraw: %w", domain.ErrUnauthorized)
	}
	if f.feeBalance == 0 {
		return 0, fmt.Errorf("factory: withdraw: %w", domain.ErrZeroBalance)
	}
	amount := f.feeBalance
	if err := f.ledger.Transfer(f.address, f.platform, amount); err != nil {
		return 0, fmt.Errorf("factory: withdraw: %w", err)
	}
	f.feeBalance = 0
	return amount, nil
}

var _ domain.FeeCollector = (*Factory)(nil)
