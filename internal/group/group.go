// Package group implements the per-collective governance and bookkeeping
// entity: membership, the director role, the two multisig transaction
// queues, sub-collection minting, listing delegation, and the revenue
// distribution ledger.
package group

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/galleria-labs/galleria/internal/collection"
	"github.com/galleria-labs/galleria/internal/domain"
)

// Marketplace is the slice of the marketplace engine a group drives. Only a
// group may create, cancel, end, or resolve listings for its own tokens.
type Marketplace interface {
	ListEnglish(seller domain.Account, token domain.TokenRef, startPrice, reservePrice int64, duration time.Duration) (int64, error)
	ListDutch(seller domain.Account, token domain.TokenRef, startPrice, endPrice int64, duration time.Duration) (int64, error)
	ListOffering(seller domain.Account, token domain.TokenRef, askPrice int64) (int64, error)
	Cancel(listingID int64, caller domain.Account) error
	EndEnglish(listingID int64, caller domain.Account) error
	ResolveOffering(listingID int64, bidID int, caller domain.Account) error
	Sweep(group domain.Account) ([]domain.SettledSale, error)
	ActiveListingForToken(token domain.TokenRef) (int64, bool)
}

// capability names every privileged group operation. The required role per
// capability is table-driven so authorization lives in one place instead of
// ad hoc conditionals per entry point.
type capability string

const (
	capMint         capability = "mint"
	capBurn         capability = "burn"
	capList         capability = "list"
	capPull         capability = "pull"
	capSubmitTx     capability = "submit_tx"
	capVoteTx       capability = "vote_tx"
	capExecuteTx    capability = "execute_tx"
	capAddMember    capability = "add_member"
	capRemoveMember capability = "remove_member"
)

type role int

const (
	roleMember role = iota
	roleDirector
)

var requiredRole = map[capability]role{
	capMint:         roleMember,
	capBurn:         roleDirector,
	capList:         roleMember,
	capPull:         roleMember,
	capSubmitTx:     roleMember,
	capVoteTx:       roleMember,
	capExecuteTx:    roleMember,
	capAddMember:    roleDirector,
	capRemoveMember: roleDirector,
}

// Params carries everything needed to construct a Group. The factory is the
// only caller.
type Params struct {
	Name        string
	Description string
	Members     []domain.Account
	Quorum      int

	Ledger    domain.PaymentLedger
	Market    Marketplace
	Fees      domain.FeeCollector
	Allocator domain.Allocator
	Logger    *slog.Logger
}

// Group is a creator collective: a governance entity owning one or more
// sub-collections, selling through the marketplace, and distributing
// proceeds to its members. All state is append-only history plus balances.
type Group struct {
	mu sync.Mutex

	name        string
	description string
	address     domain.Account

	ledger domain.PaymentLedger
	market Marketplace
	fees   domain.FeeCollector
	alloc  domain.Allocator
	now    func() time.Time
	logger *slog.Logger

	members  []domain.Account
	isMember map[domain.Account]bool
	director domain.Account
	quorum   int

	collections []domain.Collection
	byAddress   map[domain.Account]domain.Collection
	tokens      []domain.TokenRef // local token index -> collection token

	directorTxs []*domain.MultisigTransaction
	offeringTxs []*domain.MultisigTransaction

	soldRecords   []domain.SoldRecord
	memberBalance map[domain.Account]int64
	revenue       map[domain.Account]map[int]int64 // member -> sold record id -> amount
}

// New validates the initial member set and quorum and returns a Group with a
// freshly derived ledger address.
func New(p Params) (*Group, error) {
	if len(p.Members) == 0 {
		return nil, fmt.Errorf("group: at least one member required")
	}
	seen := make(map[domain.Account]bool, len(p.Members))
	for _, m := range p.Members {
		if seen[m] {
			return nil, fmt.Errorf("group: duplicate member %s: %w", m.Hex(), domain.ErrAlreadyExists)
		}
		seen[m] = true
	}
	if p.Quorum < 1 || p.Quorum > len(p.Members) {
		return nil, fmt.Errorf("group: quorum %d for %d members: %w", p.Quorum, len(p.Members), domain.ErrQuorumUnsatisfiable)
	}
	alloc := p.Allocator
	if alloc == nil {
		alloc = EqualSplit{}
	}

	members := make([]domain.Account, len(p.Members))
	copy(members, p.Members)

	return &Group{
		name:          p.Name,
		description:   p.Description,
		address:       domain.NewAccount(),
		ledger:        p.Ledger,
		market:        p.Market,
		fees:          p.Fees,
		alloc:         alloc,
		now:           time.Now,
		logger:        p.Logger.With(slog.String("component", "group"), slog.String("group", p.Name)),
		members:       members,
		isMember:      seen,
		quorum:        p.Quorum,
		byAddress:     make(map[domain.Account]domain.Collection),
		memberBalance: make(map[domain.Account]int64),
		revenue:       make(map[domain.Account]map[int]int64),
	}, nil
}

// WithClock overrides the group's time source.
func (g *Group) WithClock(now func() time.Time) *Group {
	g.now = now
	return g
}

// authorize checks the caller against the capability table. Callers hold
// g.mu.
func (g *Group) authorize(caller domain.Account, cap capability) error {
	switch requiredRole[cap] {
	case roleDirector:
		if caller != g.director || g.director == domain.ZeroAccount {
			return fmt.Errorf("group: %s: %w", cap, domain.ErrNotDirector)
		}
	default:
		if !g.isMember[caller] {
			return fmt.Errorf("group: %s: %w", cap, domain.ErrNotMember)
		}
	}
	return nil
}

// Address returns the group's ledger account.
func (g *Group) Address() domain.Account { return g.address }

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Description returns the group description.
func (g *Group) Description() string { return g.description }

// Quorum returns the confirmation count required to execute a transaction.
// Fixed at creation.
func (g *Group) Quorum() int { return g.quorum }

// Director returns the current director, or the zero account when unset.
func (g *Group) Director() domain.Account {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.director
}

// Members returns a copy of the ordered member list.
func (g *Group) Members() []domain.Account {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Account, len(g.members))
	copy(out, g.members)
	return out
}

// IsMember reports membership.
func (g *Group) IsMember(account domain.Account) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isMember[account]
}

// AddMember admits a new unique member. Director only. New members share in
// every distribution that happens after they join, including sales settled
// before.
func (g *Group) AddMember(caller, account domain.Account) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capAddMember); err != nil {
		return err
	}
	if g.isMember[account] {
		return fmt.Errorf("group: add member %s: %w", account.Hex(), domain.ErrAlreadyExists)
	}
	g.members = append(g.members, account)
	g.isMember[account] = true
	g.logger.Info("member added", slog.String("member", account.Hex()))
	return nil
}

// RemoveMember removes a member. Director only; the director cannot be
// removed, and the remaining member count must still satisfy the quorum.
// Any balance already credited to the removed account stays withdrawable.
func (g *Group) RemoveMember(caller, account domain.Account) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capRemoveMember); err != nil {
		return err
	}
	if !g.isMember[account] {
		return fmt.Errorf("group: remove member %s: %w", account.Hex(), domain.ErrNotFound)
	}
	if account == g.director {
		return fmt.Errorf("group: remove director: %w", domain.ErrUnauthorized)
	}
	if len(g.members)-1 < g.quorum {
		return fmt.Errorf("group: remove member %s: %w", account.Hex(), domain.ErrQuorumUnsatisfiable)
	}
	for i, m := range g.members {
		if m == account {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	delete(g.isMember, account)
	g.logger.Info("member removed", slog.String("member", account.Hex()))
	return nil
}

// MintNew creates a new sub-collection and mints its first token. Returns
// the group-local token index and the new collection. Members only; the
// factory mint fee is charged up front.
func (g *Group) MintNew(caller domain.Account, uri, name, symbol, description string) (int, domain.Collection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capMint); err != nil {
		return 0, nil, err
	}
	if uri == "" {
		return 0, nil, fmt.Errorf("group: mint: empty token uri")
	}
	if err := g.fees.ChargeMintFee(g.address); err != nil {
		return 0, nil, fmt.Errorf("group: mint fee: %w", err)
	}

	col := collection.New(name, symbol, description)
	tokenID, err := col.Mint(uri, g.address)
	if err != nil {
		return 0, nil, fmt.Errorf("group: mint: %w", err)
	}
	g.collections = append(g.collections, col)
	g.byAddress[col.Address()] = col
	idx := len(g.tokens)
	g.tokens = append(g.tokens, domain.TokenRef{Collection: col, TokenID: tokenID})

	g.logger.Info("collection created",
		slog.String("collection", col.Address().Hex()),
		slog.String("name", name),
		slog.Int("token_index", idx),
	)
	return idx, col, nil
}

// Mint adds a token to one of the group's existing sub-collections.
func (g *Group) Mint(caller domain.Account, uri string, collectionAddr domain.Account) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capMint); err != nil {
		return 0, err
	}
	col, ok := g.byAddress[collectionAddr]
	if !ok {
		return 0, fmt.Errorf("group: mint into %s: %w", collectionAddr.Hex(), domain.ErrNotFound)
	}
	if uri == "" {
		return 0, fmt.Errorf("group: mint: empty token uri")
	}
	if err := g.fees.ChargeMintFee(g.address); err != nil {
		return 0, fmt.Errorf("group: mint fee: %w", err)
	}
	tokenID, err := col.Mint(uri, g.address)
	if err != nil {
		return 0, fmt.Errorf("group: mint: %w", err)
	}
	idx := len(g.tokens)
	g.tokens = append(g.tokens, domain.TokenRef{Collection: col, TokenID: tokenID})
	return idx, nil
}

// Burn destroys an unlisted, unsold token. Director only; the factory burn
// fee is charged. The token index is retired but never reused.
func (g *Group) Burn(caller domain.Account, tokenIndex int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capBurn); err != nil {
		return err
	}
	ref, err := g.token(tokenIndex)
	if err != nil {
		return err
	}
	if _, listed := g.market.ActiveListingForToken(ref); listed {
		return fmt.Errorf("group: burn token %d: %w", tokenIndex, domain.ErrTokenListed)
	}
	owner, err := ref.Collection.OwnerOf(ref.TokenID)
	if err != nil {
		return fmt.Errorf("group: burn token %d: %w", tokenIndex, err)
	}
	if owner != g.address {
		return fmt.Errorf("group: burn token %d not owned by group: %w", tokenIndex, domain.ErrUnauthorized)
	}
	if err := g.fees.ChargeBurnFee(g.address); err != nil {
		return fmt.Errorf("group: burn fee: %w", err)
	}
	if err := ref.Collection.Burn(ref.TokenID); err != nil {
		return fmt.Errorf("group: burn token %d: %w", tokenIndex, err)
	}
	g.tokens[tokenIndex] = domain.TokenRef{}
	return nil
}

// token resolves a group-local token index. Callers hold g.mu.
func (g *Group) token(tokenIndex int) (domain.TokenRef, error) {
	if tokenIndex < 0 || tokenIndex >= len(g.tokens) || g.tokens[tokenIndex].Collection == nil {
		return domain.TokenRef{}, fmt.Errorf("group: token %d: %w", tokenIndex, domain.ErrNotFound)
	}
	return g.tokens[tokenIndex], nil
}

// Token returns the collection reference behind a group-local token index.
func (g *Group) Token(tokenIndex int) (domain.TokenRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token(tokenIndex)
}

// TokenCount returns the number of token indexes ever issued, including
// burned ones.
func (g *Group) TokenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tokens)
}

// Collections returns the group's sub-collections in creation order.
func (g *Group) Collections() []domain.Collection {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Collection, len(g.collections))
	copy(out, g.collections)
	return out
}

// ListToEnglishAuction lists a group token on an English auction.
func (g *Group) ListToEnglishAuction(caller domain.Account, tokenIndex int, startPrice, reservePrice int64, duration time.Duration) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capList); err != nil {
		return 0, err
	}
	ref, err := g.token(tokenIndex)
	if err != nil {
		return 0, err
	}
	return g.market.ListEnglish(g.address, ref, startPrice, reservePrice, duration)
}

// ListToDutchAuction lists a group token on a Dutch auction.
func (g *Group) ListToDutchAuction(caller domain.Account, tokenIndex int, startPrice, endPrice int64, duration time.Duration) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capList); err != nil {
		return 0, err
	}
	ref, err := g.token(tokenIndex)
	if err != nil {
		return 0, err
	}
	return g.market.ListDutch(g.address, ref, startPrice, endPrice, duration)
}

// ListToOfferingSale lists a group token for open offers.
func (g *Group) ListToOfferingSale(caller domain.Account, tokenIndex int, askPrice int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capList); err != nil {
		return 0, err
	}
	ref, err := g.token(tokenIndex)
	if err != nil {
		return 0, err
	}
	return g.market.ListOffering(g.address, ref, askPrice)
}

// CancelListing cancels a listing with no recorded bids.
func (g *Group) CancelListing(caller domain.Account, listingID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capList); err != nil {
		return err
	}
	return g.market.Cancel(listingID, g.address)
}

// EndEnglishAuction ends an expired English auction.
func (g *Group) EndEnglishAuction(caller domain.Account, listingID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorize(caller, capList); err != nil {
		return err
	}
	return g.market.EndEnglish(listingID, g.address)
}
