package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galleria-labs/galleria/internal/collection"
	"github.com/galleria-labs/galleria/internal/crypto"
	"github.com/galleria-labs/galleria/internal/domain"
	"github.com/galleria-labs/galleria/internal/ledger"
	"github.com/galleria-labs/galleria/internal/market"
)

// ---------------------------------------------------------------------------
// In-memory fakes for the read-side infrastructure.
// ---------------------------------------------------------------------------

type memListingStore struct {
	mu       sync.Mutex
	listings map[int64]domain.ListingRecord
	bids     map[int64]map[int]domain.Bid
}

func newMemListingStore() *memListingStore {
	return &memListingStore{
		listings: make(map[int64]domain.ListingRecord),
		bids:     make(map[int64]map[int]domain.Bid),
	}
}

func (m *memListingStore) Upsert(_ context.Context, rec domain.ListingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[rec.ID] = rec
	return nil
}

func (m *memListingStore) InsertBid(_ context.Context, bid domain.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bids[bid.ListingID] == nil {
		m.bids[bid.ListingID] = make(map[int]domain.Bid)
	}
	if _, ok := m.bids[bid.ListingID][bid.ID]; !ok {
		m.bids[bid.ListingID][bid.ID] = bid
	}
	return nil
}

func (m *memListingStore) UpdateBidStatus(_ context.Context, listingID int64, bidID int, status domain.BidStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bid, ok := m.bids[listingID][bidID]
	if !ok {
		return domain.ErrNotFound
	}
	bid.Status = status
	m.bids[listingID][bidID] = bid
	return nil
}

func (m *memListingStore) GetByID(_ context.Context, id int64) (domain.ListingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.listings[id]
	if !ok {
		return domain.ListingRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memListingStore) ListBySeller(_ context.Context, seller domain.Account, _ domain.ListOpts) ([]domain.ListingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ListingRecord
	for _, rec := range m.listings {
		if rec.Seller == seller {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memListingStore) ListByStatus(_ context.Context, status domain.ListingStatus, _ domain.ListOpts) ([]domain.ListingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ListingRecord
	for _, rec := range m.listings {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[int64]domain.ListingRecord
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[int64]domain.ListingRecord)}
}

func (m *memCache) Set(_ context.Context, rec domain.ListingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[rec.ID] = rec
	return nil
}

func (m *memCache) Get(_ context.Context, id int64) (domain.ListingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.entries[id]
	if !ok {
		return domain.ListingRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memCache) GetByToken(_ context.Context, col domain.Account, tokenID int) (domain.ListingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.entries {
		if rec.Collection == col && rec.TokenID == tokenID {
			return rec, nil
		}
	}
	return domain.ListingRecord{}, domain.ErrNotFound
}

func (m *memCache) Invalidate(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		published: make(map[string][][]byte),
		streams:   make(map[string][][]byte),
	}
}

func (m *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[channel] = append(m.published[channel], payload)
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (m *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[stream] = append(m.streams[stream], payload)
	return nil
}

func (m *memBus) StreamRead(_ context.Context, stream, _ string, _ int) ([]domain.StreamMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StreamMessage
	for i, p := range m.streams[stream] {
		out = append(out, domain.StreamMessage{ID: string(rune('1' + i)), Payload: p})
	}
	return out, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

func (m *memAudit) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Event
	}
	return out
}

type staticLimiter struct{ allowed bool }

func (l staticLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allowed, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type svcFixture struct {
	svc      *ListingService
	mkt      *market.Marketplace
	ledger   *ledger.Ledger
	store    *memListingStore
	cache    *memCache
	bus      *memBus
	audit    *memAudit
	notifier *recordingNotifier
	seller   domain.Account
	platform domain.Account
	token    domain.TokenRef
	now      time.Time
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()

	f := &svcFixture{
		store:    newMemListingStore(),
		cache:    newMemCache(),
		bus:      newMemBus(),
		audit:    &memAudit{},
		notifier: &recordingNotifier{},
		seller:   domain.NewAccount(),
		platform: domain.NewAccount(),
		now:      time.Unix(1_700_000_000, 0),
	}
	f.ledger = ledger.New()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	mkt, err := market.New(f.ledger, f.platform, 85, logger)
	require.NoError(t, err)
	f.mkt = mkt.WithClock(func() time.Time { return f.now })
	f.mkt.RegisterSeller(f.seller, nil)

	col := collection.New("Nature", "NAT", "landscapes")
	id, err := col.Mint("ipfs://token", f.seller)
	require.NoError(t, err)
	f.token = domain.TokenRef{Collection: col, TokenID: id}

	f.svc = NewListingService(f.mkt, f.store, f.cache, staticLimiter{allowed: true}, f.bus, f.audit, logger).
		WithNotifier(f.notifier).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *svcFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *svcFixture) fund(t *testing.T, bidder domain.Account, amount int64) {
	t.Helper()
	f.ledger.Issue(bidder, amount)
	require.NoError(t, f.ledger.Approve(bidder, f.mkt.EscrowAccount(), amount))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestListEnglishPropagates(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	id, err := f.svc.ListEnglish(ctx, f.seller, f.token, 200, 300, time.Hour)
	require.NoError(t, err)

	// Archived.
	rec, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusActive, rec.Status)
	require.Equal(t, domain.MechanismEnglish, rec.Mechanism)

	// Cached.
	cached, err := f.cache.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, rec.ID, cached.ID)

	// Announced.
	require.Len(t, f.bus.published[domain.ChannelListings], 1)
	var evt domain.Event
	require.NoError(t, json.Unmarshal(f.bus.published[domain.ChannelListings][0], &evt))
	require.Equal(t, "listing_created", evt.Type)

	// Audited.
	require.Contains(t, f.audit.events(), "listing_created")
}

func TestBidEnglishArchivesBids(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	id, err := f.svc.ListEnglish(ctx, f.seller, f.token, 200, 0, time.Hour)
	require.NoError(t, err)

	alice, bob := domain.NewAccount(), domain.NewAccount()
	f.fund(t, alice, 250)
	f.fund(t, bob, 300)

	_, err = f.svc.BidEnglish(ctx, id, alice, 250)
	require.NoError(t, err)
	_, err = f.svc.BidEnglish(ctx, id, bob, 300)
	require.NoError(t, err)

	// Both bids archived; the outbid one carries its final status.
	require.Len(t, f.store.bids[id], 2)
	require.Equal(t, domain.BidStatusOutbid, f.store.bids[id][0].Status)
	require.Equal(t, domain.BidStatusActive, f.store.bids[id][1].Status)

	require.Len(t, f.bus.published[domain.ChannelBids], 2)
}

func TestBidRateLimited(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	f.svc.limiter = staticLimiter{allowed: false}

	id, err := f.svc.ListEnglish(ctx, f.seller, f.token, 200, 0, time.Hour)
	require.NoError(t, err)

	alice := domain.NewAccount()
	f.fund(t, alice, 250)
	_, err = f.svc.BidEnglish(ctx, id, alice, 250)
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestEndEnglishJournalsSignedReceipt(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	signer, err := crypto.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", 137)
	require.NoError(t, err)
	f.svc.WithSigner(signer)

	id, err := f.svc.ListEnglish(ctx, f.seller, f.token, 200, 0, time.Hour)
	require.NoError(t, err)

	alice := domain.NewAccount()
	f.fund(t, alice, 400)
	_, err = f.svc.BidEnglish(ctx, id, alice, 400)
	require.NoError(t, err)

	f.advance(time.Hour + time.Second)
	require.NoError(t, f.svc.EndEnglish(ctx, id, f.seller))

	// One journal entry with a verifiable signature.
	entries := f.bus.streams[domain.StreamSettlements]
	require.Len(t, entries, 1)

	var evt domain.Event
	require.NoError(t, json.Unmarshal(entries[0], &evt))
	require.Equal(t, "settlement", evt.Type)

	var entry struct {
		Receipt   crypto.Receipt `json:"receipt"`
		Signature string         `json:"signature"`
		Signer    string         `json:"signer"`
	}
	require.NoError(t, json.Unmarshal(evt.Payload, &entry))
	require.Equal(t, int64(400), entry.Receipt.Price)
	require.Equal(t, int64(340), entry.Receipt.SellerShare)
	require.Equal(t, int64(60), entry.Receipt.PlatformShare)
	require.Equal(t, alice.Hex(), entry.Receipt.Winner)

	recovered, err := crypto.RecoverReceiptSigner(entry.Receipt, entry.Signature, 137)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), recovered)

	// Operator notified.
	require.Contains(t, f.notifier.events, "listing_settled")
}

func TestEndEnglishUnsoldSkipsJournal(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	id, err := f.svc.ListEnglish(ctx, f.seller, f.token, 200, 500, time.Hour)
	require.NoError(t, err)

	alice := domain.NewAccount()
	f.fund(t, alice, 250)
	_, err = f.svc.BidEnglish(ctx, id, alice, 250) // below reserve
	require.NoError(t, err)

	f.advance(time.Hour + time.Second)
	require.NoError(t, f.svc.EndEnglish(ctx, id, f.seller))

	require.Empty(t, f.bus.streams[domain.StreamSettlements])

	rec, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusEnded, rec.Status)
}

func TestBuyDutchSettles(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	id, err := f.svc.ListDutch(ctx, f.seller, f.token, 1000, 100, 8*time.Hour)
	require.NoError(t, err)

	price, err := f.svc.CurrentDutchPrice(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(1000), price)

	buyer := domain.NewAccount()
	f.fund(t, buyer, 1000)
	require.NoError(t, f.svc.BuyDutch(ctx, id, buyer, 1000))

	require.Len(t, f.bus.streams[domain.StreamSettlements], 1)

	rec, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusEnded, rec.Status)
}

func TestBidOfferingNotifies(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	id, err := f.svc.ListOffering(ctx, f.seller, f.token, 500)
	require.NoError(t, err)

	alice := domain.NewAccount()
	f.fund(t, alice, 450)
	bid, err := f.svc.BidOffering(ctx, id, alice, 450)
	require.NoError(t, err)

	require.Contains(t, f.notifier.events, "offering_bid")

	// Resolve and verify the journal entry follows.
	require.NoError(t, f.svc.ResolveOffering(ctx, id, bid.ID, f.seller))
	require.Len(t, f.bus.streams[domain.StreamSettlements], 1)
}

func TestGetListingByToken(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	id, err := f.svc.ListEnglish(ctx, f.seller, f.token, 200, 0, time.Hour)
	require.NoError(t, err)

	col := f.token.CollectionAddress()

	// Cache hit through the token index.
	rec, err := f.svc.GetListingByToken(ctx, col, f.token.TokenID)
	require.NoError(t, err)
	require.Equal(t, id, rec.ID)

	// Cache miss falls back to the engine and repopulates.
	require.NoError(t, f.cache.Invalidate(ctx, id))
	rec, err = f.svc.GetListingByToken(ctx, col, f.token.TokenID)
	require.NoError(t, err)
	require.Equal(t, id, rec.ID)

	_, err = f.svc.GetListingByToken(ctx, col, 999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelEvictsCache(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	id, err := f.svc.ListEnglish(ctx, f.seller, f.token, 200, 0, time.Hour)
	require.NoError(t, err)
	_, err = f.cache.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, id, f.seller))

	// The terminal listing is evicted so the token index frees up.
	_, err = f.cache.Get(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.cache.GetByToken(ctx, f.token.CollectionAddress(), f.token.TokenID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// The archive still records it.
	rec, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusCanceled, rec.Status)
}

func TestGetListingFallsBackToEngine(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	id, err := f.svc.ListEnglish(ctx, f.seller, f.token, 200, 0, time.Hour)
	require.NoError(t, err)

	// Drop the cache entry; the read repopulates it from the engine.
	require.NoError(t, f.cache.Invalidate(ctx, id))

	rec, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, rec.ID)

	_, err = f.cache.Get(ctx, id)
	require.NoError(t, err)
}
