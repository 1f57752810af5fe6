package domain

import "time"

// Mechanism identifies the sale mechanism a listing runs under.
type Mechanism string

const (
	MechanismEnglish  Mechanism = "english"
	MechanismDutch    Mechanism = "dutch"
	MechanismOffering Mechanism = "offering"
)

// ListingStatus tracks the listing lifecycle. Transitions are forward-only:
// Active -> Ended or Active -> Canceled, both terminal.
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusEnded    ListingStatus = "ended"
	ListingStatusCanceled ListingStatus = "canceled"
)

// BidStatus tracks a single bid's lifecycle.
type BidStatus string

const (
	BidStatusActive   BidStatus = "active"
	BidStatusOutbid   BidStatus = "outbid"
	BidStatusRefunded BidStatus = "refunded"
	BidStatusWon      BidStatus = "won"
)

// Bid is a buyer's offer on a listing. The amount is escrowed on the payment
// ledger from the moment the bid is accepted until it is refunded or won.
type Bid struct {
	ID        int       `json:"id"`
	ListingID int64     `json:"listing_id"`
	Bidder    Account   `json:"bidder"`
	Amount    int64     `json:"amount"`
	Status    BidStatus `json:"status"`
	PlacedAt  time.Time `json:"placed_at"`
}

// Listing is a token offered for sale through one of the three mechanisms.
// Mechanism-specific parameters share the struct; only the fields relevant to
// the listing's mechanism are populated.
type Listing struct {
	ID        int64
	Seller    Account // owning group
	Token     TokenRef
	Mechanism Mechanism
	Status    ListingStatus
	ListedAt  time.Time

	// English: ascending bids until EndTime; highest bid at or above the
	// reserve wins. Dutch: price decays linearly from StartPrice to EndPrice
	// over Duration. Offering: AskPrice is advisory only.
	StartPrice   int64
	ReservePrice int64
	EndPrice     int64
	AskPrice     int64
	Duration     time.Duration
	EndTime      time.Time

	Bids []Bid

	// Claimed is set once the English winner has collected the token.
	Claimed bool
}

// HighestBid returns the current highest active bid, or nil when no bid has
// been placed. English bids are strictly increasing, so the last active bid
// is always the highest.
func (l *Listing) HighestBid() *Bid {
	for i := len(l.Bids) - 1; i >= 0; i-- {
		if l.Bids[i].Status == BidStatusActive || l.Bids[i].Status == BidStatusWon {
			return &l.Bids[i]
		}
	}
	return nil
}

// TokenRef points at a token inside a concrete collection.
type TokenRef struct {
	Collection Collection
	TokenID    int
}

// CollectionAddress returns the collection's ledger address, or the zero
// account when the reference is empty.
func (t TokenRef) CollectionAddress() Account {
	if t.Collection == nil {
		return ZeroAccount
	}
	return t.Collection.Address()
}

// ListingRecord is the flat, serializable projection of a Listing used by
// the archive store, the cache, and the HTTP API. The in-memory Collection
// reference is reduced to its ledger address.
type ListingRecord struct {
	ID         int64         `json:"id"`
	Seller     Account       `json:"seller"`
	Collection Account       `json:"collection"`
	TokenID    int           `json:"token_id"`
	Mechanism  Mechanism     `json:"mechanism"`
	Status     ListingStatus `json:"status"`
	ListedAt   time.Time     `json:"listed_at"`

	StartPrice   int64     `json:"start_price"`
	ReservePrice int64     `json:"reserve_price"`
	EndPrice     int64     `json:"end_price"`
	AskPrice     int64     `json:"ask_price"`
	DurationSec  int64     `json:"duration_sec"`
	EndTime      time.Time `json:"end_time"`

	Bids    []Bid `json:"bids,omitempty"`
	Claimed bool  `json:"claimed"`
}

// Record flattens the listing for storage and transport.
func (l Listing) Record() ListingRecord {
	bids := make([]Bid, len(l.Bids))
	copy(bids, l.Bids)
	return ListingRecord{
		ID:           l.ID,
		Seller:       l.Seller,
		Collection:   l.Token.CollectionAddress(),
		TokenID:      l.Token.TokenID,
		Mechanism:    l.Mechanism,
		Status:       l.Status,
		ListedAt:     l.ListedAt,
		StartPrice:   l.StartPrice,
		ReservePrice: l.ReservePrice,
		EndPrice:     l.EndPrice,
		AskPrice:     l.AskPrice,
		DurationSec:  int64(l.Duration / time.Second),
		EndTime:      l.EndTime,
		Bids:         bids,
		Claimed:      l.Claimed,
	}
}

// SettledSale reports one completed sale to the selling group when it sweeps
// its marketplace balance.
type SettledSale struct {
	ListingID     int64
	Mechanism     Mechanism
	Winner        Account
	Price         int64 // full purchase price
	SellerShare   int64
	PlatformShare int64
	SettledAt     time.Time
}
