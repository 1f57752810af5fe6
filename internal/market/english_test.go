package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galleria-labs/galleria/internal/domain"
)

func TestEnglishAuctionLifecycle(t *testing.T) {
	f := newFixture(t)

	id, err := f.mkt.ListEnglish(f.seller, f.token, 200, 300, time.Hour)
	require.NoError(t, err)

	b1 := domain.NewAccount()
	b2 := domain.NewAccount()
	f.fund(t, b1, 350)
	f.fund(t, b2, 400)

	bid1, err := f.mkt.BidEnglish(id, b1, 350)
	require.NoError(t, err)
	require.Equal(t, domain.BidStatusActive, bid1.Status)
	require.Equal(t, int64(0), f.ledger.BalanceOf(b1))

	bid2, err := f.mkt.BidEnglish(id, b2, 400)
	require.NoError(t, err)
	require.Equal(t, 1, bid2.ID)

	// Outbidding refunds the previous highest bidder in full.
	require.Equal(t, int64(350), f.ledger.BalanceOf(b1))

	f.advance(time.Hour + time.Second)
	require.NoError(t, f.mkt.EndEnglish(id, f.seller))

	l, err := f.mkt.Listing(id)
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusEnded, l.Status)
	require.Equal(t, int64(340), f.mkt.SellerBalance(f.seller))
	require.Equal(t, int64(60), f.mkt.PlatformBalance())

	// The token stays with the seller until the winner claims it.
	owner, err := f.token.Collection.OwnerOf(f.token.TokenID)
	require.NoError(t, err)
	require.Equal(t, f.seller, owner)

	require.ErrorIs(t, f.mkt.ClaimEnglish(id, b1), domain.ErrUnauthorized)
	require.NoError(t, f.mkt.ClaimEnglish(id, b2))

	owner, err = f.token.Collection.OwnerOf(f.token.TokenID)
	require.NoError(t, err)
	require.Equal(t, b2, owner)

	require.ErrorIs(t, f.mkt.ClaimEnglish(id, b2), domain.ErrAlreadyClaimed)
}

func TestEnglishBidValidation(t *testing.T) {
	f := newFixture(t)

	id, err := f.mkt.ListEnglish(f.seller, f.token, 200, 300, time.Hour)
	require.NoError(t, err)

	bidder := domain.NewAccount()
	f.fund(t, bidder, 1000)

	// Below start price.
	_, err = f.mkt.BidEnglish(id, bidder, 150)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	_, err = f.mkt.BidEnglish(id, bidder, 350)
	require.NoError(t, err)

	// Equal to the highest bid is not enough.
	other := domain.NewAccount()
	f.fund(t, other, 350)
	_, err = f.mkt.BidEnglish(id, other, 350)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	// Bidding without funds fails with no state change.
	broke := domain.NewAccount()
	require.NoError(t, f.ledger.Approve(broke, f.mkt.EscrowAccount(), 1000))
	_, err = f.mkt.BidEnglish(id, broke, 500)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Bidding without an allowance fails too.
	rich := domain.NewAccount()
	f.ledger.Issue(rich, 1000)
	_, err = f.mkt.BidEnglish(id, rich, 500)
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	// After the end time no bids are accepted.
	f.advance(2 * time.Hour)
	_, err = f.mkt.BidEnglish(id, bidder, 600)
	require.ErrorIs(t, err, domain.ErrListingNotActive)
}

func TestEnglishEndBeforeExpiry(t *testing.T) {
	f := newFixture(t)

	id, err := f.mkt.ListEnglish(f.seller, f.token, 200, 300, time.Hour)
	require.NoError(t, err)

	require.ErrorIs(t, f.mkt.EndEnglish(id, f.seller), domain.ErrAuctionNotExpired)

	f.advance(59 * time.Minute)
	require.ErrorIs(t, f.mkt.EndEnglish(id, f.seller), domain.ErrAuctionNotExpired)

	f.advance(2 * time.Minute)
	require.ErrorIs(t, f.mkt.EndEnglish(id, domain.NewAccount()), domain.ErrUnauthorized)
	require.NoError(t, f.mkt.EndEnglish(id, f.seller))
}

func TestEnglishEndWithoutBids(t *testing.T) {
	f := newFixture(t)

	id, err := f.mkt.ListEnglish(f.seller, f.token, 200, 300, time.Hour)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	require.NoError(t, f.mkt.EndEnglish(id, f.seller))

	l, err := f.mkt.Listing(id)
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusEnded, l.Status)
	require.Equal(t, int64(0), f.mkt.SellerBalance(f.seller))

	// Nothing was won so there is nothing to claim.
	require.ErrorIs(t, f.mkt.ClaimEnglish(id, domain.NewAccount()), domain.ErrNotFound)

	// The token can be relisted.
	_, err = f.mkt.ListEnglish(f.seller, f.token, 200, 300, time.Hour)
	require.NoError(t, err)
}

func TestEnglishReserveNotMet(t *testing.T) {
	f := newFixture(t)

	id, err := f.mkt.ListEnglish(f.seller, f.token, 200, 300, time.Hour)
	require.NoError(t, err)

	bidder := domain.NewAccount()
	f.fund(t, bidder, 250)
	_, err = f.mkt.BidEnglish(id, bidder, 250)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	require.NoError(t, f.mkt.EndEnglish(id, f.seller))

	// The below-reserve bid is returned and no proceeds accrue.
	require.Equal(t, int64(250), f.ledger.BalanceOf(bidder))
	require.Equal(t, int64(0), f.mkt.SellerBalance(f.seller))
	require.Equal(t, int64(0), f.mkt.PlatformBalance())

	require.ErrorIs(t, f.mkt.ClaimEnglish(id, bidder), domain.ErrNotFound)
}

func TestEnglishWrongMechanism(t *testing.T) {
	f := newFixture(t)

	id, err := f.mkt.ListDutch(f.seller, f.token, 1000, 100, 8*time.Hour)
	require.NoError(t, err)

	bidder := domain.NewAccount()
	f.fund(t, bidder, 1000)
	_, err = f.mkt.BidEnglish(id, bidder, 500)
	require.ErrorIs(t, err, domain.ErrWrongMechanism)
	require.ErrorIs(t, f.mkt.EndEnglish(id, f.seller), domain.ErrWrongMechanism)
}
