package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/galleria-labs/galleria/internal/domain"
)

func TestDirectorSettingQuorum(t *testing.T) {
	f := newGroupFixture(t)

	txID, err := f.g.SubmitDirectorSetting(f.alice, f.bob)
	require.NoError(t, err)
	require.Equal(t, 0, txID)

	// Proposing does not vote; one confirmation is below quorum two.
	require.NoError(t, f.g.ConfirmDirectorSetting(f.alice, txID, true))
	require.ErrorIs(t, f.g.ExecuteDirectorSetting(f.alice, txID), domain.ErrQuorumNotReached)
	require.Equal(t, domain.ZeroAccount, f.g.Director())

	require.NoError(t, f.g.ConfirmDirectorSetting(f.carol, txID, true))
	require.NoError(t, f.g.ExecuteDirectorSetting(f.alice, txID))
	require.Equal(t, f.bob, f.g.Director())

	// One-shot.
	require.ErrorIs(t, f.g.ExecuteDirectorSetting(f.alice, txID), domain.ErrAlreadyExecuted)

	txs := f.g.DirectorTransactions()
	require.Len(t, txs, 1)
	require.True(t, txs[0].Executed)
	require.Equal(t, 2, txs[0].Approvals())
}

func TestDirectorCandidateMustBeMember(t *testing.T) {
	f := newGroupFixture(t)

	_, err := f.g.SubmitDirectorSetting(f.alice, domain.NewAccount())
	require.ErrorIs(t, err, domain.ErrNotMember)
	_, err = f.g.SubmitDirectorSetting(domain.NewAccount(), f.alice)
	require.ErrorIs(t, err, domain.ErrNotMember)
}

func TestVoteOncePerMember(t *testing.T) {
	f := newGroupFixture(t)

	txID, err := f.g.SubmitDirectorSetting(f.alice, f.bob)
	require.NoError(t, err)

	require.NoError(t, f.g.ConfirmDirectorSetting(f.alice, txID, true))
	require.ErrorIs(t, f.g.ConfirmDirectorSetting(f.alice, txID, true), domain.ErrAlreadyConfirmed)
	// A vote cannot be revised either.
	require.ErrorIs(t, f.g.ConfirmDirectorSetting(f.alice, txID, false), domain.ErrAlreadyConfirmed)

	require.ErrorIs(t, f.g.ConfirmDirectorSetting(domain.NewAccount(), txID, true), domain.ErrNotMember)
	require.ErrorIs(t, f.g.ConfirmDirectorSetting(f.bob, 7, true), domain.ErrNotFound)
}

func TestRejectingVotesAbstain(t *testing.T) {
	f := newGroupFixture(t)

	txID, err := f.g.SubmitDirectorSetting(f.alice, f.bob)
	require.NoError(t, err)

	// Two false votes record opposition but never veto or subtract.
	require.NoError(t, f.g.ConfirmDirectorSetting(f.alice, txID, false))
	require.NoError(t, f.g.ConfirmDirectorSetting(f.bob, txID, false))
	require.ErrorIs(t, f.g.ExecuteDirectorSetting(f.alice, txID), domain.ErrQuorumNotReached)

	// The remaining approval alone is still short of quorum two.
	require.NoError(t, f.g.ConfirmDirectorSetting(f.carol, txID, true))
	require.ErrorIs(t, f.g.ExecuteDirectorSetting(f.alice, txID), domain.ErrQuorumNotReached)
}

func TestDirectorCanBeReplaced(t *testing.T) {
	f := newGroupFixture(t)
	f.electDirector(t)
	require.Equal(t, f.alice, f.g.Director())

	txID, err := f.g.SubmitDirectorSetting(f.bob, f.bob)
	require.NoError(t, err)
	require.NoError(t, f.g.ConfirmDirectorSetting(f.bob, txID, true))
	require.NoError(t, f.g.ConfirmDirectorSetting(f.carol, txID, true))
	require.NoError(t, f.g.ExecuteDirectorSetting(f.carol, txID))
	require.Equal(t, f.bob, f.g.Director())
}

// Each offering bid automatically opens its own confirmation transaction in
// the offering queue, with an id space separate from director transactions.
func TestOfferingBidOpensConfirmation(t *testing.T) {
	f := newGroupFixture(t)
	idx := f.mint(t)

	// Occupy director tx id 0 to show the queues are independent.
	_, err := f.g.SubmitDirectorSetting(f.alice, f.bob)
	require.NoError(t, err)

	listingID, err := f.g.ListToOfferingSale(f.alice, idx, 500)
	require.NoError(t, err)

	b1 := domain.NewAccount()
	b2 := domain.NewAccount()
	f.fund(t, b1, 450)
	f.fund(t, b2, 600)

	bid1, err := f.mkt.BidOffering(listingID, b1, 450)
	require.NoError(t, err)
	bid2, err := f.mkt.BidOffering(listingID, b2, 600)
	require.NoError(t, err)

	txs := f.g.OfferingTransactions()
	require.Len(t, txs, 2)
	require.Equal(t, 0, txs[0].ID)
	require.Equal(t, domain.TxKindOfferingSale, txs[0].Kind)
	require.Equal(t, listingID, txs[0].ListingID)
	require.Equal(t, bid1.ID, txs[0].BidID)
	require.Equal(t, b1, txs[0].Proposer)
	require.Equal(t, bid2.ID, txs[1].BidID)
}

func TestExecuteOfferingSale(t *testing.T) {
	f := newGroupFixture(t)
	idx := f.mint(t)

	listingID, err := f.g.ListToOfferingSale(f.alice, idx, 500)
	require.NoError(t, err)

	b1 := domain.NewAccount()
	b2 := domain.NewAccount()
	f.fund(t, b1, 450)
	f.fund(t, b2, 600)
	_, err = f.mkt.BidOffering(listingID, b1, 450)
	require.NoError(t, err)
	_, err = f.mkt.BidOffering(listingID, b2, 600)
	require.NoError(t, err)

	// Confirm the first bid's transaction to quorum and execute it. The
	// group is free to accept the lower bid.
	require.NoError(t, f.g.ConfirmOfferingSale(f.alice, 0, true))
	require.ErrorIs(t, f.g.ExecuteOfferingSale(f.alice, 0), domain.ErrQuorumNotReached)
	require.NoError(t, f.g.ConfirmOfferingSale(f.bob, 0, true))
	require.NoError(t, f.g.ExecuteOfferingSale(f.alice, 0))

	ref, err := f.g.Token(idx)
	require.NoError(t, err)
	owner, err := ref.Collection.OwnerOf(ref.TokenID)
	require.NoError(t, err)
	require.Equal(t, b1, owner)

	require.ErrorIs(t, f.g.ExecuteOfferingSale(f.alice, 0), domain.ErrAlreadyExecuted)

	// The losing bid's transaction can no longer execute: the listing is
	// resolved, so the marketplace rejects it and it stays unexecuted.
	require.NoError(t, f.g.ConfirmOfferingSale(f.alice, 1, true))
	require.NoError(t, f.g.ConfirmOfferingSale(f.bob, 1, true))
	require.ErrorIs(t, f.g.ExecuteOfferingSale(f.alice, 1), domain.ErrListingNotActive)
	require.False(t, f.g.OfferingTransactions()[1].Executed)

	// The losing bidder withdraws from the marketplace directly.
	require.NoError(t, f.mkt.WithdrawOfferingBid(listingID, 1, b2))
	require.Equal(t, int64(600), f.ledger.BalanceOf(b2))
}
