package collection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/galleria-labs/galleria/internal/domain"
)

func TestMintAssignsSequentialIDs(t *testing.T) {
	c := New("Nature", "NAT", "landscapes")
	owner := domain.NewAccount()

	id1, err := c.Mint("ipfs://one", owner)
	require.NoError(t, err)
	id2, err := c.Mint("ipfs://two", owner)
	require.NoError(t, err)
	require.Equal(t, 1, id1)
	require.Equal(t, 2, id2)

	uri, err := c.TokenURI(id2)
	require.NoError(t, err)
	require.Equal(t, "ipfs://two", uri)

	got, err := c.OwnerOf(id1)
	require.NoError(t, err)
	require.Equal(t, owner, got)

	_, err = c.Mint("", owner)
	require.Error(t, err)
}

func TestBurnedIDsAreNeverReused(t *testing.T) {
	c := New("Nature", "NAT", "")
	owner := domain.NewAccount()

	id1, err := c.Mint("ipfs://one", owner)
	require.NoError(t, err)
	require.NoError(t, c.Burn(id1))

	_, err = c.OwnerOf(id1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, c.Burn(id1), domain.ErrNotFound)

	id2, err := c.Mint("ipfs://two", owner)
	require.NoError(t, err)
	require.Equal(t, 2, id2)
}

func TestTransferChecksOwner(t *testing.T) {
	c := New("Nature", "NAT", "")
	owner := domain.NewAccount()
	other := domain.NewAccount()

	id, err := c.Mint("ipfs://one", owner)
	require.NoError(t, err)

	require.ErrorIs(t, c.Transfer(id, other, owner), domain.ErrUnauthorized)
	require.NoError(t, c.Transfer(id, owner, other))

	got, err := c.OwnerOf(id)
	require.NoError(t, err)
	require.Equal(t, other, got)

	require.ErrorIs(t, c.Transfer(99, owner, other), domain.ErrNotFound)
}

func TestDistinctCollectionAddresses(t *testing.T) {
	a := New("A", "A", "")
	b := New("B", "B", "")
	require.NotEqual(t, a.Address(), b.Address())
	require.NotEqual(t, domain.ZeroAccount, a.Address())
}
