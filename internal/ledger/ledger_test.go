package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/galleria-labs/galleria/internal/domain"
)

func TestTransfer(t *testing.T) {
	l := New()
	a := domain.NewAccount()
	b := domain.NewAccount()

	l.Issue(a, 100)
	require.Equal(t, int64(100), l.BalanceOf(a))

	require.NoError(t, l.Transfer(a, b, 60))
	require.Equal(t, int64(40), l.BalanceOf(a))
	require.Equal(t, int64(60), l.BalanceOf(b))

	require.ErrorIs(t, l.Transfer(a, b, 41), domain.ErrInsufficientFunds)
	require.ErrorIs(t, l.Transfer(a, b, -1), domain.ErrInvalidAmount)

	// Failed transfers leave balances untouched.
	require.Equal(t, int64(40), l.BalanceOf(a))
	require.Equal(t, int64(60), l.BalanceOf(b))
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := New()
	owner := domain.NewAccount()
	spender := domain.NewAccount()
	dest := domain.NewAccount()

	l.Issue(owner, 100)

	// No allowance yet.
	require.ErrorIs(t, l.TransferFrom(spender, owner, dest, 10), domain.ErrInsufficientAllowance)

	require.NoError(t, l.Approve(owner, spender, 50))
	require.Equal(t, int64(50), l.Allowance(owner, spender))

	require.NoError(t, l.TransferFrom(spender, owner, dest, 30))
	require.Equal(t, int64(70), l.BalanceOf(owner))
	require.Equal(t, int64(30), l.BalanceOf(dest))
	require.Equal(t, int64(20), l.Allowance(owner, spender))

	// Remaining allowance caps further spending.
	require.ErrorIs(t, l.TransferFrom(spender, owner, dest, 21), domain.ErrInsufficientAllowance)
}

func TestTransferFromChecksBalance(t *testing.T) {
	l := New()
	owner := domain.NewAccount()
	spender := domain.NewAccount()

	require.NoError(t, l.Approve(owner, spender, 50))
	err := l.TransferFrom(spender, owner, spender, 50)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Allowance is untouched when the balance check fails.
	require.Equal(t, int64(50), l.Allowance(owner, spender))
}

func TestApproveOverwrites(t *testing.T) {
	l := New()
	owner := domain.NewAccount()
	spender := domain.NewAccount()

	require.NoError(t, l.Approve(owner, spender, 50))
	require.NoError(t, l.Approve(owner, spender, 10))
	require.Equal(t, int64(10), l.Allowance(owner, spender))

	require.ErrorIs(t, l.Approve(owner, spender, -1), domain.ErrInvalidAmount)
}
