package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/store"
	"github.com/pouladzade/bitrade/internal/testsupport"
)

func newWallet() *store.Wallet {
	return &store.Wallet{
		UserID: "alice", Asset: "USD",
		Available: money.Zero, Locked: money.Zero, Reserved: money.Zero,
		TotalDeposited: money.Zero, TotalWithdrawn: money.Zero,
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	ctx := context.Background()
	tx := testsupport.NewMemoryStore()
	l := New(tx)
	w := newWallet()

	require.NoError(t, l.Deposit(ctx, w, money.MustNew("100")))
	require.NoError(t, l.Withdraw(ctx, w, money.MustNew("100")))

	require.True(t, w.Available.IsZero8())
	require.True(t, w.TotalDeposited.Eq8(w.TotalWithdrawn))
}

func TestLockUnlockIsIdentity(t *testing.T) {
	ctx := context.Background()
	l := New(testsupport.NewMemoryStore())
	w := newWallet()
	require.NoError(t, l.Deposit(ctx, w, money.MustNew("50")))

	require.NoError(t, l.Lock(ctx, w, money.MustNew("20")))
	require.NoError(t, l.Unlock(ctx, w, money.MustNew("20")))

	require.True(t, w.Available.Eq8(money.MustNew("50")))
	require.True(t, w.Locked.IsZero8())
}

func TestWithdrawInsufficientFundsFails(t *testing.T) {
	ctx := context.Background()
	l := New(testsupport.NewMemoryStore())
	w := newWallet()

	err := l.Withdraw(ctx, w, money.MustNew("1"))
	require.ErrorIs(t, err, store.ErrInvariant)
}

func TestLockInsufficientFundsFails(t *testing.T) {
	ctx := context.Background()
	l := New(testsupport.NewMemoryStore())
	w := newWallet()
	require.NoError(t, l.Deposit(ctx, w, money.MustNew("10")))

	err := l.Lock(ctx, w, money.MustNew("11"))
	require.ErrorIs(t, err, store.ErrInvariant)
}

func TestNonPositiveAmountRejected(t *testing.T) {
	ctx := context.Background()
	l := New(testsupport.NewMemoryStore())
	w := newWallet()

	require.ErrorIs(t, l.Deposit(ctx, w, money.Zero), store.ErrInvariant)
	require.ErrorIs(t, l.Deposit(ctx, w, money.MustNew("-1")), store.ErrInvariant)
}

func TestSettleDebitLockedNeverNegative(t *testing.T) {
	ctx := context.Background()
	l := New(testsupport.NewMemoryStore())
	w := newWallet()
	require.NoError(t, l.Deposit(ctx, w, money.MustNew("10")))
	require.NoError(t, l.Lock(ctx, w, money.MustNew("10")))

	require.NoError(t, l.SettleDebitLocked(ctx, w, money.MustNew("10")))
	require.True(t, w.Locked.IsZero8())

	err := l.SettleDebitLocked(ctx, w, money.MustNew("1"))
	require.ErrorIs(t, err, store.ErrInvariant)
}
